package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/repository"
	xlogger "OIWatch/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = int64(5 * 60 * 1000)

// fakeSource serves the last `limit` ticks of a per-symbol history.
type fakeSource struct {
	mu      sync.Mutex
	history map[string][]models.Record
	oiErr   map[string]error
	panics  map[string]bool
	blocks  map[string]bool
	limits  map[string][]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		history: map[string][]models.Record{},
		oiErr:   map[string]error{},
		panics:  map[string]bool{},
		blocks:  map[string]bool{},
		limits:  map[string][]int{},
	}
}

func (f *fakeSource) setHistory(symbol string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]models.Record, n)
	for i := range recs {
		recs[i] = syntheticRecord(int64(i+1)*tick, float64(100+i))
	}
	f.history[symbol] = recs
}

func (f *fakeSource) push(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[symbol]
	next := int64(len(h)+1) * tick
	f.history[symbol] = append(h, syntheticRecord(next, float64(100+len(h))))
}

func (f *fakeSource) tail(symbol string, limit int) []models.Record {
	h := f.history[symbol]
	if limit < len(h) {
		h = h[len(h)-limit:]
	}
	return h
}

func (f *fakeSource) FetchOpenInterest(ctx context.Context, symbol string, limit int) ([]models.OpenInterestPoint, error) {
	f.mu.Lock()
	f.limits[symbol] = append(f.limits[symbol], limit)
	panics, blocks, err := f.panics[symbol], f.blocks[symbol], f.oiErr[symbol]
	tail := f.tail(symbol, limit)
	f.mu.Unlock()

	if panics {
		panic("source exploded")
	}
	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, models.ErrNoData
	}
	out := make([]models.OpenInterestPoint, len(tail))
	for i, r := range tail {
		out[i] = models.OpenInterestPoint{
			Timestamp:            r.Timestamp,
			SumOpenInterest:      decimal.NewNullDecimal(decimal.NewFromInt(r.SumOpenInterest)),
			SumOpenInterestValue: r.SumOpenInterestValue,
		}
	}
	return out, nil
}

func (f *fakeSource) FetchKlines(_ context.Context, symbol string, limit int) ([]models.Kline, error) {
	f.mu.Lock()
	tail := f.tail(symbol, limit)
	f.mu.Unlock()
	if len(tail) == 0 {
		return nil, models.ErrNoData
	}
	out := make([]models.Kline, len(tail))
	for i, r := range tail {
		out[i] = models.Kline{
			OpenTime: r.Timestamp, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, QuoteVolume: r.QuoteVolume, Count: r.Count,
			TakerBuyVolume: r.TakerBuyVolume, TakerBuyQuoteVolume: r.TakerBuyQuoteVolume,
		}
	}
	return out, nil
}

func (f *fakeSource) requested(symbol string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.limits[symbol]...)
}

func syntheticRecord(ts int64, close float64) models.Record {
	c := decimal.NewFromFloat(close)
	vol := decimal.NewFromInt(10)
	tbv := decimal.NewFromInt(6)
	return models.Record{
		Timestamp:            ts,
		Symbol:               "",
		SumOpenInterest:      1000 + ts/tick,
		SumOpenInterestValue: decimal.NewNullDecimal(decimal.NewFromInt(5000 + ts/tick)),
		Open:                 decimal.NewNullDecimal(c),
		High:                 decimal.NewNullDecimal(c.Add(decimal.NewFromInt(1))),
		Low:                  decimal.NewNullDecimal(c.Sub(decimal.NewFromInt(1))),
		Close:                decimal.NewNullDecimal(c),
		Volume:               decimal.NewNullDecimal(vol),
		QuoteVolume:          decimal.NewNullDecimal(vol.Mul(c)),
		Count:                7,
		TakerBuyVolume:       decimal.NewNullDecimal(tbv),
		TakerBuyQuoteVolume:  decimal.NewNullDecimal(tbv.Mul(c)),
		VolumeDelta:          decimal.NewNullDecimal(decimal.NewFromInt(2)),
	}
}

func newTestScheduler(t *testing.T, src *fakeSource, symbols ...string) (*FetchScheduler, *repository.CSVStore) {
	t.Helper()
	store := repository.NewCSVStore(t.TempDir(), nil)
	s := NewFetchScheduler(src, store, StaticSymbols(symbols), NewBootstrapState(), SchedulerConfig{
		Workers: 2, CycleDelay: time.Hour, TaskTimeout: time.Second, BootstrapLookback: 200,
	})
	return s, store
}

func TestBootstrapThenIncrement(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setHistory("BTCUSDT", 250)
	s, store := newTestScheduler(t, src, "BTCUSDT")

	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bootstrapped)
	recs, err := store.ReadAll(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 200)
	assert.Equal(t, 51*tick, recs[0].Timestamp)

	src.push("BTCUSDT")
	rep, err = s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Appended)
	recs, err = store.ReadAll(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 201)
	assert.Equal(t, 251*tick, recs[200].Timestamp)

	assert.Equal(t, []int{200, 1}, src.requested("BTCUSDT"))
	last, ok := s.State().Lookup("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 251*tick, last)
}

func TestBoundaryTickIsNotAppendedTwice(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setHistory("BTCUSDT", 10)
	s, store := newTestScheduler(t, src, "BTCUSDT")

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path("BTCUSDT"))
	require.NoError(t, err)

	// No new tick: the source still answers with the already stored one.
	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	after, err := os.ReadFile(store.Path("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAbsentOpenInterestLeavesStoreByteIdentical(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setHistory("BTCUSDT", 20)
	s, store := newTestScheduler(t, src, "BTCUSDT")

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path("BTCUSDT"))
	require.NoError(t, err)

	src.push("BTCUSDT")
	src.oiErr["BTCUSDT"] = models.ErrNoData
	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.ErrorIs(t, rep.Results[0].Err, models.ErrNoData)

	after, err := os.ReadFile(store.Path("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBootstrapWithoutDataStaysUnseen(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	s, store := newTestScheduler(t, src, "NEWUSDT")

	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	_, ok := s.State().Lookup("NEWUSDT")
	assert.False(t, ok)
	_, err = os.Stat(store.Path("NEWUSDT"))
	assert.True(t, os.IsNotExist(err))

	src.setHistory("NEWUSDT", 5)
	rep, err = s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bootstrapped)
	assert.Equal(t, []int{200, 200}, src.requested("NEWUSDT"), "retried with the bootstrap limit")
}

func TestRestartRebootstrapsToSameContent(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setHistory("BTCUSDT", 300)
	s, store := newTestScheduler(t, src, "BTCUSDT")

	_, err := s.RunCycle(ctx)
	require.NoError(t, err)
	src.push("BTCUSDT")
	_, err = s.RunCycle(ctx)
	require.NoError(t, err)

	// A restarted process starts from an empty bootstrap table on the same store.
	restarted := NewFetchScheduler(src, store, StaticSymbols{"BTCUSDT"}, NewBootstrapState(), SchedulerConfig{Workers: 1, BootstrapLookback: 200})
	rep, err := restarted.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bootstrapped)

	recs, err := store.ReadAll(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 200)
	assert.Len(t, repository.DedupRecords(recs), 200, "no duplicate timestamps")
	assert.Equal(t, 301*tick, recs[199].Timestamp)

	fresh := repository.NewCSVStore(t.TempDir(), nil)
	require.NoError(t, fresh.WriteBootstrap(ctx, "BTCUSDT", recs))
	a, err := os.ReadFile(store.Path("BTCUSDT"))
	require.NoError(t, err)
	b, err := os.ReadFile(fresh.Path("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOneTaskFailureDoesNotAffectOthers(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	for _, s := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"} {
		src.setHistory(s, 5)
	}
	src.panics["BBBUSDT"] = true
	src.oiErr["CCCUSDT"] = errors.New("connection reset")
	src.blocks["DDDUSDT"] = true

	store := repository.NewCSVStore(t.TempDir(), nil)
	s := NewFetchScheduler(src, store, StaticSymbols{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"}, nil,
		SchedulerConfig{Workers: 4, TaskTimeout: 50 * time.Millisecond})

	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Symbols)
	assert.Equal(t, 1, rep.Bootstrapped)
	assert.Equal(t, 3, rep.Failed)

	byName := map[string]TaskResult{}
	for _, r := range rep.Results {
		byName[r.Symbol] = r
	}
	assert.Equal(t, OutcomeBootstrapped, byName["AAAUSDT"].Outcome)
	assert.Contains(t, byName["BBBUSDT"].Error, "panic")
	assert.Equal(t, OutcomeFailed, byName["CCCUSDT"].Outcome)
	assert.ErrorIs(t, byName["DDDUSDT"].Err, context.DeadlineExceeded)
}

func TestMissingStoreDirFailsWithoutStateChange(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.setHistory("BTCUSDT", 5)
	store := repository.NewCSVStore(t.TempDir()+"/absent", nil)
	s := NewFetchScheduler(src, store, StaticSymbols{"BTCUSDT"}, nil, SchedulerConfig{})

	rep, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.ErrorIs(t, rep.Results[0].Err, models.ErrStoreDirMissing)
	assert.Zero(t, s.State().Len())
}

func TestRunInvokesHooksAndStopsOnCancel(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", 5)
	store := repository.NewCSVStore(t.TempDir(), nil)
	s := NewFetchScheduler(src, store, StaticSymbols{"BTCUSDT"}, nil, SchedulerConfig{CycleDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var cycles []CycleReport
	s.AfterCycle(func(_ context.Context, r CycleReport) {
		cycles = append(cycles, r)
		if len(cycles) == 3 {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.Len(t, cycles, 3)
	assert.Equal(t, 1, cycles[0].Bootstrapped)
	assert.Equal(t, 1, cycles[1].Skipped)
	last, ok := s.LastReport()
	assert.True(t, ok)
	assert.Equal(t, cycles[2].Started, last.Started)
}

func TestBootstrapStateIsMonotonic(t *testing.T) {
	b := NewBootstrapState()
	b.MarkBootstrapped("BTCUSDT", 200)
	b.MarkBootstrapped("BTCUSDT", 100)
	ts, ok := b.Lookup("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, int64(200), ts)
	b.MarkBootstrapped("ETHUSDT", 5)
	assert.Equal(t, []SymbolState{
		{Symbol: "BTCUSDT", Bootstrapped: true, LastTimestamp: 200},
		{Symbol: "ETHUSDT", Bootstrapped: true, LastTimestamp: 5},
	}, b.Snapshot())
}

func TestSymbolSources(t *testing.T) {
	ctx := context.Background()
	syms, err := StaticSymbols{"ethusdt", " BTCUSDT", "", "BTCUSDT"}.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, syms)

	store := repository.NewCSVStore(t.TempDir(), nil)
	require.NoError(t, store.Append(ctx, "SOLUSDT", syntheticRecord(tick, 1)))
	src, err := NewSymbolSource("store", nil, store, nil)
	require.NoError(t, err)
	syms, err = src.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, syms)

	_, err = NewSymbolSource("exchange", nil, store, nil)
	assert.Error(t, err)
	_, err = NewSymbolSource("ftp", nil, store, nil)
	assert.Error(t, err)
}

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordCycle(float64)                 {}
func (m *countingMetrics) RecordTask(string)                   {}
func (m *countingMetrics) RecordScore(string, string, float64) {}
func (m *countingMetrics) RecordAlert(string)                  {}
func (m *countingMetrics) RecordLatency(string, float64)       {}
func (m *countingMetrics) SetBootstrapped(int)                 {}

func (m *countingMetrics) RecordError(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[category]++
}

func TestWithheldVolumeDeltaIsReported(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", 3)
	src.history["BTCUSDT"][1].Volume = decimal.NullDecimal{}

	logPath := filepath.Join(t.TempDir(), "fetch.log")
	l, err := xlogger.New(&xlogger.Config{Level: "debug", Format: "json", Output: logPath})
	require.NoError(t, err)
	m := &countingMetrics{}

	store := repository.NewCSVStore(t.TempDir(), nil)
	s := NewFetchScheduler(src, store, StaticSymbols{"BTCUSDT"}, NewBootstrapState(), SchedulerConfig{
		Workers: 1, CycleDelay: time.Hour, TaskTimeout: time.Second,
	}, WithSchedulerLogger(l), WithSchedulerMetrics(m))

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bootstrapped)

	recs, err := store.ReadAll(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.False(t, recs[1].VolumeDelta.Valid)

	assert.Equal(t, 1, m.errors[models.CategoryMalformed])

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "volume_delta withheld" {
			found = true
			assert.Equal(t, "BTCUSDT", entry["symbol"])
			assert.Equal(t, models.CategoryMalformed, entry["category"])
			assert.Equal(t, 1.0, entry["records"])
		}
	}
	assert.True(t, found, string(data))
}
