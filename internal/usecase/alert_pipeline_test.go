package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory SymbolStore.
type memStore struct {
	mu   sync.Mutex
	data map[string][]models.Record
}

func newMemStore() *memStore { return &memStore{data: map[string][]models.Record{}} }

func (m *memStore) WriteBootstrap(_ context.Context, symbol string, recs []models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[symbol] = append([]models.Record(nil), recs...)
	return nil
}

func (m *memStore) Append(_ context.Context, symbol string, r models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[symbol] = append(m.data[symbol], r)
	return nil
}

func (m *memStore) ReadAll(_ context.Context, symbol string) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.data[symbol]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", symbol, fs.ErrNotExist)
	}
	return append([]models.Record(nil), recs...), nil
}

func (m *memStore) LastTimestamp(_ context.Context, symbol string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.data[symbol]
	if len(recs) == 0 {
		return 0, false, nil
	}
	return recs[len(recs)-1].Timestamp, true, nil
}

func (m *memStore) Symbols(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for s := range m.data {
		out = append(out, s)
	}
	return out, nil
}

// fixedScorer returns a preset value per symbol.
type fixedScorer struct {
	values    map[string]float64
	threshold float64
	windows   map[string][][]float64
	err       error
}

func (f *fixedScorer) Score(_ context.Context, symbol string, w [][]float64) (models.Score, error) {
	if f.err != nil {
		return models.Score{}, f.err
	}
	if f.windows == nil {
		f.windows = map[string][][]float64{}
	}
	f.windows[symbol] = w
	v := f.values[symbol]
	return models.Score{Symbol: symbol, Value: v, Metric: "cosine", Rows: len(w), Breached: v >= f.threshold}, nil
}

func (f *fixedScorer) Threshold() float64 { return f.threshold }

type recordingNotifier struct {
	msgs []string
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, msg string) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

type recordingPublisher struct{ alerts []models.Alert }

func (r *recordingPublisher) PublishAlert(_ context.Context, a models.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func seededStore(t *testing.T, n int, symbols ...string) *memStore {
	t.Helper()
	st := newMemStore()
	for _, s := range symbols {
		recs := make([]models.Record, n)
		for i := range recs {
			recs[i] = syntheticRecord(int64(i+1)*tick, float64(100+i))
		}
		require.NoError(t, st.WriteBootstrap(context.Background(), s, recs))
	}
	return st
}

func TestBreachNotifiesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t, 250, "BTCUSDT", "ETHUSDT")
	scorer := &fixedScorer{values: map[string]float64{"BTCUSDT": 0.97, "ETHUSDT": 0.80}, threshold: 0.95}
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}

	p, err := NewAlertPipeline(store, StaticSymbols{"BTCUSDT", "ETHUSDT"}, scorer, AlertConfig{SequenceLength: 200},
		WithNotifier(notifier), WithAlertPublisher(pub))
	require.NoError(t, err)

	rep, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scored)
	assert.Equal(t, 1, rep.Breached)
	assert.Equal(t, []string{"BTCUSDT @ 0.9700 cosine (threshold 0.95)"}, notifier.msgs)
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "BTCUSDT", pub.alerts[0].Symbol)

	// The condition is sustained: every_cycle alerts again.
	_, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, notifier.msgs, 2)

	latest := p.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "BTCUSDT", latest[0].Symbol)
	assert.Equal(t, 0.80, latest[1].Value)
}

func TestScoredWindowIsLatestNormalizedTail(t *testing.T) {
	store := seededStore(t, 230, "BTCUSDT")
	scorer := &fixedScorer{threshold: 0.95}
	p, err := NewAlertPipeline(store, StaticSymbols{"BTCUSDT"}, scorer, AlertConfig{SequenceLength: 200})
	require.NoError(t, err)

	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	w := scorer.windows["BTCUSDT"]
	require.Len(t, w, 200)
	closeCol := 5
	assert.Equal(t, 0.0, w[0][closeCol])
	assert.Equal(t, 1.0, w[199][closeCol])
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t, 200, "BTCUSDT")
	scorer := &fixedScorer{values: map[string]float64{"BTCUSDT": 0.99}, threshold: 0.95}
	notifier := &recordingNotifier{}
	mc := cache.NewMemoryCache()
	defer mc.Close()

	p, err := NewAlertPipeline(store, StaticSymbols{"BTCUSDT"}, scorer,
		AlertConfig{SequenceLength: 200, Repeat: RepeatCooldown, Cooldown: time.Hour},
		WithNotifier(notifier), WithAlertLocker(mc))
	require.NoError(t, err)

	_, err = p.RunOnce(ctx)
	require.NoError(t, err)
	rep, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Suppressed)
	assert.Len(t, notifier.msgs, 1)
}

func TestCooldownNeedsLock(t *testing.T) {
	_, err := NewAlertPipeline(newMemStore(), StaticSymbols{}, &fixedScorer{}, AlertConfig{Repeat: RepeatCooldown, Cooldown: time.Minute})
	assert.Error(t, err)
	_, err = NewAlertPipeline(newMemStore(), StaticSymbols{}, &fixedScorer{}, AlertConfig{Repeat: "sometimes"})
	assert.Error(t, err)
}

func TestShortHistoryAndMissingStoreAreSkipped(t *testing.T) {
	store := seededStore(t, 150, "BTCUSDT")
	notifier := &recordingNotifier{}
	p, err := NewAlertPipeline(store, StaticSymbols{"BTCUSDT", "NEWUSDT"},
		&fixedScorer{values: map[string]float64{"BTCUSDT": 1}, threshold: 0.95},
		AlertConfig{SequenceLength: 200}, WithNotifier(notifier))
	require.NoError(t, err)

	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Zero(t, rep.Scored)
	assert.Empty(t, notifier.msgs)
}

func TestNotifierFailureDoesNotStopPass(t *testing.T) {
	store := seededStore(t, 200, "AAAUSDT", "BBBUSDT")
	notifier := &recordingNotifier{err: errors.New("webhook down")}
	p, err := NewAlertPipeline(store, StaticSymbols{"AAAUSDT", "BBBUSDT"},
		&fixedScorer{values: map[string]float64{"AAAUSDT": 0.99, "BBBUSDT": 0.99}, threshold: 0.95},
		AlertConfig{SequenceLength: 200}, WithNotifier(notifier))
	require.NoError(t, err)

	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Breached)
	assert.Equal(t, 2, rep.Failed)
	assert.Len(t, notifier.msgs, 2)
}

func TestScorerErrorIsCounted(t *testing.T) {
	store := seededStore(t, 200, "BTCUSDT")
	p, err := NewAlertPipeline(store, StaticSymbols{"BTCUSDT"},
		&fixedScorer{err: fmt.Errorf("%w: timeout", models.ErrScorer), threshold: 0.95}, AlertConfig{SequenceLength: 200})
	require.NoError(t, err)
	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
}

func TestFormatAlert(t *testing.T) {
	msg := FormatAlert(models.Alert{Symbol: "SOLUSDT", Value: 98.12346, Metric: "mse", Threshold: 97.5})
	assert.Equal(t, "SOLUSDT @ 98.1235 mse (threshold 97.5)", msg)
}

func TestLatestWindowRejectsWithheldCells(t *testing.T) {
	recs := flatSeries(5)
	recs[4].Close.Valid = false
	_, err := LatestWindow(recs, 3)
	assert.ErrorIs(t, err, models.ErrMalformedWindow)
	_, err = LatestWindow(recs, 6)
	assert.ErrorIs(t, err, models.ErrNotEnoughHistory)
}
