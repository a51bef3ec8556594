package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"OIWatch/internal/domain/models"
	drepo "OIWatch/internal/domain/repository"
	xlogger "OIWatch/pkg/logger"
)

// TaskOutcome is the result class of one symbol task.
type TaskOutcome string

const (
	OutcomeBootstrapped TaskOutcome = "bootstrapped"
	OutcomeAppended     TaskOutcome = "appended"
	OutcomeSkipped      TaskOutcome = "skipped"
	OutcomeFailed       TaskOutcome = "failed"
)

// TaskResult captures what happened to one symbol in a cycle.
type TaskResult struct {
	Symbol   string        `json:"symbol"`
	Outcome  TaskOutcome   `json:"outcome"`
	Records  int           `json:"records"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CycleReport summarizes one fetch cycle.
type CycleReport struct {
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Symbols      int           `json:"symbols"`
	Bootstrapped int           `json:"bootstrapped"`
	Appended     int           `json:"appended"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Results      []TaskResult  `json:"results"`
}

func (r *CycleReport) add(res TaskResult) {
	switch res.Outcome {
	case OutcomeBootstrapped:
		r.Bootstrapped++
	case OutcomeAppended:
		r.Appended++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// CycleHook runs after every completed cycle.
type CycleHook func(ctx context.Context, report CycleReport)

// SchedulerConfig holds the fetch cadence and pool sizing.
type SchedulerConfig struct {
	Workers           int
	CycleDelay        time.Duration
	TaskTimeout       time.Duration
	BootstrapLookback int
	MergePolicy       MergePolicy
}

// FetchScheduler keeps every tracked symbol's store current.
// Unseen symbols get a full bootstrap write, bootstrapped ones get one tick appended per cycle.
type FetchScheduler struct {
	source  drepo.DataSource
	store   drepo.SymbolStore
	symbols drepo.SymbolSource
	state   *BootstrapState
	cfg     SchedulerConfig

	mirror  drepo.RecordMirror
	metrics drepo.Metrics
	logger  *xlogger.Logger

	hookMu sync.RWMutex
	hooks  []CycleHook

	lastMu sync.RWMutex
	last   *CycleReport
}

// SchedulerOption configures FetchScheduler.
type SchedulerOption func(*FetchScheduler)

// WithMirror copies every stored batch to m. Mirror failures never fail a task.
func WithMirror(m drepo.RecordMirror) SchedulerOption {
	return func(s *FetchScheduler) { s.mirror = m }
}

func WithSchedulerMetrics(m drepo.Metrics) SchedulerOption {
	return func(s *FetchScheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithSchedulerLogger(l *xlogger.Logger) SchedulerOption {
	return func(s *FetchScheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFetchScheduler creates a scheduler. Zero config values fall back to 4 workers,
// a 300s cycle, a 60s task timeout and a 200 record bootstrap.
func NewFetchScheduler(source drepo.DataSource, store drepo.SymbolStore, symbols drepo.SymbolSource, state *BootstrapState, cfg SchedulerConfig, opts ...SchedulerOption) *FetchScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = 300 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.BootstrapLookback <= 0 {
		cfg.BootstrapLookback = 200
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = MergeDrop
	}
	if state == nil {
		state = NewBootstrapState()
	}
	s := &FetchScheduler{
		source:  source,
		store:   store,
		symbols: symbols,
		state:   state,
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  xlogger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(xlogger.String("component", "fetch_scheduler"))
	return s
}

// AfterCycle registers a hook run after every cycle, in registration order.
func (s *FetchScheduler) AfterCycle(h CycleHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

// State returns the bootstrap table.
func (s *FetchScheduler) State() *BootstrapState { return s.state }

// LastReport returns the most recent cycle report, if any.
func (s *FetchScheduler) LastReport() (CycleReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Run executes cycles until ctx is done. The next cycle starts CycleDelay after the
// previous one started, or immediately when a cycle overran.
func (s *FetchScheduler) Run(ctx context.Context) error {
	s.logger.Info("fetch scheduler started",
		xlogger.Int("workers", s.cfg.Workers),
		xlogger.Duration("cycle_delay", s.cfg.CycleDelay),
		xlogger.Int("bootstrap_lookback", s.cfg.BootstrapLookback),
	)
	for {
		start := time.Now()
		report, err := s.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("fetch cycle failed", xlogger.Error(err))
		}
		if ctx.Err() != nil {
			s.logger.Info("fetch scheduler stopped")
			return nil
		}
		if err == nil {
			s.runHooks(ctx, report)
		}

		wait := s.cfg.CycleDelay - time.Since(start)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("fetch scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (s *FetchScheduler) runHooks(ctx context.Context, report CycleReport) {
	s.hookMu.RLock()
	hooks := append([]CycleHook(nil), s.hooks...)
	s.hookMu.RUnlock()
	for _, h := range hooks {
		if ctx.Err() != nil {
			return
		}
		h(ctx, report)
	}
}

// RunCycle fetches every tracked symbol once on the worker pool and waits for all tasks.
func (s *FetchScheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{Started: start.UTC()}
	symbols, err := s.symbols.Symbols(ctx)
	if err != nil {
		return report, fmt.Errorf("resolve symbols: %w", err)
	}
	report.Symbols = len(symbols)
	results := make([]TaskResult, len(symbols))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers && w < len(symbols); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.runTask(ctx, symbols[i])
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range symbols {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			dispatched++
		}
	}
	close(jobs)
	wg.Wait()

	for i := dispatched; i < len(symbols); i++ {
		results[i] = TaskResult{Symbol: symbols[i], Outcome: OutcomeSkipped, Err: ctx.Err()}
	}
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
		}
		report.add(results[i])
		s.metrics.RecordTask(string(results[i].Outcome))
	}
	report.Results = results
	report.Duration = time.Since(start)

	s.metrics.RecordCycle(report.Duration.Seconds())
	s.metrics.SetBootstrapped(s.state.Len())
	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()

	s.logger.Info("fetch cycle complete",
		xlogger.Int("symbols", report.Symbols),
		xlogger.Int("bootstrapped", report.Bootstrapped),
		xlogger.Int("appended", report.Appended),
		xlogger.Int("skipped", report.Skipped),
		xlogger.Int("failed", report.Failed),
		xlogger.Duration("took", report.Duration),
	)
	return report, nil
}

// runTask isolates one symbol: its timeout, error or panic never reaches other tasks.
func (s *FetchScheduler) runTask(parent context.Context, symbol string) (res TaskResult) {
	start := time.Now()
	res.Symbol = symbol
	ctx, cancel := context.WithTimeout(parent, s.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("task panic: %v", r)
			s.logger.Error("symbol task panicked",
				xlogger.Symbol(symbol),
				xlogger.Category("internal"),
				xlogger.Any("panic", r),
				xlogger.String("stack", string(debug.Stack())),
			)
			s.metrics.RecordError("internal")
		}
		res.Duration = time.Since(start)
		s.metrics.RecordLatency("symbol_task", res.Duration.Seconds())
	}()

	var err error
	if last, ok := s.state.Lookup(symbol); ok {
		res.Outcome, res.Records, err = s.increment(ctx, symbol, last)
	} else {
		res.Outcome, res.Records, err = s.bootstrap(ctx, symbol)
	}
	if err == nil {
		return res
	}

	res.Err = err
	category := models.Categorize(err)
	switch {
	case errors.Is(err, models.ErrNoData):
		res.Outcome = OutcomeSkipped
		s.logger.Warn("no data, symbol skipped", xlogger.Symbol(symbol), xlogger.Category(category), xlogger.Error(err))
	case parent.Err() != nil:
		res.Outcome = OutcomeSkipped
		return res
	default:
		res.Outcome = OutcomeFailed
		s.logger.Error("symbol task failed", xlogger.Symbol(symbol), xlogger.Category(category), xlogger.Error(err))
	}
	s.metrics.RecordError(category)
	return res
}

func (s *FetchScheduler) bootstrap(ctx context.Context, symbol string) (TaskOutcome, int, error) {
	recs, err := s.fetch(ctx, symbol, s.cfg.BootstrapLookback)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if len(recs) == 0 {
		return OutcomeSkipped, 0, fmt.Errorf("%s bootstrap: %w", symbol, models.ErrNoData)
	}
	if err := s.store.WriteBootstrap(ctx, symbol, recs); err != nil {
		return OutcomeFailed, 0, fmt.Errorf("%s bootstrap write: %w", symbol, err)
	}
	s.state.MarkBootstrapped(symbol, recs[len(recs)-1].Timestamp)
	s.mirrorBatch(ctx, symbol, recs)
	s.logger.Info("symbol bootstrapped", xlogger.Symbol(symbol), xlogger.Int("records", len(recs)))
	return OutcomeBootstrapped, len(recs), nil
}

func (s *FetchScheduler) increment(ctx context.Context, symbol string, last int64) (TaskOutcome, int, error) {
	recs, err := s.fetch(ctx, symbol, 1)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	fresh := recs[:0:0]
	for _, r := range recs {
		if r.Timestamp > last {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		s.logger.Debug("no new tick", xlogger.Symbol(symbol), xlogger.Int64("last", last))
		return OutcomeSkipped, 0, nil
	}
	for _, r := range fresh {
		if err := s.store.Append(ctx, symbol, r); err != nil {
			return OutcomeFailed, 0, fmt.Errorf("%s append: %w", symbol, err)
		}
		s.state.MarkBootstrapped(symbol, r.Timestamp)
	}
	s.mirrorBatch(ctx, symbol, fresh)
	return OutcomeAppended, len(fresh), nil
}

func (s *FetchScheduler) fetch(ctx context.Context, symbol string, limit int) ([]models.Record, error) {
	recs, stats, err := FetchRecords(ctx, s.source, symbol, limit, s.cfg.MergePolicy)
	if err != nil {
		return nil, err
	}
	if stats.UnmatchedKlines+stats.UnmatchedOI+stats.Malformed > 0 {
		s.logger.Debug("merge dropped ticks",
			xlogger.Symbol(symbol),
			xlogger.Int("unmatched_klines", stats.UnmatchedKlines),
			xlogger.Int("unmatched_oi", stats.UnmatchedOI),
			xlogger.Int("malformed", stats.Malformed),
		)
	}
	if stats.Malformed > 0 {
		s.metrics.RecordError(models.CategoryMalformed)
	}
	if stats.WithheldDelta > 0 {
		s.logger.Warn("volume_delta withheld",
			xlogger.Symbol(symbol),
			xlogger.Category(models.CategoryMalformed),
			xlogger.Int("records", stats.WithheldDelta),
		)
		s.metrics.RecordError(models.CategoryMalformed)
	}
	return recs, nil
}

func (s *FetchScheduler) mirrorBatch(ctx context.Context, symbol string, recs []models.Record) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.StoreBatch(ctx, symbol, recs); err != nil {
		s.metrics.RecordError(models.CategoryStorage)
		s.logger.Warn("mirror write failed", xlogger.Symbol(symbol), xlogger.Category(models.CategoryStorage), xlogger.Error(err))
	}
}

// FetchRecords pulls both series for symbol and merges them on timestamp.
func FetchRecords(ctx context.Context, src drepo.DataSource, symbol string, limit int, policy MergePolicy) ([]models.Record, MergeStats, error) {
	oi, err := src.FetchOpenInterest(ctx, symbol, limit)
	if err != nil {
		return nil, MergeStats{}, fmt.Errorf("%s open interest: %w", symbol, err)
	}
	kl, err := src.FetchKlines(ctx, symbol, limit)
	if err != nil {
		return nil, MergeStats{}, fmt.Errorf("%s klines: %w", symbol, err)
	}
	recs, stats := Merge(symbol, oi, kl, policy)
	return recs, stats, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(float64)                 {}
func (nopMetrics) RecordTask(string)                   {}
func (nopMetrics) RecordError(string)                  {}
func (nopMetrics) RecordScore(string, string, float64) {}
func (nopMetrics) RecordAlert(string)                  {}
func (nopMetrics) RecordLatency(string, float64)       {}
func (nopMetrics) SetBootstrapped(int)                 {}
