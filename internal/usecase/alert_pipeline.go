package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"sync"
	"time"

	"OIWatch/internal/domain/models"
	drepo "OIWatch/internal/domain/repository"
	"OIWatch/internal/domain/service"
	"OIWatch/internal/services/features"
	"OIWatch/pkg/cache"
	xlogger "OIWatch/pkg/logger"
)

// RepeatPolicy decides whether a sustained breach alerts again.
type RepeatPolicy string

const (
	RepeatEveryCycle RepeatPolicy = "every_cycle"
	RepeatCooldown   RepeatPolicy = "cooldown"
)

// AlertLocker grants a key for ttl at most once. cache.Service satisfies it.
type AlertLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// AlertConfig holds the scoring window and repeat policy.
type AlertConfig struct {
	SequenceLength int
	Repeat         RepeatPolicy
	Cooldown       time.Duration
	Interval       time.Duration // 0: driven by the fetch scheduler
}

// AlertReport summarizes one pass over the tracked symbols.
type AlertReport struct {
	Scored     int `json:"scored"`
	Skipped    int `json:"skipped"`
	Breached   int `json:"breached"`
	Notified   int `json:"notified"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// AlertPipeline scores the latest window of every symbol and notifies on a breach.
type AlertPipeline struct {
	store   drepo.SymbolStore
	symbols drepo.SymbolSource
	scorer  service.AnomalyScorer
	cfg     AlertConfig

	notifier  drepo.Notifier
	publisher drepo.AlertPublisher
	locker    AlertLocker
	metrics   drepo.Metrics
	logger    *xlogger.Logger
	now       func() time.Time

	runMu sync.Mutex

	mu     sync.RWMutex
	latest map[string]models.Score
}

// AlertOption configures AlertPipeline.
type AlertOption func(*AlertPipeline)

func WithNotifier(n drepo.Notifier) AlertOption {
	return func(p *AlertPipeline) { p.notifier = n }
}

// WithAlertPublisher also publishes each alert as a structured event.
func WithAlertPublisher(pub drepo.AlertPublisher) AlertOption {
	return func(p *AlertPipeline) { p.publisher = pub }
}

// WithAlertLocker sets the cooldown lock; required for RepeatCooldown.
func WithAlertLocker(l AlertLocker) AlertOption {
	return func(p *AlertPipeline) { p.locker = l }
}

func WithAlertMetrics(m drepo.Metrics) AlertOption {
	return func(p *AlertPipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithAlertLogger(l *xlogger.Logger) AlertOption {
	return func(p *AlertPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewAlertPipeline(store drepo.SymbolStore, symbols drepo.SymbolSource, scorer service.AnomalyScorer, cfg AlertConfig, opts ...AlertOption) (*AlertPipeline, error) {
	if cfg.SequenceLength <= 0 {
		cfg.SequenceLength = 200
	}
	switch cfg.Repeat {
	case "":
		cfg.Repeat = RepeatEveryCycle
	case RepeatEveryCycle, RepeatCooldown:
	default:
		return nil, fmt.Errorf("unknown repeat policy %q", cfg.Repeat)
	}
	p := &AlertPipeline{
		store:   store,
		symbols: symbols,
		scorer:  scorer,
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  xlogger.Nop(),
		now:     time.Now,
		latest:  make(map[string]models.Score),
	}
	for _, o := range opts {
		o(p)
	}
	if cfg.Repeat == RepeatCooldown && (p.locker == nil || cfg.Cooldown <= 0) {
		return nil, fmt.Errorf("cooldown repeat policy needs a lock and a positive cooldown")
	}
	p.logger = p.logger.With(xlogger.String("component", "alert_pipeline"))
	return p, nil
}

// Hook adapts the pipeline into a scheduler AfterCycle hook.
func (p *AlertPipeline) Hook() CycleHook {
	return func(ctx context.Context, _ CycleReport) {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("alert pass failed", xlogger.Error(err))
		}
	}
}

// Run scores on its own ticker every cfg.Interval until ctx is done.
func (p *AlertPipeline) Run(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("alert interval must be positive to run standalone")
	}
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("alert pass failed", xlogger.Error(err))
			}
		}
	}
}

// RunOnce scores each tracked symbol once. A breach notifies exactly once per pass.
func (p *AlertPipeline) RunOnce(ctx context.Context) (AlertReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	var rep AlertReport
	symbols, err := p.symbols.Symbols(ctx)
	if err != nil {
		return rep, fmt.Errorf("resolve symbols: %w", err)
	}
	symbols = normalizeSymbols(symbols)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		score, err := p.score(ctx, sym)
		if err != nil {
			if errors.Is(err, models.ErrNotEnoughHistory) || errors.Is(err, fs.ErrNotExist) {
				rep.Skipped++
				p.logger.Debug("not enough history", xlogger.Symbol(sym), xlogger.Error(err))
				continue
			}
			rep.Failed++
			category := models.Categorize(err)
			p.metrics.RecordError(category)
			p.logger.Error("scoring failed", xlogger.Symbol(sym), xlogger.Category(category), xlogger.Error(err))
			continue
		}
		rep.Scored++
		if !score.Breached {
			continue
		}
		rep.Breached++
		switch p.alert(ctx, score) {
		case "sent", "logged":
			rep.Notified++
		case "suppressed":
			rep.Suppressed++
		default:
			rep.Failed++
		}
	}

	p.logger.Info("alert pass complete",
		xlogger.Int("scored", rep.Scored),
		xlogger.Int("skipped", rep.Skipped),
		xlogger.Int("breached", rep.Breached),
		xlogger.Int("notified", rep.Notified),
		xlogger.Int("suppressed", rep.Suppressed),
		xlogger.Int("failed", rep.Failed),
	)
	return rep, nil
}

// ScoreSymbol scores one symbol on demand and optionally runs the breach notification.
func (p *AlertPipeline) ScoreSymbol(ctx context.Context, symbol string, notify bool) (models.Score, error) {
	score, err := p.score(ctx, symbol)
	if err != nil {
		return models.Score{}, err
	}
	if notify && score.Breached {
		p.alert(ctx, score)
	}
	return score, nil
}

// Latest returns the last score of every symbol, sorted by symbol.
func (p *AlertPipeline) Latest() []models.Score {
	p.mu.RLock()
	out := make([]models.Score, 0, len(p.latest))
	for _, s := range p.latest {
		out = append(out, s)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *AlertPipeline) score(ctx context.Context, symbol string) (models.Score, error) {
	start := time.Now()
	recs, err := p.store.ReadAll(ctx, symbol)
	if err != nil {
		return models.Score{}, err
	}
	window, err := LatestWindow(recs, p.cfg.SequenceLength)
	if err != nil {
		return models.Score{}, fmt.Errorf("%s: %w", symbol, err)
	}
	score, err := p.scorer.Score(ctx, symbol, window)
	if err != nil {
		return models.Score{}, err
	}
	p.metrics.RecordLatency("score", time.Since(start).Seconds())
	p.metrics.RecordScore(symbol, score.Metric, score.Value)

	p.mu.Lock()
	p.latest[symbol] = score
	p.mu.Unlock()
	return score, nil
}

// alert delivers one breach and returns its metrics result label.
func (p *AlertPipeline) alert(ctx context.Context, score models.Score) string {
	if p.cfg.Repeat == RepeatCooldown {
		ok, err := p.locker.TryLock(ctx, cache.GenerateKey("alert", score.Symbol), p.cfg.Cooldown)
		switch {
		case err != nil:
			p.logger.Warn("cooldown lock failed, alerting anyway", xlogger.Symbol(score.Symbol), xlogger.Error(err))
		case !ok:
			p.metrics.RecordAlert("suppressed")
			p.logger.Debug("alert suppressed by cooldown", xlogger.Symbol(score.Symbol))
			return "suppressed"
		}
	}

	a := models.Alert{
		Symbol:    score.Symbol,
		Value:     score.Value,
		Metric:    score.Metric,
		Threshold: p.scorer.Threshold(),
		Timestamp: p.now().UTC(),
	}
	a.Message = FormatAlert(a)

	if p.publisher != nil {
		if err := p.publisher.PublishAlert(ctx, a); err != nil {
			p.metrics.RecordError(models.CategoryNotify)
			p.logger.Warn("alert publish failed", xlogger.Symbol(a.Symbol), xlogger.Category(models.CategoryNotify), xlogger.Error(err))
		}
	}
	if p.notifier == nil {
		p.metrics.RecordAlert("logged")
		p.logger.Warn("anomaly alert", xlogger.Symbol(a.Symbol), xlogger.String("message", a.Message))
		return "logged"
	}
	if err := p.notifier.Send(ctx, a.Message); err != nil {
		p.metrics.RecordAlert("failed")
		p.metrics.RecordError(models.CategoryNotify)
		p.logger.Error("alert delivery failed", xlogger.Symbol(a.Symbol), xlogger.Category(models.CategoryNotify), xlogger.Error(err))
		return "failed"
	}
	p.metrics.RecordAlert("sent")
	p.logger.Info("alert sent", xlogger.Symbol(a.Symbol), xlogger.Float64("value", a.Value))
	return "sent"
}

// FormatAlert renders "{SYMBOL} @ {value:.4f} {metric} (threshold {threshold})".
func FormatAlert(a models.Alert) string {
	return fmt.Sprintf("%s @ %.4f %s (threshold %s)", a.Symbol, a.Value, a.Metric, strconv.FormatFloat(a.Threshold, 'f', -1, 64))
}

// LatestWindow projects the last n records to features and min-max normalizes them.
func LatestWindow(recs []models.Record, n int) ([][]float64, error) {
	if len(recs) < n {
		return nil, fmt.Errorf("%w: %d records, need %d", models.ErrNotEnoughHistory, len(recs), n)
	}
	tail := recs[len(recs)-n:]
	matrix := make([][]float64, 0, n)
	for i := range tail {
		row, ok := tail[i].Features()
		if !ok {
			return nil, fmt.Errorf("%w: record at %d has a withheld field", models.ErrMalformedWindow, tail[i].Timestamp)
		}
		matrix = append(matrix, row)
	}
	return features.MinMax(matrix)
}
