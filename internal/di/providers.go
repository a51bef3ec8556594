package di

import (
	"context"
	"fmt"
	"os"
	"time"

	drepo "OIWatch/internal/domain/repository"
	"OIWatch/internal/handler/api"
	internalrepo "OIWatch/internal/repository"
	"OIWatch/internal/service/binance"
	"OIWatch/internal/service/notify"
	"OIWatch/internal/service/ratelimit"
	analytics "OIWatch/internal/services/analytics"
	"OIWatch/internal/usecase"
	"OIWatch/pkg/cache"
	pkgch "OIWatch/pkg/clickhouse"
	"OIWatch/pkg/config"
	xhttp "OIWatch/pkg/http"
	pkgkafka "OIWatch/pkg/kafka"
	xlogger "OIWatch/pkg/logger"
	"OIWatch/pkg/metrics"
	"OIWatch/pkg/server"
)

// ProvideLogger builds the zerolog wrapper from the log section.
func ProvideLogger(cfg *config.Config) (*xlogger.Logger, error) {
	l, err := xlogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(xlogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideStore opens the CSV store directory, creating it when allowed.
func ProvideStore(cfg *config.Config, l *xlogger.Logger) (*internalrepo.CSVStore, error) {
	dir := cfg.Store.DataDir
	if cfg.Store.CreateDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store dir: %w", err)
		}
	}
	return internalrepo.NewCSVStore(dir, l), nil
}

// ProvideBinanceClient creates the rate limited data source.
func ProvideBinanceClient(cfg *config.Config, l *xlogger.Logger) *binance.Client {
	return binance.New(
		binance.WithBaseURLs(cfg.Binance.FuturesDataURL, cfg.Binance.FAPIURL),
		binance.WithPeriod(cfg.Fetch.Period),
		binance.WithRateLimit(cfg.Binance.RPS, cfg.Binance.Burst),
		binance.WithMaxElapsed(cfg.Binance.MaxElapsed),
		binance.WithTimeout(cfg.Binance.Timeout),
		binance.WithLogger(l),
	)
}

func ProvideSymbolSource(cfg *config.Config, store *internalrepo.CSVStore, bc *binance.Client) (drepo.SymbolSource, error) {
	return usecase.NewSymbolSource(cfg.Symbols.Source, cfg.Symbols.List, store, bc)
}

// ProvideClickHouseClient connects to ClickHouse when the mirror is enabled, otherwise returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	c := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(c.Host),
		pkgch.WithPort(c.Port),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCreateDatabase(true),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithPool(c.MaxOpenConns, c.MaxIdleConns, 0),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithAsyncInsert(c.AsyncInsert, c.WaitForAsync),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout, c.WriteTimeout),
		pkgch.WithMaxExecutionTime(c.MaxExecTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideMirror creates the ClickHouse record mirror and its table. nil when disabled.
func ProvideMirror(cfg *config.Config, ch *pkgch.Client, l *xlogger.Logger) (drepo.RecordMirror, error) {
	if ch == nil {
		return nil, nil
	}
	m := internalrepo.NewClickHouseMirror(ch, pkgch.QuoteIdent(ch.Database())+"."+pkgch.QuoteIdent(cfg.ClickHouse.Table), l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return m, nil
}

func ProvideScheduler(
	cfg *config.Config,
	bc *binance.Client,
	store *internalrepo.CSVStore,
	symbols drepo.SymbolSource,
	mirror drepo.RecordMirror,
	rec *metrics.Recorder,
	l *xlogger.Logger,
) (*usecase.FetchScheduler, error) {
	policy, err := usecase.ParseMergePolicy(cfg.Merge.Policy)
	if err != nil {
		return nil, err
	}
	opts := []usecase.SchedulerOption{
		usecase.WithSchedulerMetrics(rec),
		usecase.WithSchedulerLogger(l),
	}
	if mirror != nil {
		opts = append(opts, usecase.WithMirror(mirror))
	}
	return usecase.NewFetchScheduler(bc, store, symbols, usecase.NewBootstrapState(), usecase.SchedulerConfig{
		Workers:           cfg.Fetch.Workers,
		CycleDelay:        cfg.Fetch.CycleDelay,
		TaskTimeout:       cfg.Fetch.TaskTimeout,
		BootstrapLookback: cfg.Fetch.BootstrapLookback,
		MergePolicy:       policy,
	}, opts...), nil
}

// ProvideCache builds the cooldown cache backend.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	svc, err := cache.New(cache.Config{
		Type: cfg.Cache.Type,
		Redis: []cache.RedisOption{
			cache.WithRedisHost(cfg.Cache.Redis.Host),
			cache.WithRedisPort(cfg.Cache.Redis.Port),
			cache.WithRedisPassword(cfg.Cache.Redis.Password),
			cache.WithRedisDB(cfg.Cache.Redis.DB),
			cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cache: %w", err)
	}
	return svc, func() { _ = svc.Close() }, nil
}

// ProvideNotifier fans out to every enabled notifier. nil when none is enabled.
func ProvideNotifier(cfg *config.Config) (drepo.Notifier, error) {
	var ns []drepo.Notifier
	if cfg.Notify.Webhook.Enabled {
		ns = append(ns, notify.NewWebhookNotifier(cfg.Notify.Webhook.URL, notify.WithPayloadKey(cfg.Notify.Webhook.PayloadKey)))
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		ns = append(ns, tg)
	}
	if len(ns) == 0 {
		return nil, nil
	}
	return notify.NewMultiNotifier(ns...), nil
}

// ProvideAlertPublisher creates the Kafka alert publisher. nil when disabled.
func ProvideAlertPublisher(cfg *config.Config) (drepo.AlertPublisher, func(), error) {
	k := cfg.Notify.Kafka
	if !k.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.MaxAttempts),
		pkgkafka.WithWriteTimeout(k.WriteTimeout),
		pkgkafka.WithBatching(k.BatchSize, k.BatchTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaAlertPublisher(producer, k.Topic)
	return pub, func() { _ = pub.Close() }, nil
}

// ProvideScorer creates the reconstruction scorer. nil when alerting is disabled.
func ProvideScorer(cfg *config.Config) (*analytics.ReconstructionScorer, error) {
	if !cfg.Alert.Enabled {
		return nil, nil
	}
	base := analytics.NewHTTPServiceBase(cfg.Scorer.URL,
		analytics.WithRequestTimeout(cfg.Scorer.Timeout),
		analytics.WithAttempts(cfg.Scorer.Attempts),
	)
	return analytics.NewReconstructionScorer(
		analytics.NewHTTPReconstructor(base, cfg.Scorer.Path),
		cfg.Alert.Metric,
		cfg.Alert.Threshold,
		cfg.Alert.SequenceLength,
		cfg.Alert.FeatureCount,
	)
}

func ProvideAlertPipeline(
	cfg *config.Config,
	store *internalrepo.CSVStore,
	symbols drepo.SymbolSource,
	scorer *analytics.ReconstructionScorer,
	notifier drepo.Notifier,
	publisher drepo.AlertPublisher,
	locker cache.Service,
	rec *metrics.Recorder,
	l *xlogger.Logger,
) (*usecase.AlertPipeline, error) {
	if scorer == nil {
		return nil, nil
	}
	opts := []usecase.AlertOption{
		usecase.WithAlertLocker(locker),
		usecase.WithAlertMetrics(rec),
		usecase.WithAlertLogger(l),
	}
	if notifier != nil {
		opts = append(opts, usecase.WithNotifier(notifier))
	}
	if publisher != nil {
		opts = append(opts, usecase.WithAlertPublisher(publisher))
	}
	return usecase.NewAlertPipeline(store, symbols, scorer, usecase.AlertConfig{
		SequenceLength: cfg.Alert.SequenceLength,
		Repeat:         usecase.RepeatPolicy(cfg.Alert.Repeat),
		Cooldown:       cfg.Alert.Cooldown,
		Interval:       cfg.Alert.Interval,
	}, opts...)
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.ScoreRPS, int(cfg.Server.ScoreBurst))
}

func ProvideStatusHandler(
	cfg *config.Config,
	l *xlogger.Logger,
	sched *usecase.FetchScheduler,
	pipeline *usecase.AlertPipeline,
	limiter *ratelimit.Limiter,
) *api.StatusEchoHandler {
	var scores api.ScoreView
	if pipeline != nil {
		scores = pipeline
	}
	return api.NewStatusEchoHandler(l, sched, scores, limiter, cfg.Environment)
}

// ProvideHTTPServer creates the echo server. nil when the server is disabled.
func ProvideHTTPServer(cfg *config.Config, l *xlogger.Logger, h *api.StatusEchoHandler, rec *metrics.Recorder) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(l),
		xhttp.WithObserver(rec),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *xlogger.Logger,
	sched *usecase.FetchScheduler,
	pipeline *usecase.AlertPipeline,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, sched, pipeline, srv)
}
