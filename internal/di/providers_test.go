package di

import (
	"path/filepath"
	"testing"

	"OIWatch/internal/usecase"
	"OIWatch/pkg/config"
	"OIWatch/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Store.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Symbols.List = []string{"BTCUSDT"}
	cfg.Scorer.URL = "http://127.0.0.1:1"
	return cfg
}

func TestDisabledComponentsAreNil(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alert.Enabled = false
	cfg.Server.Enabled = false

	n, err := ProvideNotifier(cfg)
	require.NoError(t, err)
	assert.Nil(t, n)

	pub, cleanup, err := ProvideAlertPublisher(cfg)
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, pub)

	ch, cleanup, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, ch)

	mirror, err := ProvideMirror(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, mirror)

	scorer, err := ProvideScorer(cfg)
	require.NoError(t, err)
	assert.Nil(t, scorer)

	p, err := ProvideAlertPipeline(cfg, nil, nil, nil, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.Nil(t, ProvideHTTPServer(cfg, nil, nil, nil))
}

func TestNotifierFansOutEnabledTargets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Webhook.Enabled = true
	cfg.Notify.Webhook.URL = "http://127.0.0.1:1/hook"

	n, err := ProvideNotifier(cfg)
	require.NoError(t, err)
	require.NotNil(t, n)
}

func TestStoreAndSchedulerWiring(t *testing.T) {
	cfg := testConfig(t)
	l, err := ProvideLogger(cfg)
	require.NoError(t, err)

	store, err := ProvideStore(cfg, l)
	require.NoError(t, err)
	assert.DirExists(t, cfg.Store.DataDir)

	bc := ProvideBinanceClient(cfg, l)
	symbols, err := ProvideSymbolSource(cfg, store, bc)
	require.NoError(t, err)

	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	sched, err := ProvideScheduler(cfg, bc, store, symbols, nil, rec, l)
	require.NoError(t, err)
	assert.Equal(t, 0, sched.State().Len())

	cfg.Merge.Policy = "interpolate"
	_, err = ProvideScheduler(cfg, bc, store, symbols, nil, rec, l)
	assert.Error(t, err)

	svc, cleanup, err := ProvideCache(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, svc)
}

func TestStatusHandlerWithoutAlerts(t *testing.T) {
	cfg := testConfig(t)
	sched := usecase.NewFetchScheduler(nil, nil, nil, nil, usecase.SchedulerConfig{})
	h := ProvideStatusHandler(cfg, nil, sched, nil, ProvideLimiter(cfg))
	require.NotNil(t, h)

	srv := ProvideHTTPServer(cfg, nil, h, metrics.NewWithRegistry(prometheus.NewRegistry()))
	require.NotNil(t, srv)
}
