//go:build wireinject
// +build wireinject

package di

import (
	"OIWatch/pkg/config"
	"OIWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideBinanceClient,
		ProvideSymbolSource,
		ProvideClickHouseClient,
		ProvideMirror,
		ProvideCache,

		// Alerting
		ProvideNotifier,
		ProvideAlertPublisher,
		ProvideScorer,

		// Use cases
		ProvideScheduler,
		ProvideAlertPipeline,

		// HTTP
		ProvideLimiter,
		ProvideStatusHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
