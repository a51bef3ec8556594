package repository

import (
	"context"

	"OIWatch/internal/domain/models"
)

// DataSource fetches raw open interest and kline series for a symbol.
// Both series are returned oldest first. Absence of data is models.ErrNoData.
type DataSource interface {
	FetchOpenInterest(ctx context.Context, symbol string, limit int) ([]models.OpenInterestPoint, error)
	FetchKlines(ctx context.Context, symbol string, limit int) ([]models.Kline, error)
}

// SymbolStore owns one rolling record sequence per symbol.
type SymbolStore interface {
	WriteBootstrap(ctx context.Context, symbol string, records []models.Record) error
	Append(ctx context.Context, symbol string, record models.Record) error
	ReadAll(ctx context.Context, symbol string) ([]models.Record, error)
	LastTimestamp(ctx context.Context, symbol string) (int64, bool, error)
	Symbols(ctx context.Context) ([]string, error)
}

// RecordMirror receives a copy of every record written to the store.
type RecordMirror interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, symbol string, records []models.Record) error
	Close() error
}

// SymbolSource resolves the set of tracked symbols for a cycle.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Notifier delivers a plain text alert.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// AlertPublisher receives structured alerts in addition to the text notification.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, a models.Alert) error
	Close() error
}

type Metrics interface {
	RecordCycle(seconds float64)
	RecordTask(result string)
	RecordError(category string)
	RecordScore(symbol, metric string, value float64)
	RecordAlert(result string)
	RecordLatency(op string, seconds float64)
	SetBootstrapped(n int)
}
