package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/domain/repository"
	pkgch "OIWatch/pkg/clickhouse"
	xlogger "OIWatch/pkg/logger"

	"github.com/shopspring/decimal"
)

const mirrorColumns = "ts, symbol, sum_open_interest, sum_open_interest_value, open, high, low, close, volume, quote_volume, count, taker_buy_volume, taker_buy_quote_volume, volume_delta"

// mirrorChunk bounds the rows of one multi-row INSERT.
const mirrorChunk = 2000

// ClickHouseMirror copies stored records into a ClickHouse table for ad hoc analytics.
// The CSV store stays the source of truth.
type ClickHouseMirror struct {
	client *pkgch.Client
	table  string
	l      *xlogger.Logger
}

// NewClickHouseMirror creates a mirror writing to table.
func NewClickHouseMirror(ch *pkgch.Client, table string, l *xlogger.Logger) *ClickHouseMirror {
	if l == nil {
		l = xlogger.Nop()
	}
	return &ClickHouseMirror{client: ch, table: table, l: l.With(xlogger.String("component", "clickhouse_mirror"))}
}

var _ repository.RecordMirror = (*ClickHouseMirror)(nil)

// Init creates the table if missing.
func (m *ClickHouseMirror) Init(ctx context.Context) error {
	return m.client.InitSchema(ctx, []string{createMirrorTable(m.table)})
}

func createMirrorTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    sum_open_interest Int64,
    sum_open_interest_value Nullable(Float64),
    open Nullable(Float64),
    high Nullable(Float64),
    low Nullable(Float64),
    close Nullable(Float64),
    volume Nullable(Float64),
    quote_volume Nullable(Float64),
    count Int64,
    taker_buy_volume Nullable(Float64),
    taker_buy_quote_volume Nullable(Float64),
    volume_delta Nullable(Float64)
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, ts)`, table)
}

// StoreBatch inserts records in chunks. ReplacingMergeTree collapses re-sent ticks.
func (m *ClickHouseMirror) StoreBatch(ctx context.Context, symbol string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	for from := 0; from < len(records); from += mirrorChunk {
		to := from + mirrorChunk
		if to > len(records) {
			to = len(records)
		}
		q, args := buildMirrorInsert(m.table, symbol, records[from:to])
		if err := m.client.Exec(ctx, q, args...); err != nil {
			m.l.Error("clickhouse insert failed",
				xlogger.Symbol(symbol),
				xlogger.Category(models.CategoryStorage),
				xlogger.Int("rows", to-from),
				xlogger.Error(err),
			)
			return fmt.Errorf("mirror insert %s: %w", symbol, err)
		}
	}
	m.l.Debug("mirrored records",
		xlogger.Symbol(symbol),
		xlogger.Int("rows", len(records)),
		xlogger.Duration("took", time.Since(start)),
	)
	return nil
}

func buildMirrorInsert(table, symbol string, records []models.Record) (string, []any) {
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*14)
	for i := range records {
		r := &records[i]
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			time.UnixMilli(r.Timestamp).UTC(),
			symbol,
			r.SumOpenInterest,
			nullFloat(r.SumOpenInterestValue),
			nullFloat(r.Open),
			nullFloat(r.High),
			nullFloat(r.Low),
			nullFloat(r.Close),
			nullFloat(r.Volume),
			nullFloat(r.QuoteVolume),
			r.Count,
			nullFloat(r.TakerBuyVolume),
			nullFloat(r.TakerBuyQuoteVolume),
			nullFloat(r.VolumeDelta),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, mirrorColumns, strings.Join(values, ","))
	return q, args
}

// Close is a no-op; the client is owned by the caller.
func (m *ClickHouseMirror) Close() error { return nil }

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}
