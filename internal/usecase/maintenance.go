package usecase

import (
	"context"
	"fmt"
	"time"

	"OIWatch/internal/domain/models"
	drepo "OIWatch/internal/domain/repository"
	"OIWatch/internal/services/features"
	xlogger "OIWatch/pkg/logger"
)

// Deduper rewrites a store sorted and without duplicate timestamps.
type Deduper interface {
	Dedup(ctx context.Context, symbol string) (int, error)
}

// SnapshotWriter persists a normalized table and returns its path.
type SnapshotWriter func(dir, symbol string, version int64, format string, timestamps []int64, rows [][]float64) (string, error)

// MaintenanceResult is the outcome of one symbol's maintenance step.
type MaintenanceResult struct {
	Symbol  string
	Removed int    // dedup: duplicate rows dropped
	Rows    int    // normalize: rows written
	Skipped int    // normalize: rows with a withheld field
	Path    string // normalize: snapshot file
	Err     error
}

// Maintenance runs the offline store passes.
type Maintenance struct {
	store    drepo.SymbolStore
	deduper  Deduper
	snapshot SnapshotWriter
	dir      string
	logger   *xlogger.Logger
	now      func() time.Time
}

func NewMaintenance(store drepo.SymbolStore, deduper Deduper, snapshot SnapshotWriter, dir string, l *xlogger.Logger) *Maintenance {
	if l == nil {
		l = xlogger.Nop()
	}
	return &Maintenance{
		store:    store,
		deduper:  deduper,
		snapshot: snapshot,
		dir:      dir,
		logger:   l.With(xlogger.String("component", "maintenance")),
		now:      time.Now,
	}
}

// Dedup rewrites every symbol's store. Failures are reported per symbol.
func (m *Maintenance) Dedup(ctx context.Context, symbols []string) []MaintenanceResult {
	out := make([]MaintenanceResult, 0, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		removed, err := m.deduper.Dedup(ctx, sym)
		out = append(out, MaintenanceResult{Symbol: sym, Removed: removed, Err: err})
		if err != nil {
			m.logger.Error("dedup failed", xlogger.Symbol(sym), xlogger.Category(models.Categorize(err)), xlogger.Error(err))
			continue
		}
		m.logger.Info("store deduplicated", xlogger.Symbol(sym), xlogger.Int("removed", removed))
	}
	return out
}

// Normalize writes a versioned min-max snapshot of every symbol. The store is left as it is.
func (m *Maintenance) Normalize(ctx context.Context, symbols []string, format string) []MaintenanceResult {
	version := m.now().Unix()
	out := make([]MaintenanceResult, 0, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		res := m.normalizeOne(ctx, sym, version, format)
		if res.Err != nil {
			m.logger.Error("normalize failed", xlogger.Symbol(sym), xlogger.Category(models.Categorize(res.Err)), xlogger.Error(res.Err))
		} else {
			m.logger.Info("snapshot written", xlogger.Symbol(sym), xlogger.String("path", res.Path), xlogger.Int("rows", res.Rows))
		}
		out = append(out, res)
	}
	return out
}

func (m *Maintenance) normalizeOne(ctx context.Context, symbol string, version int64, format string) MaintenanceResult {
	res := MaintenanceResult{Symbol: symbol}
	recs, err := m.store.ReadAll(ctx, symbol)
	if err != nil {
		res.Err = err
		return res
	}

	tbl := features.Table{Columns: models.FeatureColumns, Rows: make([][]float64, 0, len(recs))}
	timestamps := make([]int64, 0, len(recs))
	for i := range recs {
		row, ok := recs[i].Features()
		if !ok {
			res.Skipped++
			continue
		}
		tbl.Rows = append(tbl.Rows, row)
		timestamps = append(timestamps, recs[i].Timestamp)
	}
	norm, err := features.NormalizeColumns(tbl, models.FeatureColumns...)
	if err != nil {
		res.Err = fmt.Errorf("%s normalize: %w", symbol, err)
		return res
	}

	res.Path, res.Err = m.snapshot(m.dir, symbol, version, format, timestamps, norm.Rows)
	res.Rows = len(norm.Rows)
	return res
}
