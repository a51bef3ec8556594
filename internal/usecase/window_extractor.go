package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/services/features"
	xlogger "OIWatch/pkg/logger"

	"github.com/shopspring/decimal"
)

// RecordFileReader decodes a history file.
type RecordFileReader interface {
	ReadFile(path string) ([]models.Record, error)
}

// WindowSink persists one window per file.
type WindowSink interface {
	Save(w models.TrainingWindow, path string) error
	Extension() string
}

// ExtractConfig controls the trigger rule and window size.
type ExtractConfig struct {
	WindowLen     int     // rows per window, default 200
	TriggerSpan   int     // rows spanned by the rise test, default 6
	RiseThreshold float64 // default 0.025
	OutDir        string  // defaults to the input file's directory
}

// ExtractReport counts what one extraction pass saw.
type ExtractReport struct {
	Files            int      `json:"files"`
	Windows          int      `json:"windows"`
	Triggers         int      `json:"triggers"`
	SkippedHistory   int      `json:"skipped_history"`
	SkippedOverlap   int      `json:"skipped_overlap"`
	SkippedMalformed int      `json:"skipped_malformed"`
	FailedFiles      []string `json:"failed_files,omitempty"`
	Paths            []string `json:"paths,omitempty"`
}

func (r *ExtractReport) merge(o ExtractReport) {
	r.Files += o.Files
	r.Windows += o.Windows
	r.Triggers += o.Triggers
	r.SkippedHistory += o.SkippedHistory
	r.SkippedOverlap += o.SkippedOverlap
	r.SkippedMalformed += o.SkippedMalformed
	r.FailedFiles = append(r.FailedFiles, o.FailedFiles...)
	r.Paths = append(r.Paths, o.Paths...)
}

// WindowExtractor mines history files for non-overlapping windows that end right before a price rise.
type WindowExtractor struct {
	reader RecordFileReader
	sink   WindowSink
	cfg    ExtractConfig
	logger *xlogger.Logger
}

func NewWindowExtractor(reader RecordFileReader, sink WindowSink, cfg ExtractConfig, l *xlogger.Logger) *WindowExtractor {
	if cfg.WindowLen <= 0 {
		cfg.WindowLen = 200
	}
	if cfg.TriggerSpan < 2 {
		cfg.TriggerSpan = 6
	}
	if cfg.RiseThreshold <= 0 {
		cfg.RiseThreshold = 0.025
	}
	if l == nil {
		l = xlogger.Nop()
	}
	return &WindowExtractor{reader: reader, sink: sink, cfg: cfg, logger: l.With(xlogger.String("component", "window_extractor"))}
}

// ExtractDir runs ExtractFile on every CSV file directly under dir. A failing file is
// reported and the pass continues.
func (e *WindowExtractor) ExtractDir(ctx context.Context, dir string) (ExtractReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ExtractReport{}, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.EqualFold(filepath.Ext(ent.Name()), ".csv") {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	var total ExtractReport
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		path := filepath.Join(dir, name)
		rep, err := e.ExtractFile(ctx, path)
		if err != nil {
			e.logger.Error("extraction failed", xlogger.String("file", path), xlogger.Category(models.Categorize(err)), xlogger.Error(err))
			total.Files++
			total.FailedFiles = append(total.FailedFiles, path)
			continue
		}
		total.merge(rep)
	}
	return total, nil
}

// ExtractFile writes every window found in path to
// {out_dir}/{prefix}_training_data/{base}_{n}_training_data.{ext}.
func (e *WindowExtractor) ExtractFile(ctx context.Context, path string) (ExtractReport, error) {
	recs, err := e.reader.ReadFile(path)
	if err != nil {
		return ExtractReport{}, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix, _, _ := strings.Cut(base, "_")
	outRoot := e.cfg.OutDir
	if outRoot == "" {
		outRoot = filepath.Dir(path)
	}
	outDir := filepath.Join(outRoot, prefix+"_training_data")

	windows, rep := FindWindows(recs, e.cfg)
	rep.Files = 1
	if len(windows) > 0 {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return rep, fmt.Errorf("create %s: %w", outDir, err)
		}
	}
	for n, w := range windows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		w.Seq = n
		w.Source = base
		if w.Symbol == "" {
			w.Symbol = prefix
		}
		out := filepath.Join(outDir, fmt.Sprintf("%s_%d_training_data.%s", base, n, e.sink.Extension()))
		if err := e.sink.Save(w, out); err != nil {
			return rep, fmt.Errorf("save %s: %w", out, err)
		}
		rep.Paths = append(rep.Paths, out)
	}

	e.logger.Info("file extracted",
		xlogger.String("file", path),
		xlogger.Int("records", len(recs)),
		xlogger.Int("triggers", rep.Triggers),
		xlogger.Int("windows", rep.Windows),
		xlogger.Int("skipped_history", rep.SkippedHistory),
		xlogger.Int("skipped_overlap", rep.SkippedOverlap),
		xlogger.Int("skipped_malformed", rep.SkippedMalformed),
	)
	return rep, nil
}

// FindWindows scans a sequence for triggers. Index i triggers when
// close[i+span-1] > close[i]*(1+rise). A trigger yields rows [i-len+1, i] if that
// range is in bounds and shares no index with an earlier window.
func FindWindows(recs []models.Record, cfg ExtractConfig) ([]models.TrainingWindow, ExtractReport) {
	if cfg.WindowLen <= 0 {
		cfg.WindowLen = 200
	}
	if cfg.TriggerSpan < 2 {
		cfg.TriggerSpan = 6
	}
	if cfg.RiseThreshold <= 0 {
		cfg.RiseThreshold = 0.025
	}

	sorted := make([]models.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	factor := decimal.NewFromFloat(1 + cfg.RiseThreshold)
	var rep ExtractReport
	var out []models.TrainingWindow
	lastUsed := -1 // highest index covered by an emitted window

	for i := 0; i+cfg.TriggerSpan-1 < len(sorted); i++ {
		base, ahead := sorted[i].Close, sorted[i+cfg.TriggerSpan-1].Close
		if !base.Valid || !ahead.Valid || !ahead.Decimal.GreaterThan(base.Decimal.Mul(factor)) {
			continue
		}
		rep.Triggers++

		start := i - cfg.WindowLen + 1
		if start < 0 {
			rep.SkippedHistory++
			continue
		}
		if start <= lastUsed {
			rep.SkippedOverlap++
			continue
		}

		matrix := make([][]float64, 0, cfg.WindowLen)
		complete := true
		for _, r := range sorted[start : i+1] {
			row, ok := r.Features()
			if !ok {
				complete = false
				break
			}
			matrix = append(matrix, row)
		}
		if !complete {
			rep.SkippedMalformed++
			continue
		}
		norm, err := features.MinMax(matrix)
		if err != nil {
			rep.SkippedMalformed++
			continue
		}

		lastUsed = i
		out = append(out, models.TrainingWindow{
			Symbol:  sorted[i].Symbol,
			Start:   start,
			End:     i,
			Columns: models.FeatureColumns,
			Rows:    norm,
		})
		rep.Windows++
	}
	return out, rep
}
