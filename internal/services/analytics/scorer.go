package analytics

import (
	"context"
	"fmt"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/domain/service"
	"OIWatch/internal/services/features"
)

// Metric names.
const (
	MetricCosine = "cosine"
	MetricMSE    = "mse"
)

// mseCeiling offsets the mse metric: value = mseCeiling - mse.
const mseCeiling = 100.0

// ReconstructionScorer compares a window with its model reconstruction.
type ReconstructionScorer struct {
	rec          service.Reconstructor
	metric       string
	threshold    float64
	seqLen       int
	featureCount int
	now          func() time.Time
}

// NewReconstructionScorer validates metric and the expected window shape.
func NewReconstructionScorer(rec service.Reconstructor, metric string, threshold float64, seqLen, featureCount int) (*ReconstructionScorer, error) {
	switch metric {
	case MetricCosine, MetricMSE:
	case "":
		metric = MetricCosine
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	if seqLen < 1 || featureCount < 1 {
		return nil, fmt.Errorf("invalid window shape (%d, %d)", seqLen, featureCount)
	}
	return &ReconstructionScorer{
		rec:          rec,
		metric:       metric,
		threshold:    threshold,
		seqLen:       seqLen,
		featureCount: featureCount,
		now:          time.Now,
	}, nil
}

var _ service.AnomalyScorer = (*ReconstructionScorer)(nil)

func (s *ReconstructionScorer) Threshold() float64 { return s.threshold }

// Metric returns the configured metric name.
func (s *ReconstructionScorer) Metric() string { return s.metric }

// SequenceLength returns the expected number of rows.
func (s *ReconstructionScorer) SequenceLength() int { return s.seqLen }

// Score sends window as a (1, seq, features) tensor and scores the answer.
// A single reconstructed row is broadcast over every input row.
func (s *ReconstructionScorer) Score(ctx context.Context, symbol string, window [][]float64) (models.Score, error) {
	if len(window) != s.seqLen {
		return models.Score{}, fmt.Errorf("%w: %d rows, want %d", models.ErrMalformedWindow, len(window), s.seqLen)
	}
	for i, row := range window {
		if len(row) != s.featureCount {
			return models.Score{}, fmt.Errorf("%w: row %d has %d features, want %d", models.ErrMalformedWindow, i, len(row), s.featureCount)
		}
	}

	recon, err := s.rec.Reconstruct(ctx, symbol, [][][]float64{window})
	if err != nil {
		return models.Score{}, err
	}
	for i, row := range recon {
		if len(row) != s.featureCount {
			return models.Score{}, fmt.Errorf("%w: reconstruction row %d has %d features, want %d", models.ErrScorer, i, len(row), s.featureCount)
		}
	}
	switch len(recon) {
	case s.seqLen:
	case 1:
		b := make([][]float64, s.seqLen)
		for i := range b {
			b[i] = recon[0]
		}
		recon = b
	default:
		return models.Score{}, fmt.Errorf("%w: reconstruction has %d rows, want 1 or %d", models.ErrScorer, len(recon), s.seqLen)
	}

	value, err := s.compare(window, recon)
	if err != nil {
		return models.Score{}, fmt.Errorf("%w: %v", models.ErrScorer, err)
	}
	return models.Score{
		Symbol:    symbol,
		Value:     value,
		Metric:    s.metric,
		Rows:      len(window),
		Breached:  value >= s.threshold,
		Timestamp: s.now().UTC(),
	}, nil
}

func (s *ReconstructionScorer) compare(x, y [][]float64) (float64, error) {
	if s.metric == MetricMSE {
		mse, err := features.MSE(x, y)
		if err != nil {
			return 0, err
		}
		return mseCeiling - mse, nil
	}
	return features.MeanRowCosine(x, y)
}
