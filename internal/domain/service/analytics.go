package service

import (
	"context"

	"OIWatch/internal/domain/models"
)

// Reconstructor runs the sequence reconstruction model.
// window has shape (1, sequence_length, feature_count). The result is either a full
// sequence or a single aggregate row with the same feature count.
type Reconstructor interface {
	Reconstruct(ctx context.Context, symbol string, window [][][]float64) ([][]float64, error)
}

// AnomalyScorer scores a normalized window against its reconstruction.
type AnomalyScorer interface {
	Score(ctx context.Context, symbol string, window [][]float64) (models.Score, error)
	Threshold() float64
}
