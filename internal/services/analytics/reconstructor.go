package analytics

import (
	"context"
	"fmt"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/domain/service"
)

// HTTPReconstructor calls a model service that reconstructs a feature window.
type HTTPReconstructor struct {
	base *HTTPServiceBase
	path string
}

// NewHTTPReconstructor posts to base + path, usually "/reconstruct".
func NewHTTPReconstructor(base *HTTPServiceBase, path string) *HTTPReconstructor {
	if path == "" {
		path = "/reconstruct"
	}
	return &HTTPReconstructor{base: base, path: path}
}

var _ service.Reconstructor = (*HTTPReconstructor)(nil)

type reconstructReq struct {
	Symbol string        `json:"symbol"`
	Shape  []int         `json:"shape"`
	Window [][][]float64 `json:"window"`
}

type reconstructResp struct {
	Reconstruction [][]float64 `json:"reconstruction"`
}

func (r *HTTPReconstructor) Reconstruct(ctx context.Context, symbol string, window [][][]float64) ([][]float64, error) {
	shape := []int{len(window), 0, 0}
	if len(window) > 0 {
		shape[1] = len(window[0])
		if len(window[0]) > 0 {
			shape[2] = len(window[0][0])
		}
	}

	var resp reconstructResp
	if err := r.base.PostJSONWithRetry(ctx, r.path, reconstructReq{Symbol: symbol, Shape: shape, Window: window}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrScorer, err)
	}
	if len(resp.Reconstruction) == 0 {
		return nil, fmt.Errorf("%w: empty reconstruction", models.ErrScorer)
	}
	return resp.Reconstruction, nil
}
