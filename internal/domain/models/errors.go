package models

import "errors"

// Failure categories of the live cycle and the offline passes.
var (
	// ErrNoData means the source answered without usable data. The symbol is skipped this cycle.
	ErrNoData = errors.New("no data from source")

	ErrMalformedRecord = errors.New("malformed record")
	ErrMalformedWindow = errors.New("malformed window")

	ErrStoreDirMissing = errors.New("store directory missing")
	ErrSchemaMismatch  = errors.New("store header does not match schema")
	ErrMissingColumn   = errors.New("required column missing")

	ErrNotEnoughHistory = errors.New("not enough history")

	ErrScorer   = errors.New("reconstruction scorer failed")
	ErrDelivery = errors.New("alert delivery failed")
)

// Category labels used in logs and metrics.
const (
	CategorySource    = "source"
	CategoryMalformed = "malformed"
	CategoryStorage   = "storage"
	CategoryScorer    = "scorer"
	CategoryNotify    = "notify"
)

// Categorize maps an error to its log and metrics category.
func Categorize(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return CategorySource
	case errors.Is(err, ErrMalformedRecord), errors.Is(err, ErrMalformedWindow):
		return CategoryMalformed
	case errors.Is(err, ErrStoreDirMissing), errors.Is(err, ErrSchemaMismatch), errors.Is(err, ErrMissingColumn):
		return CategoryStorage
	case errors.Is(err, ErrScorer):
		return CategoryScorer
	case errors.Is(err, ErrDelivery):
		return CategoryNotify
	default:
		return "internal"
	}
}
