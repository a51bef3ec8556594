package models

// Requests for status HTTP endpoints. Defined in domain for consistency and reuse.

type ScoresRequest struct {
	Symbol string  `query:"symbol" json:"symbol" validate:"omitempty,uppercase,min=5,max=20"`
	Min    float64 `query:"min" json:"min" validate:"gte=-1000,lte=1000"`
	Limit  int     `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ScoreRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,uppercase,min=5,max=20"`
	Notify bool   `query:"notify" json:"notify"`
}
