package models

import "time"

// Score is the anomaly metric of the latest window of a symbol.
type Score struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"`
	Metric    string    `json:"metric"` // "cosine" | "mse"
	Rows      int       `json:"rows"`
	Breached  bool      `json:"breached"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is published when a score crosses the threshold.
type Alert struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"`
	Metric    string    `json:"metric"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainingWindow is one extracted, normalized training example.
type TrainingWindow struct {
	Symbol  string
	Source  string // input file base name
	Seq     int
	Start   int // first row index, inclusive
	End     int // last row index, inclusive
	Columns []string
	Rows    [][]float64
}
