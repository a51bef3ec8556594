package models

import (
	"github.com/shopspring/decimal"
)

// Column names of the per-symbol store and of historical dumps.
const (
	ColTimestamp            = "timestamp"
	ColCreateTime           = "create_time"
	ColSymbol               = "symbol"
	ColSumOpenInterest      = "sum_open_interest"
	ColSumOpenInterestValue = "sum_open_interest_value"
	ColOpen                 = "open"
	ColHigh                 = "high"
	ColLow                  = "low"
	ColClose                = "close"
	ColVolume               = "volume"
	ColQuoteVolume          = "quote_volume"
	ColCount                = "count"
	ColTakerBuyVolume       = "taker_buy_volume"
	ColTakerBuyQuoteVolume  = "taker_buy_quote_volume"
	ColVolumeDelta          = "volume_delta"
)

// FeatureColumns is the model input order. Timestamp and symbol are never features.
var FeatureColumns = []string{
	ColSumOpenInterest,
	ColSumOpenInterestValue,
	ColOpen,
	ColHigh,
	ColLow,
	ColClose,
	ColVolume,
	ColQuoteVolume,
	ColCount,
	ColTakerBuyVolume,
	ColTakerBuyQuoteVolume,
	ColVolumeDelta,
}

// StoreColumns is the header written by the live store.
var StoreColumns = append([]string{ColTimestamp}, FeatureColumns...)

// Record is one merged open-interest + kline tick of a symbol.
type Record struct {
	Timestamp            int64               `json:"timestamp"` // unix ms, kline open time
	Symbol               string              `json:"symbol,omitempty"`
	SumOpenInterest      int64               `json:"sum_open_interest"`
	SumOpenInterestValue decimal.NullDecimal `json:"sum_open_interest_value"`
	Open                 decimal.NullDecimal `json:"open"`
	High                 decimal.NullDecimal `json:"high"`
	Low                  decimal.NullDecimal `json:"low"`
	Close                decimal.NullDecimal `json:"close"`
	Volume               decimal.NullDecimal `json:"volume"`
	QuoteVolume          decimal.NullDecimal `json:"quote_volume"`
	Count                int64               `json:"count"`
	TakerBuyVolume       decimal.NullDecimal `json:"taker_buy_volume"`
	TakerBuyQuoteVolume  decimal.NullDecimal `json:"taker_buy_quote_volume"`
	VolumeDelta          decimal.NullDecimal `json:"volume_delta"`
}

// VolumeDelta returns taker_buy_volume - (volume - taker_buy_volume).
// The result is invalid when either operand is missing.
func VolumeDelta(volume, takerBuyVolume decimal.NullDecimal) decimal.NullDecimal {
	if !volume.Valid || !takerBuyVolume.Valid {
		return decimal.NullDecimal{}
	}
	sell := volume.Decimal.Sub(takerBuyVolume.Decimal)
	return decimal.NewNullDecimal(takerBuyVolume.Decimal.Sub(sell))
}

// Features projects the record onto FeatureColumns. ok is false if any decimal field is withheld.
func (r *Record) Features() (row []float64, ok bool) {
	decs := []decimal.NullDecimal{
		r.SumOpenInterestValue, r.Open, r.High, r.Low, r.Close,
		r.Volume, r.QuoteVolume, r.TakerBuyVolume, r.TakerBuyQuoteVolume, r.VolumeDelta,
	}
	for _, d := range decs {
		if !d.Valid {
			return nil, false
		}
	}
	return []float64{
		float64(r.SumOpenInterest),
		r.SumOpenInterestValue.Decimal.InexactFloat64(),
		r.Open.Decimal.InexactFloat64(),
		r.High.Decimal.InexactFloat64(),
		r.Low.Decimal.InexactFloat64(),
		r.Close.Decimal.InexactFloat64(),
		r.Volume.Decimal.InexactFloat64(),
		r.QuoteVolume.Decimal.InexactFloat64(),
		float64(r.Count),
		r.TakerBuyVolume.Decimal.InexactFloat64(),
		r.TakerBuyQuoteVolume.Decimal.InexactFloat64(),
		r.VolumeDelta.Decimal.InexactFloat64(),
	}, true
}

// OpenInterestPoint is one tick of the open interest history endpoint.
type OpenInterestPoint struct {
	Timestamp            int64
	SumOpenInterest      decimal.NullDecimal
	SumOpenInterestValue decimal.NullDecimal
}

// Kline is one candle of the kline endpoint.
type Kline struct {
	OpenTime            int64
	Open                decimal.NullDecimal
	High                decimal.NullDecimal
	Low                 decimal.NullDecimal
	Close               decimal.NullDecimal
	Volume              decimal.NullDecimal
	QuoteVolume         decimal.NullDecimal
	Count               int64
	TakerBuyVolume      decimal.NullDecimal
	TakerBuyQuoteVolume decimal.NullDecimal
}
