package usecase

import (
	"fmt"
	"sort"

	"OIWatch/internal/domain/models"
)

// MergePolicy decides what happens to a kline that has no open interest tick at the same timestamp.
type MergePolicy string

const (
	MergeDrop         MergePolicy = "drop"
	MergeCarryForward MergePolicy = "carry_forward"
)

// ParseMergePolicy accepts the config spelling.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case MergeDrop, "":
		return MergeDrop, nil
	case MergeCarryForward:
		return MergeCarryForward, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// MergeStats counts ticks that did not make it into the merged sequence.
type MergeStats struct {
	Merged          int
	UnmatchedKlines int
	UnmatchedOI     int
	Malformed       int
	CarriedForward  int
	WithheldDelta   int // merged records whose volume_delta could not be derived
}

// Merge joins open interest and klines on timestamp (OI timestamp == kline open time).
// Output is ascending with unique timestamps. Within one series a repeated
// timestamp keeps its last occurrence.
func Merge(symbol string, oi []models.OpenInterestPoint, klines []models.Kline, policy MergePolicy) ([]models.Record, MergeStats) {
	var stats MergeStats

	oiByTS := make(map[int64]models.OpenInterestPoint, len(oi))
	for _, p := range oi {
		oiByTS[p.Timestamp] = p
	}
	oiTimes := make([]int64, 0, len(oiByTS))
	for ts := range oiByTS {
		oiTimes = append(oiTimes, ts)
	}
	sort.Slice(oiTimes, func(i, j int) bool { return oiTimes[i] < oiTimes[j] })

	klByTS := make(map[int64]models.Kline, len(klines))
	for _, k := range klines {
		klByTS[k.OpenTime] = k
	}
	klTimes := make([]int64, 0, len(klByTS))
	for ts := range klByTS {
		klTimes = append(klTimes, ts)
	}
	sort.Slice(klTimes, func(i, j int) bool { return klTimes[i] < klTimes[j] })

	records := make([]models.Record, 0, len(klTimes))
	matchedOI := 0
	next := 0 // index into oiTimes of the first tick after the current kline
	for _, ts := range klTimes {
		for next < len(oiTimes) && oiTimes[next] <= ts {
			next++
		}
		p, exact := oiByTS[ts]
		switch {
		case exact:
			matchedOI++
		case policy == MergeCarryForward && next > 0:
			p = oiByTS[oiTimes[next-1]]
			stats.CarriedForward++
		default:
			stats.UnmatchedKlines++
			continue
		}

		rec, ok := buildRecord(symbol, p, klByTS[ts])
		if !ok {
			stats.Malformed++
			continue
		}
		if !rec.VolumeDelta.Valid {
			stats.WithheldDelta++
		}
		records = append(records, rec)
	}
	stats.UnmatchedOI = len(oiTimes) - matchedOI
	stats.Merged = len(records)
	return records, stats
}

func buildRecord(symbol string, p models.OpenInterestPoint, k models.Kline) (models.Record, bool) {
	if !p.SumOpenInterest.Valid {
		return models.Record{}, false
	}
	return models.Record{
		Timestamp:            k.OpenTime,
		Symbol:               symbol,
		SumOpenInterest:      p.SumOpenInterest.Decimal.Round(0).IntPart(),
		SumOpenInterestValue: p.SumOpenInterestValue,
		Open:                 k.Open,
		High:                 k.High,
		Low:                  k.Low,
		Close:                k.Close,
		Volume:               k.Volume,
		QuoteVolume:          k.QuoteVolume,
		Count:                k.Count,
		TakerBuyVolume:       k.TakerBuyVolume,
		TakerBuyQuoteVolume:  k.TakerBuyQuoteVolume,
		VolumeDelta:          models.VolumeDelta(k.Volume, k.TakerBuyVolume),
	}, true
}
