package usecase

import (
	"testing"

	"OIWatch/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func oiAt(ts int64, oi string) models.OpenInterestPoint {
	return models.OpenInterestPoint{Timestamp: ts, SumOpenInterest: nd(oi), SumOpenInterestValue: nd("1000.125")}
}

func klineAt(ts int64, close string) models.Kline {
	return models.Kline{
		OpenTime: ts, Open: nd("1"), High: nd("2"), Low: nd("0.5"), Close: nd(close),
		Volume: nd("10"), QuoteVolume: nd("20"), Count: 7, TakerBuyVolume: nd("6"), TakerBuyQuoteVolume: nd("12"),
	}
}

func TestMergeAlignsByTimestamp(t *testing.T) {
	// The OI series dropped tick 200 and the klines arrive out of order.
	oi := []models.OpenInterestPoint{oiAt(100, "10.4"), oiAt(300, "30.5"), oiAt(400, "40")}
	kl := []models.Kline{klineAt(300, "3"), klineAt(100, "1"), klineAt(200, "2")}

	recs, stats := Merge("BTCUSDT", oi, kl, MergeDrop)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(100), recs[0].Timestamp)
	assert.Equal(t, int64(10), recs[0].SumOpenInterest)
	assert.Equal(t, "1", recs[0].Close.Decimal.String())
	assert.Equal(t, int64(300), recs[1].Timestamp)
	assert.Equal(t, int64(31), recs[1].SumOpenInterest, "rounded half away from zero")
	assert.Equal(t, "3", recs[1].Close.Decimal.String())
	assert.Equal(t, 1, stats.UnmatchedKlines)
	assert.Equal(t, 1, stats.UnmatchedOI)
}

func TestMergeCarryForward(t *testing.T) {
	oi := []models.OpenInterestPoint{oiAt(100, "10"), oiAt(300, "30")}
	kl := []models.Kline{klineAt(50, "0"), klineAt(100, "1"), klineAt(200, "2"), klineAt(300, "3")}

	recs, stats := Merge("BTCUSDT", oi, kl, MergeCarryForward)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{recs[0].Timestamp, recs[1].Timestamp, recs[2].Timestamp})
	assert.Equal(t, int64(10), recs[1].SumOpenInterest)
	assert.Equal(t, 1, stats.CarriedForward)
	assert.Equal(t, 1, stats.UnmatchedKlines, "kline before the first OI tick is dropped")
}

func TestMergeDedupesBoundaryTick(t *testing.T) {
	oi := []models.OpenInterestPoint{oiAt(100, "10"), oiAt(100, "11")}
	kl := []models.Kline{klineAt(100, "1"), klineAt(100, "1.5")}

	recs, _ := Merge("BTCUSDT", oi, kl, MergeDrop)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(11), recs[0].SumOpenInterest)
	assert.Equal(t, "1.5", recs[0].Close.Decimal.String())
}

func TestMergeVolumeDelta(t *testing.T) {
	k := klineAt(100, "1")
	recs, _ := Merge("BTCUSDT", []models.OpenInterestPoint{oiAt(100, "1")}, []models.Kline{k}, MergeDrop)
	require.Len(t, recs, 1)
	// 6 - (10 - 6)
	assert.Equal(t, "2", recs[0].VolumeDelta.Decimal.String())

	k.TakerBuyVolume = decimal.NullDecimal{}
	recs, _ = Merge("BTCUSDT", []models.OpenInterestPoint{oiAt(100, "1")}, []models.Kline{k}, MergeDrop)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].VolumeDelta.Valid, "withheld when an operand is not numeric")
}

func TestMergeSkipsMalformedOI(t *testing.T) {
	p := oiAt(100, "1")
	p.SumOpenInterest = decimal.NullDecimal{}
	recs, stats := Merge("BTCUSDT", []models.OpenInterestPoint{p}, []models.Kline{klineAt(100, "1")}, MergeDrop)
	assert.Empty(t, recs)
	assert.Equal(t, 1, stats.Malformed)
}

func TestMergeCountsWithheldVolumeDelta(t *testing.T) {
	k := klineAt(200, "1")
	k.Volume = decimal.NullDecimal{}
	recs, stats := Merge("BTCUSDT",
		[]models.OpenInterestPoint{oiAt(100, "1"), oiAt(200, "2")},
		[]models.Kline{klineAt(100, "1"), k},
		MergeDrop)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, stats.Merged)
	assert.Equal(t, 1, stats.WithheldDelta)
	assert.Zero(t, stats.Malformed)
}
