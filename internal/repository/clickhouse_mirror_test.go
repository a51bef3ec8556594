package repository

import (
	"strings"
	"testing"
	"time"

	"OIWatch/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMirrorInsert(t *testing.T) {
	r := recordAt(1700000000000, "1.5")
	r.VolumeDelta = decimal.NullDecimal{}

	q, args := buildMirrorInsert("oiwatch.records", "BTCUSDT", []models.Record{r, recordAt(1700000300000, "2")})
	assert.True(t, strings.HasPrefix(q, "INSERT INTO oiwatch.records (ts, symbol,"))
	assert.Equal(t, 2, strings.Count(q, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"))
	require.Len(t, args, 28)

	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), args[0])
	assert.Equal(t, "BTCUSDT", args[1])
	assert.Equal(t, int64(100), args[2])
	require.NotNil(t, args[7])
	assert.Equal(t, 1.5, *args[7].(*float64))
	assert.Nil(t, args[13].(*float64), "withheld cells mirror as NULL")
}

func TestCreateMirrorTable(t *testing.T) {
	ddl := createMirrorTable("oiwatch.records")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS oiwatch.records")
	assert.Contains(t, ddl, "ORDER BY (symbol, ts)")
}
