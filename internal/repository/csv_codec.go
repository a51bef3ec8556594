package repository

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"OIWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

// createTimeLayout is the timestamp format of historical metric dumps.
const createTimeLayout = "2006-01-02 15:04:05"

// EncodeRecords renders header plus rows in StoreColumns order.
func EncodeRecords(records []models.Record, withHeader bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if withHeader {
		if err := w.Write(models.StoreColumns); err != nil {
			return nil, err
		}
	}
	for i := range records {
		if err := w.Write(encodeRecord(&records[i])); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeRecord(r *models.Record) []string {
	return []string{
		strconv.FormatInt(r.Timestamp, 10),
		strconv.FormatInt(r.SumOpenInterest, 10),
		decStr(r.SumOpenInterestValue),
		decStr(r.Open),
		decStr(r.High),
		decStr(r.Low),
		decStr(r.Close),
		decStr(r.Volume),
		decStr(r.QuoteVolume),
		strconv.FormatInt(r.Count, 10),
		decStr(r.TakerBuyVolume),
		decStr(r.TakerBuyQuoteVolume),
		decStr(r.VolumeDelta),
	}
}

func decStr(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// DecodeResult is a decoded store or history file.
type DecodeResult struct {
	Header    []string
	Records   []models.Record
	Malformed int // rows skipped because of an unusable integer or time cell
}

// DecodeRecords reads a header-driven CSV. Either timestamp or create_time identifies the tick;
// symbol is optional and unknown columns are ignored.
func DecodeRecords(r io.Reader) (*DecodeResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &DecodeResult{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))] = i
	}

	timeCol, ok := idx[models.ColTimestamp]
	timeIsCreate := false
	if !ok {
		if timeCol, ok = idx[models.ColCreateTime]; !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingColumn, models.ColTimestamp)
		}
		timeIsCreate = true
	}
	cols := make([]int, len(models.FeatureColumns))
	for i, name := range models.FeatureColumns {
		c, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingColumn, name)
		}
		cols[i] = c
	}
	symCol, hasSym := idx[models.ColSymbol]

	res := &DecodeResult{Header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		cell := func(c int) string {
			if c < len(row) {
				return strings.TrimSpace(row[c])
			}
			return ""
		}

		var rec models.Record
		var good bool
		if timeIsCreate {
			rec.Timestamp, good = parseCreateTime(cell(timeCol))
		} else {
			rec.Timestamp, good = parseIntCell(cell(timeCol))
		}
		if !good {
			res.Malformed++
			continue
		}
		if hasSym {
			rec.Symbol = cell(symCol)
		}
		if rec.SumOpenInterest, good = parseIntCell(cell(cols[0])); !good {
			res.Malformed++
			continue
		}
		if rec.Count, good = parseIntCell(cell(cols[8])); !good {
			res.Malformed++
			continue
		}
		rec.SumOpenInterestValue = parseDecCell(cell(cols[1]))
		rec.Open = parseDecCell(cell(cols[2]))
		rec.High = parseDecCell(cell(cols[3]))
		rec.Low = parseDecCell(cell(cols[4]))
		rec.Close = parseDecCell(cell(cols[5]))
		rec.Volume = parseDecCell(cell(cols[6]))
		rec.QuoteVolume = parseDecCell(cell(cols[7]))
		rec.TakerBuyVolume = parseDecCell(cell(cols[9]))
		rec.TakerBuyQuoteVolume = parseDecCell(cell(cols[10]))
		rec.VolumeDelta = parseDecCell(cell(cols[11]))
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func parseDecCell(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// parseIntCell accepts "12" and float spellings such as "12.0" or "1.2e3", rounding the latter.
func parseIntCell(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.Round(0).IntPart(), true
}

func parseCreateTime(s string) (int64, bool) {
	if v, ok := parseIntCell(s); ok {
		return v, true
	}
	t, err := time.ParseInLocation(createTimeLayout, s, time.UTC)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// headerMatches reports whether the first line of data equals the store schema.
func headerMatches(data []byte) (bool, error) {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	fields, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil {
		return false, fmt.Errorf("read header: %w", err)
	}
	if len(fields) != len(models.StoreColumns) {
		return false, nil
	}
	for i, f := range fields {
		if strings.TrimSpace(f) != models.StoreColumns[i] {
			return false, nil
		}
	}
	return true, nil
}
