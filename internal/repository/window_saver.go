package repository

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"OIWatch/internal/domain/models"

	"github.com/parquet-go/parquet-go"
)

// WindowSaver persists one training window per file.
type WindowSaver interface {
	Save(w models.TrainingWindow, path string) error
	Extension() string
}

// NewWindowSaver picks the implementation for format (csv, parquet, json).
// Returns nil if format is not supported.
func NewWindowSaver(format string) WindowSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv", "":
		return CSVWindowSaver{}
	case "parquet":
		return ParquetWindowSaver{}
	case "json":
		return JSONWindowSaver{}
	default:
		return nil
	}
}

// FeatureRow is the columnar layout of one normalized feature row.
type FeatureRow struct {
	SumOpenInterest      float64 `json:"sum_open_interest" parquet:"sum_open_interest"`
	SumOpenInterestValue float64 `json:"sum_open_interest_value" parquet:"sum_open_interest_value"`
	Open                 float64 `json:"open" parquet:"open"`
	High                 float64 `json:"high" parquet:"high"`
	Low                  float64 `json:"low" parquet:"low"`
	Close                float64 `json:"close" parquet:"close"`
	Volume               float64 `json:"volume" parquet:"volume"`
	QuoteVolume          float64 `json:"quote_volume" parquet:"quote_volume"`
	Count                float64 `json:"count" parquet:"count"`
	TakerBuyVolume       float64 `json:"taker_buy_volume" parquet:"taker_buy_volume"`
	TakerBuyQuoteVolume  float64 `json:"taker_buy_quote_volume" parquet:"taker_buy_quote_volume"`
	VolumeDelta          float64 `json:"volume_delta" parquet:"volume_delta"`
}

func featureRowFrom(v []float64) (FeatureRow, error) {
	if len(v) != len(models.FeatureColumns) {
		return FeatureRow{}, fmt.Errorf("%w: row has %d values, want %d", models.ErrMalformedWindow, len(v), len(models.FeatureColumns))
	}
	return FeatureRow{
		SumOpenInterest: v[0], SumOpenInterestValue: v[1], Open: v[2], High: v[3], Low: v[4], Close: v[5],
		Volume: v[6], QuoteVolume: v[7], Count: v[8], TakerBuyVolume: v[9], TakerBuyQuoteVolume: v[10], VolumeDelta: v[11],
	}, nil
}

func (r FeatureRow) values() []float64 {
	return []float64{
		r.SumOpenInterest, r.SumOpenInterestValue, r.Open, r.High, r.Low, r.Close,
		r.Volume, r.QuoteVolume, r.Count, r.TakerBuyVolume, r.TakerBuyQuoteVolume, r.VolumeDelta,
	}
}

func columnsOf(w models.TrainingWindow) []string {
	if len(w.Columns) == 0 {
		return models.FeatureColumns
	}
	return w.Columns
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CSVWindowSaver writes a header of feature names followed by the rows.
type CSVWindowSaver struct{}

func (CSVWindowSaver) Extension() string { return "csv" }

func (CSVWindowSaver) Save(win models.TrainingWindow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(f, func(out io.Writer) error {
		w := csv.NewWriter(out)
		if err := w.Write(columnsOf(win)); err != nil {
			return err
		}
		for _, row := range win.Rows {
			rec := make([]string, len(row))
			for i, v := range row {
				rec[i] = floatStr(v)
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// writeAndClose runs write against wc and always closes it. The write error wins over the close error.
func writeAndClose(wc io.WriteCloser, write func(io.Writer) error) (err error) {
	defer func() {
		if cerr := wc.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	return write(wc)
}

func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// JSONWindowSaver writes the window as an indented object with its columns and rows.
type JSONWindowSaver struct{}

func (JSONWindowSaver) Extension() string { return "json" }

type jsonWindow struct {
	Symbol  string      `json:"symbol,omitempty"`
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

func (JSONWindowSaver) Save(win models.TrainingWindow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(f, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonWindow{Symbol: win.Symbol, Columns: columnsOf(win), Rows: win.Rows})
	})
}

// ParquetWindowSaver writes FeatureRow records. Only the canonical feature layout is supported.
type ParquetWindowSaver struct{}

func (ParquetWindowSaver) Extension() string { return "parquet" }

func (ParquetWindowSaver) Save(win models.TrainingWindow, path string) error {
	if !sameColumns(columnsOf(win), models.FeatureColumns) {
		return fmt.Errorf("parquet windows require the canonical feature columns")
	}
	rows := make([]FeatureRow, 0, len(win.Rows))
	for _, v := range win.Rows {
		r, err := featureRowFrom(v)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	return parquet.WriteFile(path, rows)
}

// LoadWindow reads a window file written by any WindowSaver, picking the codec by extension.
func LoadWindow(path string) ([][]float64, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "csv":
		return loadCSVWindow(path)
	case "json":
		return loadJSONWindow(path)
	case "parquet":
		rows, err := parquet.ReadFile[FeatureRow](path)
		if err != nil {
			return nil, err
		}
		out := make([][]float64, len(rows))
		for i, r := range rows {
			out[i] = r.values()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported window file %s", path)
	}
}

func loadCSVWindow(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrMalformedWindow, path)
	}
	out := make([][]float64, 0, len(recs)-1)
	for n, rec := range recs[1:] {
		row := make([]float64, len(rec))
		for i, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: %v", models.ErrMalformedWindow, path, n+1, err)
			}
			row[i] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func loadJSONWindow(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w jsonWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrMalformedWindow, path, err)
	}
	return w.Rows, nil
}

// SnapshotRow is one normalized store row keyed by its timestamp.
type SnapshotRow struct {
	Timestamp            int64   `parquet:"timestamp"`
	SumOpenInterest      float64 `parquet:"sum_open_interest"`
	SumOpenInterestValue float64 `parquet:"sum_open_interest_value"`
	Open                 float64 `parquet:"open"`
	High                 float64 `parquet:"high"`
	Low                  float64 `parquet:"low"`
	Close                float64 `parquet:"close"`
	Volume               float64 `parquet:"volume"`
	QuoteVolume          float64 `parquet:"quote_volume"`
	Count                float64 `parquet:"count"`
	TakerBuyVolume       float64 `parquet:"taker_buy_volume"`
	TakerBuyQuoteVolume  float64 `parquet:"taker_buy_quote_volume"`
	VolumeDelta          float64 `parquet:"volume_delta"`
}

// WriteSnapshot writes a normalized table next to the store as
// {dir}/{SYMBOL}_normalized_{version}.{format} and returns its path.
func WriteSnapshot(dir, symbol string, version int64, format string, timestamps []int64, rows [][]float64) (string, error) {
	if len(timestamps) != len(rows) {
		return "", fmt.Errorf("snapshot: %d timestamps for %d rows", len(timestamps), len(rows))
	}
	ext := strings.ToLower(strings.TrimSpace(format))
	if ext == "" {
		ext = "csv"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_normalized_%d.%s", symbol, version, ext))

	switch ext {
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		if err := w.Write(models.StoreColumns); err != nil {
			return "", err
		}
		for i, row := range rows {
			rec := make([]string, 0, len(row)+1)
			rec = append(rec, strconv.FormatInt(timestamps[i], 10))
			for _, v := range row {
				rec = append(rec, floatStr(v))
			}
			if err := w.Write(rec); err != nil {
				return "", err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return path, writeFileAtomic(path, []byte(b.String()))
	case "parquet":
		out := make([]SnapshotRow, 0, len(rows))
		for i, v := range rows {
			fr, err := featureRowFrom(v)
			if err != nil {
				return "", err
			}
			out = append(out, SnapshotRow{
				Timestamp: timestamps[i], SumOpenInterest: fr.SumOpenInterest, SumOpenInterestValue: fr.SumOpenInterestValue,
				Open: fr.Open, High: fr.High, Low: fr.Low, Close: fr.Close, Volume: fr.Volume, QuoteVolume: fr.QuoteVolume,
				Count: fr.Count, TakerBuyVolume: fr.TakerBuyVolume, TakerBuyQuoteVolume: fr.TakerBuyQuoteVolume, VolumeDelta: fr.VolumeDelta,
			})
		}
		return path, parquet.WriteFile(path, out)
	default:
		return "", fmt.Errorf("unsupported snapshot format %q", format)
	}
}
