package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/domain/repository"
	xlogger "OIWatch/pkg/logger"
)

// StoreFileSuffix names one symbol's rolling store: {SYMBOL}_concurrent_data.csv.
const StoreFileSuffix = "_concurrent_data.csv"

// CSVStore implements SymbolStore with one CSV file per symbol.
// Every write replaces the file through a temp file and rename.
type CSVStore struct {
	dir    string
	logger *xlogger.Logger
	locks  sync.Map // symbol -> *sync.Mutex
}

// NewCSVStore creates a store rooted at dir.
func NewCSVStore(dir string, l *xlogger.Logger) *CSVStore {
	if l == nil {
		l = xlogger.Nop()
	}
	return &CSVStore{dir: dir, logger: l.With(xlogger.String("component", "csv_store"))}
}

var _ repository.SymbolStore = (*CSVStore)(nil)

// Dir returns the store root.
func (s *CSVStore) Dir() string { return s.dir }

// Path returns the file of symbol.
func (s *CSVStore) Path(symbol string) string {
	return filepath.Join(s.dir, symbol+StoreFileSuffix)
}

func (s *CSVStore) lock(symbol string) func() {
	v, _ := s.locks.LoadOrStore(symbol, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func validSymbol(symbol string) error {
	if symbol == "" || strings.ContainsAny(symbol, `/\.`) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// WriteBootstrap overwrites the symbol's file with header plus records.
func (s *CSVStore) WriteBootstrap(ctx context.Context, symbol string, records []models.Record) error {
	if err := validSymbol(symbol); err != nil {
		return err
	}
	data, err := EncodeRecords(records, true)
	if err != nil {
		return fmt.Errorf("encode %s: %w", symbol, err)
	}
	defer s.lock(symbol)()
	return writeFileAtomic(s.Path(symbol), data)
}

// Append adds one row, writing the header first iff the file is empty or absent.
func (s *CSVStore) Append(ctx context.Context, symbol string, record models.Record) error {
	if err := validSymbol(symbol); err != nil {
		return err
	}
	defer s.lock(symbol)()

	path := s.Path(symbol)
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	empty := len(bytes.TrimSpace(existing)) == 0
	if !empty {
		ok, err := headerMatches(existing)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrSchemaMismatch, path, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrSchemaMismatch, path)
		}
	}

	row, err := EncodeRecords([]models.Record{record}, empty)
	if err != nil {
		return fmt.Errorf("encode %s: %w", symbol, err)
	}

	var buf bytes.Buffer
	if !empty {
		buf.Grow(len(existing) + len(row) + 1)
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(row)
	return writeFileAtomic(path, buf.Bytes())
}

// ReadAll returns the stored records in file order.
func (s *CSVStore) ReadAll(ctx context.Context, symbol string) ([]models.Record, error) {
	if err := validSymbol(symbol); err != nil {
		return nil, err
	}
	return s.ReadFile(s.Path(symbol))
}

// ReadFile decodes any store or history file.
func (s *CSVStore) ReadFile(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	res, err := DecodeRecords(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if res.Malformed > 0 {
		s.logger.Warn("skipped malformed rows",
			xlogger.String("path", path),
			xlogger.Category(models.CategoryMalformed),
			xlogger.Int("rows", res.Malformed),
		)
	}
	return res.Records, nil
}

// LastTimestamp returns the timestamp of the last stored record.
func (s *CSVStore) LastTimestamp(ctx context.Context, symbol string) (int64, bool, error) {
	recs, err := s.ReadAll(ctx, symbol)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(recs) == 0 {
		return 0, false, nil
	}
	return recs[len(recs)-1].Timestamp, true, nil
}

// Symbols lists symbols that have a store file.
func (s *CSVStore) Symbols(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+StoreFileSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), StoreFileSuffix))
	}
	sort.Strings(out)
	return out, nil
}

// Dedup rewrites the file sorted by timestamp, keeping the last record of each timestamp.
func (s *CSVStore) Dedup(ctx context.Context, symbol string) (int, error) {
	defer s.lock(symbol)()
	recs, err := s.ReadAll(ctx, symbol)
	if err != nil {
		return 0, err
	}
	unique := DedupRecords(recs)
	removed := len(recs) - len(unique)

	data, err := EncodeRecords(unique, true)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", symbol, err)
	}
	if err := writeFileAtomic(s.Path(symbol), data); err != nil {
		return 0, err
	}
	return removed, nil
}

// DedupRecords stable-sorts by timestamp and keeps the last occurrence of every timestamp.
func DedupRecords(recs []models.Record) []models.Record {
	sorted := make([]models.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := sorted[:0]
	for i := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp == sorted[i].Timestamp {
			out[n-1] = sorted[i]
			continue
		}
		out = append(out, sorted[i])
	}
	return out
}

// writeFileAtomic replaces path with data. The parent directory must exist.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", models.ErrStoreDirMissing, dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
