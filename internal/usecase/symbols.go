package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	drepo "OIWatch/internal/domain/repository"
)

// StaticSymbols is a fixed, configured symbol list.
type StaticSymbols []string

func (s StaticSymbols) Symbols(context.Context) ([]string, error) {
	return normalizeSymbols(s), nil
}

// StoreSymbols tracks every symbol that already has a store file.
type StoreSymbols struct {
	Store drepo.SymbolStore
}

func (s StoreSymbols) Symbols(ctx context.Context) ([]string, error) {
	syms, err := s.Store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list store symbols: %w", err)
	}
	return normalizeSymbols(syms), nil
}

// NewSymbolSource picks a source by its config name: config, store or exchange.
func NewSymbolSource(kind string, list []string, store drepo.SymbolStore, exchange drepo.SymbolSource) (drepo.SymbolSource, error) {
	switch kind {
	case "config", "":
		return StaticSymbols(list), nil
	case "store":
		return StoreSymbols{Store: store}, nil
	case "exchange":
		if exchange == nil {
			return nil, fmt.Errorf("exchange symbol source not configured")
		}
		return exchange, nil
	default:
		return nil, fmt.Errorf("unknown symbol source %q", kind)
	}
}

// normalizeSymbols uppercases, drops blanks and duplicates, and sorts.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
