package usecase

import (
	"sort"
	"sync"
)

// SymbolState is one row of the bootstrap table.
type SymbolState struct {
	Symbol        string `json:"symbol"`
	Bootstrapped  bool   `json:"bootstrapped"`
	LastTimestamp int64  `json:"last_timestamp"`
}

// BootstrapState tracks which symbols have had their initial history written.
// It starts empty for every process, so each symbol is re-bootstrapped after a restart.
type BootstrapState struct {
	mu   sync.RWMutex
	last map[string]int64
}

func NewBootstrapState() *BootstrapState {
	return &BootstrapState{last: make(map[string]int64)}
}

// MarkBootstrapped moves symbol to the bootstrapped state, or advances its last tick.
func (b *BootstrapState) MarkBootstrapped(symbol string, lastTimestamp int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.last[symbol]; ok && prev > lastTimestamp {
		return
	}
	b.last[symbol] = lastTimestamp
}

// Lookup returns the last stored tick of a bootstrapped symbol.
func (b *BootstrapState) Lookup(symbol string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, ok := b.last[symbol]
	return ts, ok
}

// Len returns the number of bootstrapped symbols.
func (b *BootstrapState) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.last)
}

// Snapshot lists the bootstrapped symbols sorted by name.
func (b *BootstrapState) Snapshot() []SymbolState {
	b.mu.RLock()
	out := make([]SymbolState, 0, len(b.last))
	for s, ts := range b.last {
		out = append(out, SymbolState{Symbol: s, Bootstrapped: true, LastTimestamp: ts})
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
