package memorystore

import (
	"strings"
	"sync"
)

type MemorySymbolStore struct {
	mu      sync.Mutex
	symbols []string
	seen    map[string]bool
}

func NewSymbolStore() *MemorySymbolStore {
	return &MemorySymbolStore{
		symbols: make([]string, 0),
		seen:    make(map[string]bool),
	}
}

// Add appends symbol unless it is already present.
func (s *MemorySymbolStore) Add(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(symbol)
}

func (s *MemorySymbolStore) add(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || s.seen[symbol] {
		return
	}
	s.seen[symbol] = true
	s.symbols = append(s.symbols, symbol)
}

// Replace swaps the whole set, keeping input order and dropping duplicates.
func (s *MemorySymbolStore) Replace(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make([]string, 0, len(symbols))
	s.seen = make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		s.add(sym)
	}
}

// Remove drops symbol and reports whether it was present.
func (s *MemorySymbolStore) Remove(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seen[symbol] {
		return false
	}
	delete(s.seen, symbol)
	for i, sym := range s.symbols {
		if sym == symbol {
			s.symbols = append(s.symbols[:i], s.symbols[i+1:]...)
			break
		}
	}
	return true
}

func (s *MemorySymbolStore) GetAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Streams maps every symbol through name, e.g. binance.StreamName.
func (s *MemorySymbolStore) Streams(interval string, name func(symbol, interval string) string) []string {
	symbols := s.GetAll()
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		out[i] = name(sym, interval)
	}
	return out
}

func (s *MemorySymbolStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.symbols)
}
