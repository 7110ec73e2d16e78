package memorystore

import (
	"sync"

	"crossscanner/pkg/binance"
)

// MemoryKlineStore keeps a bounded history of closed candles per symbol.
type MemoryKlineStore struct {
	globalMu sync.RWMutex
	data     map[string]*symbolKlineStore
	capacity int
}

type symbolKlineStore struct {
	mu     sync.Mutex
	klines []binance.Kline
}

// NewKlineStore creates a store keeping at most capacity candles per symbol;
// capacity <= 0 means unbounded.
func NewKlineStore(capacity int) *MemoryKlineStore {
	return &MemoryKlineStore{
		data:     make(map[string]*symbolKlineStore),
		capacity: capacity,
	}
}

func (s *MemoryKlineStore) symbolStore(symbol string) *symbolKlineStore {
	// Fast path: lock per-symbol store only
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if ok {
		return store
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if store, ok = s.data[symbol]; !ok {
		store = &symbolKlineStore{}
		s.data[symbol] = store
	}
	return store
}

// Add appends a closed candle. Candles that do not open after the stored
// tail are ignored and Add reports false.
func (s *MemoryKlineStore) Add(symbol string, k binance.Kline) bool {
	store := s.symbolStore(symbol)

	store.mu.Lock()
	defer store.mu.Unlock()

	if n := len(store.klines); n > 0 && k.OpenTime <= store.klines[n-1].OpenTime {
		return false
	}
	store.klines = append(store.klines, k)
	if s.capacity > 0 && len(store.klines) > s.capacity {
		store.klines = append([]binance.Kline(nil), store.klines[len(store.klines)-s.capacity:]...)
	}
	return true
}

// Set replaces the history of symbol.
func (s *MemoryKlineStore) Set(symbol string, klines []binance.Kline) {
	store := s.symbolStore(symbol)

	if s.capacity > 0 && len(klines) > s.capacity {
		klines = klines[len(klines)-s.capacity:]
	}
	cp := make([]binance.Kline, len(klines))
	copy(cp, klines)

	store.mu.Lock()
	store.klines = cp
	store.mu.Unlock()
}

// Last returns the newest candle of symbol.
func (s *MemoryKlineStore) Last(symbol string) (binance.Kline, bool) {
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return binance.Kline{}, false
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.klines) == 0 {
		return binance.Kline{}, false
	}
	return store.klines[len(store.klines)-1], true
}

func (s *MemoryKlineStore) GetBySymbol(symbol string) []binance.Kline {
	s.globalMu.RLock()
	store, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	cp := make([]binance.Kline, len(store.klines))
	copy(cp, store.klines)
	return cp
}

// Delete drops the history of symbol.
func (s *MemoryKlineStore) Delete(symbol string) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	delete(s.data, symbol)
}

// CountAll returns the total number of candles stored across all symbols.
func (s *MemoryKlineStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, store := range s.data {
		store.mu.Lock()
		total += len(store.klines)
		store.mu.Unlock()
	}
	return total
}
