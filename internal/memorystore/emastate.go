package memorystore

import "sync"

// EMAKey identifies live EMA state for one symbol and period.
type EMAKey struct {
	Symbol string
	Period int
}

// EMAState is the scalar EMA through the last closed candle plus the value
// through the candle before it.
type EMAState struct {
	Value       float64
	Previous    float64
	HasPrevious bool
	OpenTime    int64 // open time of the candle Value includes
}

// Advance returns the state after a new closed candle moved the EMA to value.
func (s EMAState) Advance(value float64, openTime int64) EMAState {
	return EMAState{
		Value:       value,
		Previous:    s.Value,
		HasPrevious: true,
		OpenTime:    openTime,
	}
}

// MemoryEMAStore keeps live EMA state for a monitoring session.
type MemoryEMAStore struct {
	mu   sync.RWMutex
	data map[EMAKey]EMAState
}

func NewEMAStore() *MemoryEMAStore {
	return &MemoryEMAStore{data: make(map[EMAKey]EMAState)}
}

func (s *MemoryEMAStore) Get(symbol string, period int) (EMAState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[EMAKey{Symbol: symbol, Period: period}]
	return st, ok
}

func (s *MemoryEMAStore) Put(symbol string, period int, st EMAState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[EMAKey{Symbol: symbol, Period: period}] = st
}

// DeleteSymbol discards every period tracked for symbol.
func (s *MemoryEMAStore) DeleteSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if k.Symbol == symbol {
			delete(s.data, k)
		}
	}
}

// Reset discards all state.
func (s *MemoryEMAStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[EMAKey]EMAState)
}

func (s *MemoryEMAStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
