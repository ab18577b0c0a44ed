package market

import (
	"strings"
	"sync"
)

// Store keeps a bounded rolling candle history per symbol. Strategies read
// from it; the feed adapter and the engine write to it. All methods are
// safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	maxCached int
	candles   map[string][]Candle
	lastEvent map[string]int64
}

func NewStore(maxCached int) *Store {
	if maxCached <= 0 {
		maxCached = 500
	}
	return &Store{
		maxCached: maxCached,
		candles:   make(map[string][]Candle),
		lastEvent: make(map[string]int64),
	}
}

// Append adds one closed candle, dropping the oldest entries beyond the cap.
// Candles whose open time does not advance past the last stored candle are
// ignored so duplicates and replays cannot corrupt the history.
func (s *Store) Append(symbol string, c Candle) bool {
	key := normalize(symbol)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.candles[key]
	if n := len(buf); n > 0 && c.OpenTime <= buf[n-1].OpenTime {
		return false
	}
	buf = append(buf, c)
	if len(buf) > s.maxCached {
		buf = buf[len(buf)-s.maxCached:]
	}
	s.candles[key] = buf
	return true
}

// Seed replaces the history for a symbol, used by preheat on startup.
func (s *Store) Seed(symbol string, candles []Candle) {
	key := normalize(symbol)
	if key == "" {
		return
	}
	cp := append([]Candle(nil), candles...)
	if len(cp) > s.maxCached {
		cp = cp[len(cp)-s.maxCached:]
	}
	s.mu.Lock()
	s.candles[key] = cp
	s.mu.Unlock()
}

// History returns a copy of the stored candles for the symbol.
func (s *Store) History(symbol string) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.candles[normalize(symbol)]
	if len(buf) == 0 {
		return nil
	}
	return append([]Candle(nil), buf...)
}

// LastClose returns the most recent close price, or 0 when empty.
func (s *Store) LastClose(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.candles[normalize(symbol)]
	if len(buf) == 0 {
		return 0
	}
	return buf[len(buf)-1].Close
}

// MarkEvent records the timestamp of the latest accepted tick and reports
// whether the given timestamp advances it. Out-of-order or duplicate
// timestamps return false and the caller is expected to skip the tick.
func (s *Store) MarkEvent(symbol string, unixMilli int64) bool {
	key := normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastEvent[key]; ok && unixMilli <= last {
		return false
	}
	s.lastEvent[key] = unixMilli
	return true
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
