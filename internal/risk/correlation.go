package risk

import (
	"math"
	"strings"
	"sync"

	"marlin/internal/logger"
	"marlin/internal/market"
)

// CorrelationTracker computes pairwise Pearson correlations of trailing
// simple returns from the shared candle store. Refresh recomputes the matrix
// for the given symbols; reads are lock-free against the last published map.
type CorrelationTracker struct {
	store  *market.Store
	window int

	mu     sync.RWMutex
	matrix map[string]float64
}

func NewCorrelationTracker(store *market.Store, window int) *CorrelationTracker {
	if window <= 1 {
		window = 30
	}
	return &CorrelationTracker{
		store:  store,
		window: window,
		matrix: make(map[string]float64),
	}
}

// Correlation returns the last computed correlation for the pair. Symbol
// order does not matter. A symbol paired with itself is always 1.
func (t *CorrelationTracker) Correlation(a, b string) (float64, bool) {
	a, b = normalizePair(a, b)
	if a == b {
		return 1, true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.matrix[a+"|"+b]
	return v, ok
}

// Refresh recomputes the matrix for all symbol pairs with enough history.
func (t *CorrelationTracker) Refresh(symbols []string) {
	returns := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		r := trailingReturns(t.store.History(sym), t.window)
		if len(r) >= 2 {
			returns[strings.ToUpper(sym)] = r
		}
	}

	next := make(map[string]float64)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := normalizePair(symbols[i], symbols[j])
			ra, ok1 := returns[a]
			rb, ok2 := returns[b]
			if !ok1 || !ok2 {
				continue
			}
			if corr, ok := pearson(ra, rb); ok {
				next[a+"|"+b] = corr
			}
		}
	}

	t.mu.Lock()
	t.matrix = next
	t.mu.Unlock()
	logger.Debugf("correlation: refreshed %d pairs over window %d", len(next), t.window)
}

func trailingReturns(candles []market.Candle, window int) []float64 {
	closes := market.Closes(candles)
	if len(closes) < 2 {
		return nil
	}
	if len(closes) > window+1 {
		closes = closes[len(closes)-window-1:]
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// pearson computes the correlation of two equal-length-truncated series.
// Returns false when either side has zero variance.
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	corr := cov / math.Sqrt(varA*varB)
	// guard against float drift outside [-1,1]
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return corr, true
}

func normalizePair(a, b string) (string, string) {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a, b
}
