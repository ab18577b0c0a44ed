package decision

import (
	"time"

	"marlin/internal/logger"
	"marlin/internal/strategy"
)

// Aggregator folds the per-strategy signals of one tick into a single
// consensus decision. Scoring is weighted voting: each action accumulates
// weight×strength over the signals casting it, with weights normalized over
// the configured strategy set. Absent signals count as hold with zero
// strength, so hold never accumulates score and only wins by default.
//
// The result is fully deterministic for identical inputs, including the
// tie-break order: a score tie between buy and sell goes to the action with
// more contributing signals, and a remaining tie goes to sell.
type Aggregator struct {
	weights  map[string]float64
	total    float64
	minScore float64
}

// NewAggregator builds an aggregator over the given weighted strategy set.
// minScore is the smallest aggregate score that still emits a decision;
// values <= 0 keep the default behavior of requiring any positive score.
func NewAggregator(set []strategy.Weighted, minScore float64) *Aggregator {
	weights := make(map[string]float64, len(set))
	total := 0.0
	for _, ws := range set {
		if ws.Strategy == nil || ws.Weight <= 0 {
			continue
		}
		weights[ws.Strategy.Name()] = ws.Weight
		total += ws.Weight
	}
	return &Aggregator{weights: weights, total: total, minScore: minScore}
}

// Aggregate combines the tick's signals for one symbol. Returns nil when no
// action clears the minimum score: the tick produces no decision.
func (a *Aggregator) Aggregate(symbol string, signals []strategy.Signal) *Decision {
	if len(signals) == 0 || a.total <= 0 {
		return nil
	}

	var buyScore, sellScore float64
	var buyCount, sellCount int
	for _, sig := range signals {
		w, ok := a.weights[sig.Strategy]
		if !ok {
			logger.Debugf("aggregator: dropping signal from unknown strategy %q", sig.Strategy)
			continue
		}
		contribution := (w / a.total) * sig.Strength
		switch sig.Action {
		case strategy.ActionBuy:
			buyScore += contribution
			buyCount++
		case strategy.ActionSell:
			sellScore += contribution
			sellCount++
		}
	}

	action, score, count := pickWinner(buyScore, sellScore, buyCount, sellCount)
	if action == strategy.ActionHold {
		return nil
	}
	if score <= 0 || (a.minScore > 0 && score < a.minScore) {
		return nil
	}

	contributing := make([]strategy.Signal, 0, count)
	var price float64
	for _, sig := range signals {
		if sig.Action != action {
			continue
		}
		if _, ok := a.weights[sig.Strategy]; !ok {
			continue
		}
		contributing = append(contributing, sig)
		if price == 0 {
			price = sig.Price
		}
	}

	return &Decision{
		Symbol:       symbol,
		Action:       action,
		Strength:     score,
		Price:        price,
		Contributing: contributing,
		DecidedAt:    time.Now().UTC(),
	}
}

// pickWinner applies the documented ordering: higher score first, then more
// contributors, then sell over buy (bias toward risk reduction).
func pickWinner(buyScore, sellScore float64, buyCount, sellCount int) (strategy.Action, float64, int) {
	switch {
	case buyScore > sellScore:
		return strategy.ActionBuy, buyScore, buyCount
	case sellScore > buyScore:
		return strategy.ActionSell, sellScore, sellCount
	case buyCount > sellCount:
		return strategy.ActionBuy, buyScore, buyCount
	default:
		if sellScore <= 0 {
			return strategy.ActionHold, 0, 0
		}
		return strategy.ActionSell, sellScore, sellCount
	}
}
