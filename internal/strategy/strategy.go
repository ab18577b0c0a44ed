package strategy

import (
	"time"

	"marlin/internal/market"
)

// Action is the vote a strategy casts for a symbol.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is one strategy's opinion for a single tick. Immutable once produced.
type Signal struct {
	Symbol      string         `json:"symbol"`
	Action      Action         `json:"action"`
	Strength    float64        `json:"strength"`
	Price       float64        `json:"price"`
	Strategy    string         `json:"strategy"`
	GeneratedAt time.Time      `json:"generated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Strategy analyzes recent candle history for one symbol and either produces
// a Signal or abstains by returning nil. Implementations never touch portfolio
// state and never return errors: insufficient history is an abstention.
type Strategy interface {
	Name() string
	MinHistory() int
	Analyze(symbol string, history []market.Candle) *Signal
}

// Weighted pairs a strategy with its aggregation weight. Weights need not
// sum to 1; the aggregator normalizes them.
type Weighted struct {
	Strategy Strategy
	Weight   float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func signalAt(history []market.Candle) time.Time {
	if len(history) == 0 {
		return time.Now().UTC()
	}
	ts := history[len(history)-1].CloseTime
	if ts == 0 {
		ts = history[len(history)-1].OpenTime
	}
	if ts == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ts).UTC()
}
