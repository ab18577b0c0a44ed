package risk

import "marlin/internal/strategy"

type VetoReason string

const (
	VetoDailyLimitReached        VetoReason = "DailyLimitReached"
	VetoDrawdownBreached         VetoReason = "DrawdownBreached"
	VetoPortfolioRiskExceeded    VetoReason = "PortfolioRiskExceeded"
	VetoCorrelationLimitExceeded VetoReason = "CorrelationLimitExceeded"
	VetoPendingOrderExists       VetoReason = "PendingOrderExists"
	VetoPositionAlreadyOpen      VetoReason = "PositionAlreadyOpen"
	VetoNoOpenPosition           VetoReason = "NoOpenPosition"
	VetoedExecution              VetoReason = "VetoedExecution"
)

// Veto is an expected, named outcome — not an error. Callers log and count
// it; nothing gets thrown.
type Veto struct {
	Reason VetoReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// ApprovedOrder is the risk-gated output handed to execution: quantity sized
// by the limits, stop-loss and take-profit derived from the reference price.
type ApprovedOrder struct {
	Symbol      string          `json:"symbol"`
	Side        strategy.Action `json:"side"`
	Quantity    float64         `json:"quantity"`
	Price       float64         `json:"price"`
	StopLoss    float64         `json:"stop_loss"`
	TakeProfit  float64         `json:"take_profit"`
	TrailingPct float64         `json:"trailing_pct,omitempty"`
	// ClosesPosition marks a sell that unwinds the full existing position.
	ClosesPosition bool `json:"closes_position,omitempty"`
}
