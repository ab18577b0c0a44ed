package decision

import (
	"time"

	"marlin/internal/strategy"
)

// Decision is the consensus produced for one symbol on one tick. Derived and
// immutable; at most one per tick per symbol.
type Decision struct {
	Symbol       string            `json:"symbol"`
	Action       strategy.Action   `json:"action"`
	Strength     float64           `json:"strength"`
	Price        float64           `json:"price"`
	Contributing []strategy.Signal `json:"contributing"`
	DecidedAt    time.Time         `json:"decided_at"`
}
