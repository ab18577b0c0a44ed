package market

import "time"

// Tick is one normalized price update from the external feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the tick carries usable data.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0 && !t.Timestamp.IsZero()
}
