package executor

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseFill extracts a fill confirmation from an execution-collaborator
// callback payload. Callback shapes differ between venues, so the parse is
// tolerant: it accepts both flat and nested ("order": {...}) documents and
// only insists on an order id and a symbol.
func ParseFill(payload []byte) (Fill, error) {
	if !gjson.ValidBytes(payload) {
		return Fill{}, fmt.Errorf("fill callback: invalid json")
	}
	root := gjson.ParseBytes(payload)
	doc := root
	if nested := root.Get("order"); nested.Exists() {
		doc = nested
	}

	orderID := firstString(doc, "order_id", "client_order_id", "id")
	symbol := firstString(doc, "symbol", "pair")
	if orderID == "" || symbol == "" {
		return Fill{}, fmt.Errorf("fill callback: missing order id or symbol")
	}

	status := strings.ToLower(firstString(doc, "status", "state"))
	fill := Fill{
		OrderID:  orderID,
		Symbol:   strings.ToUpper(symbol),
		Price:    firstFloat(doc, "fill_price", "average", "price"),
		Quantity: firstFloat(doc, "fill_qty", "filled", "amount", "quantity"),
	}
	switch status {
	case "rejected", "expired", "failed":
		fill.Rejected = true
		fill.Reason = firstString(doc, "reason", "reject_reason")
		if fill.Reason == "" {
			fill.Reason = status
		}
	}
	return fill, nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstFloat(doc gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Float() != 0 {
			return v.Float()
		}
	}
	return 0
}
