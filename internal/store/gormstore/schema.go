package gormstore

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// snapshotSchema pins the persisted snapshot shape. Restoring from a row that
// predates a breaking change (or was corrupted on disk) is rejected up front.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["cash_balance", "equity", "positions", "order_log", "peak_equity"],
  "properties": {
    "cash_balance": {"type": "number", "minimum": 0},
    "equity": {"type": "number", "minimum": 0},
    "peak_equity": {"type": "number", "minimum": 0},
    "current_drawdown_pct": {"type": "number", "minimum": 0, "maximum": 1},
    "realized_pnl": {"type": "number"},
    "daily_trade_count": {"type": "integer", "minimum": 0},
    "trade_count_reset_at": {"type": "string"},
    "last_prices": {
      "type": "object",
      "additionalProperties": {"type": "number", "exclusiveMinimum": 0}
    },
    "positions": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["symbol", "side", "entry_price", "quantity", "status"],
        "properties": {
          "symbol": {"type": "string", "minLength": 1},
          "side": {"enum": ["long", "short"]},
          "entry_price": {"type": "number", "exclusiveMinimum": 0},
          "quantity": {"type": "number", "exclusiveMinimum": 0},
          "stop_loss": {"type": "number", "minimum": 0},
          "take_profit": {"type": "number", "minimum": 0},
          "trailing_pct": {"type": "number", "minimum": 0, "maximum": 1},
          "high_water": {"type": "number", "minimum": 0},
          "status": {"enum": ["opening", "open", "closing"]}
        }
      }
    },
    "order_log": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "symbol", "side", "status"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "symbol": {"type": "string", "minLength": 1},
          "side": {"enum": ["buy", "sell"]},
          "quantity": {"type": "number", "minimum": 0},
          "status": {
            "enum": ["pending", "filled", "partially_filled", "rejected", "cancelled"]
          }
        }
      }
    }
  }
}`

var compiledSnapshotSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchema)

func validateSnapshotPayload(payload []byte) error {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("snapshot is not valid JSON: %w", err)
	}
	if err := compiledSnapshotSchema.Validate(doc); err != nil {
		return fmt.Errorf("snapshot failed schema validation: %w", err)
	}
	return nil
}
