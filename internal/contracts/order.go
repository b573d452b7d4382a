package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Order is the externally visible record of a single leg, used only at the
// external-interface boundary (the paper-trading adapter).
type Order struct {
	RunID           string
	Strategy        string
	StrategyVersion string
	Symbol          string
	Side            IntentSide
	OCOGroupID      string
}

// IdempotencyKey computes a deterministic key from
// (run_id, strategy, strategy_version, symbol, side, oco_group_id).
func (o Order) IdempotencyKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", o.RunID, o.Strategy, o.StrategyVersion, o.Symbol, o.Side, o.OCOGroupID)

	return hex.EncodeToString(h.Sum(nil))
}
