package contracts

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
)

// IntentSide is the order direction: BUY or SELL (distinct from the
// strategy-facing SignalSide of LONG/SHORT).
type IntentSide string

const (
	IntentSideBuy  IntentSide = "BUY"
	IntentSideSell IntentSide = "SELL"
)

// Intent is a canonical, deterministic description of a pending order
// derived from one active signal row.
type Intent struct {
	TemplateID      string
	SignalTS        time.Time
	Symbol          string
	Side            IntentSide
	OCOGroupID      string
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	ExitTS          optional.Option[time.Time]
	ExitReason      optional.Option[string]
	StrategyID      string
	StrategyVersion string
	OrderValidFrom  optional.Option[time.Time]
	OrderValidTo    optional.Option[time.Time]
	// SigContext and DbgContext carry forward configured sig_/dbg_ columns.
	SigContext map[string]string
	DbgContext map[string]string
}

// intentCanonicalColumns is the fixed column order used for canonical
// serialization. Context columns (sig_*/dbg_*) are appended, sorted by name,
// after these.
var intentCanonicalColumns = []string{
	"template_id", "signal_ts", "symbol", "side", "oco_group_id",
	"entry_price", "stop_price", "take_profit_price",
	"exit_ts", "exit_reason", "strategy_id", "strategy_version",
	"order_valid_from_ts", "order_valid_to_ts",
}

// SortIntents sorts intents by (signal_ts, template_id, side), stably, as
// required before hashing.
func SortIntents(intents []Intent) {
	sort.SliceStable(intents, func(i, j int) bool {
		a, b := intents[i], intents[j]
		if !a.SignalTS.Equal(b.SignalTS) {
			return a.SignalTS.Before(b.SignalTS)
		}

		if a.TemplateID != b.TemplateID {
			return a.TemplateID < b.TemplateID
		}

		return a.Side < b.Side
	})
}

// CanonicalizeIntents sorts, serializes as deterministic UTF-8 CSV with
// ISO-8601 UTC timestamps, and returns the bytes plus their SHA-256 hash —
// the run's intent fingerprint.
func CanonicalizeIntents(intents []Intent) ([]byte, string, error) {
	sorted := make([]Intent, len(intents))
	copy(sorted, intents)
	SortIntents(sorted)

	contextKeys := collectContextKeys(sorted)

	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	header := append([]string{}, intentCanonicalColumns...)
	header = append(header, contextKeys...)

	if err := w.Write(header); err != nil {
		return nil, "", err
	}

	for _, in := range sorted {
		row := []string{
			in.TemplateID,
			in.SignalTS.UTC().Format(time.RFC3339),
			in.Symbol,
			string(in.Side),
			in.OCOGroupID,
			fmt.Sprintf("%g", in.EntryPrice),
			fmt.Sprintf("%g", in.StopPrice),
			fmt.Sprintf("%g", in.TakeProfitPrice),
			optTimeString(in.ExitTS),
			optStringString(in.ExitReason),
			in.StrategyID,
			in.StrategyVersion,
			optTimeString(in.OrderValidFrom),
			optTimeString(in.OrderValidTo),
		}

		for _, k := range contextKeys {
			if v, ok := in.SigContext[k]; ok {
				row = append(row, v)
			} else if v, ok := in.DbgContext[k]; ok {
				row = append(row, v)
			} else {
				row = append(row, "")
			}
		}

		if err := w.Write(row); err != nil {
			return nil, "", err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(buf.Bytes())

	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

func collectContextKeys(intents []Intent) []string {
	set := map[string]struct{}{}
	for _, in := range intents {
		for k := range in.SigContext {
			set[k] = struct{}{}
		}

		for k := range in.DbgContext {
			set[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func optTimeString(o optional.Option[time.Time]) string {
	if o.IsNone() {
		return ""
	}

	return o.Unwrap().UTC().Format(time.RFC3339)
}

func optStringString(o optional.Option[string]) string {
	if o.IsNone() {
		return ""
	}

	return o.Unwrap()
}
