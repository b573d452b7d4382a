package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// SignalSide is the directional bias a strategy assigns to a bar.
type SignalSide string

const (
	SignalSideLong  SignalSide = "LONG"
	SignalSideShort SignalSide = "SHORT"
)

// ColumnKind tags what role a column plays in a SignalFrame schema.
type ColumnKind string

const (
	ColumnKindBase    ColumnKind = "base"
	ColumnKindGeneric ColumnKind = "generic"
	ColumnKindStrategy ColumnKind = "strategy"
)

// ColumnDType is the semantic (not physical) dtype of a column.
type ColumnDType string

const (
	DTypeTimestamp ColumnDType = "timestamp"
	DTypeReal      ColumnDType = "real"
	DTypeInteger   ColumnDType = "integer"
	DTypeBool      ColumnDType = "bool"
	DTypeString    ColumnDType = "string"
)

// ColumnSpec describes one column of a SignalFrameSchema.
type ColumnSpec struct {
	Name     string
	DType    ColumnDType
	Nullable bool
	Kind     ColumnKind
}

// SignalFrameSchema is the versioned contract a strategy's extended frame
// must satisfy, identified by (strategy_id, strategy_tag, version).
type SignalFrameSchema struct {
	StrategyID  string
	StrategyTag string
	Version     string
	Columns     []ColumnSpec
}

// RequiredBaseColumns are present in every schema regardless of strategy.
func RequiredBaseColumns(symbol, timeframe string) []ColumnSpec {
	return []ColumnSpec{
		{Name: "timestamp", DType: DTypeTimestamp, Nullable: false, Kind: ColumnKindBase},
		{Name: "open", DType: DTypeReal, Nullable: false, Kind: ColumnKindBase},
		{Name: "high", DType: DTypeReal, Nullable: false, Kind: ColumnKindBase},
		{Name: "low", DType: DTypeReal, Nullable: false, Kind: ColumnKindBase},
		{Name: "close", DType: DTypeReal, Nullable: false, Kind: ColumnKindBase},
		{Name: "volume", DType: DTypeInteger, Nullable: false, Kind: ColumnKindBase},
		{Name: "symbol", DType: DTypeString, Nullable: false, Kind: ColumnKindBase},
		{Name: "timeframe", DType: DTypeString, Nullable: false, Kind: ColumnKindBase},
	}
}

// RequiredGenericColumns are the generic signal columns every SignalFrame
// must carry, regardless of strategy-specific indicators.
func RequiredGenericColumns() []ColumnSpec {
	return []ColumnSpec{
		{Name: "signal_side", DType: DTypeString, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "signal_reason", DType: DTypeString, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "entry_price", DType: DTypeReal, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "stop_price", DType: DTypeReal, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "take_profit_price", DType: DTypeReal, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "template_id", DType: DTypeString, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "exit_ts", DType: DTypeTimestamp, Nullable: true, Kind: ColumnKindGeneric},
		{Name: "exit_reason", DType: DTypeString, Nullable: true, Kind: ColumnKindGeneric},
	}
}

// Fingerprint is the SHA-256 of the column specs sorted by name, plus the
// identity triple, as required by the data model.
func (s SignalFrameSchema) Fingerprint() string {
	cols := make([]ColumnSpec, len(s.Columns))
	copy(cols, s.Columns)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", s.StrategyID, s.StrategyTag, s.Version)

	for _, c := range cols {
		fmt.Fprintf(h, "|%s:%s:%t:%s", c.Name, c.DType, c.Nullable, c.Kind)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// SignalRow is one row of a SignalFrame: the typed generic columns plus
// loosely-typed context columns carried through from strategy output.
type SignalRow struct {
	Timestamp       time.Time
	Symbol          string
	Timeframe       string
	Open            decimal.Decimal
	High            decimal.Decimal
	Low             decimal.Decimal
	Close           decimal.Decimal
	Volume          int64
	SignalSide      optional.Option[SignalSide]
	SignalReason    optional.Option[string]
	EntryPrice      optional.Option[decimal.Decimal]
	StopPrice       optional.Option[decimal.Decimal]
	TakeProfitPrice optional.Option[decimal.Decimal]
	TemplateID      optional.Option[string]
	ExitTS          optional.Option[time.Time]
	ExitReason      optional.Option[string]
	// SigContext holds all sig_-prefixed context columns.
	SigContext map[string]string
	// DbgContext holds all dbg_-prefixed debug columns.
	DbgContext map[string]string
	// BoolSignals holds mutually-exclusive boolean signal columns
	// (e.g. "sig_long", "sig_short") for invariant checking.
	BoolSignals map[string]bool
}

// SignalFrame is a validated, strategy-owned projection of bars.
type SignalFrame struct {
	Schema SignalFrameSchema
	Rows   []SignalRow
}

// Validate enforces the SignalFrame row invariants: the mutually-exclusive
// boolean signals sig_long and sig_short are never both true, and
// signal_side is consistent with them. Column nullability is not checked
// here.
func (f SignalFrame) Validate() error {
	for i, row := range f.Rows {
		if long, ok := row.BoolSignals["sig_long"]; ok {
			if short, ok2 := row.BoolSignals["sig_short"]; ok2 && long && short {
				return fmt.Errorf("row %d: sig_long and sig_short both true", i)
			}
		}

		if row.SignalSide.IsSome() {
			side := row.SignalSide.Unwrap()
			if long, ok := row.BoolSignals["sig_long"]; ok && side == SignalSideShort && long {
				return fmt.Errorf("row %d: signal_side=SHORT but sig_long=true", i)
			}

			if short, ok := row.BoolSignals["sig_short"]; ok && side == SignalSideLong && short {
				return fmt.Errorf("row %d: signal_side=LONG but sig_short=true", i)
			}
		}
	}

	return nil
}
