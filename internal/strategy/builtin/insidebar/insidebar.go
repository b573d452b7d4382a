// Package insidebar is a bundled, native (non-WASM) reference strategy
// plugin: an inside-bar breakout strategy parameterized by atr_period and
// risk_reward_ratio. It is grounded on the "RK" strategy family referenced
// throughout original_source's run_rk_strategy.py and
// src/strategies/inside_bar/intent_generation.py, re-expressed against this
// pipeline's SignalFrame contract instead of the original pandas frame.
//
// It self-registers into strategy.Global() via init(), exactly the way a
// WASM plugin would register through the registry's Register call — proving
// the capability boundary the registry enforces holds for in-process
// plugins too.
package insidebar

import (
	"encoding/json"
	"fmt"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/strategy"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

const (
	StrategyID      = "insidebar"
	StrategyTag     = "RK"
	DefaultVersion  = "v1"
	defaultATRPeriod = 14
	defaultRiskReward = 2.0
)

func init() {
	strategy.Global().Register(StrategyID, DefaultVersion, &Plugin{version: DefaultVersion})
}

// Params configures one insidebar run.
type Params struct {
	ATRPeriod        int     `json:"atr_period"`
	RiskRewardRatio  float64 `json:"risk_reward_ratio"`
}

// Plugin implements strategy.Plugin for the inside-bar breakout family.
type Plugin struct {
	version string
}

// New returns a Plugin bound to the given version, for tests or registries
// that want an isolated instance instead of the process-wide default.
func New(version string) *Plugin {
	return &Plugin{version: version}
}

func (p *Plugin) schemaColumns(symbol, timeframe string) []contracts.ColumnSpec {
	cols := append([]contracts.ColumnSpec{}, contracts.RequiredBaseColumns(symbol, timeframe)...)
	cols = append(cols, contracts.RequiredGenericColumns()...)
	cols = append(cols,
		contracts.ColumnSpec{Name: "atr", DType: contracts.DTypeReal, Nullable: true, Kind: contracts.ColumnKindStrategy},
		contracts.ColumnSpec{Name: "mother_high", DType: contracts.DTypeReal, Nullable: true, Kind: contracts.ColumnKindStrategy},
		contracts.ColumnSpec{Name: "mother_low", DType: contracts.DTypeReal, Nullable: true, Kind: contracts.ColumnKindStrategy},
		contracts.ColumnSpec{Name: "inside_bar", DType: contracts.DTypeBool, Nullable: true, Kind: contracts.ColumnKindStrategy},
	)

	return cols
}

// GetSchema returns the fixed insidebar schema for the given version. Only
// the version the plugin is bound to (DefaultVersion for the self-registered
// instance) is recognized; any other version is a version mismatch, not a
// silent fallback.
func (p *Plugin) GetSchema(version string) (contracts.SignalFrameSchema, error) {
	if version != p.version {
		return contracts.SignalFrameSchema{}, runerrors.Newf(runerrors.ErrCodeVersionMismatch, "insidebar plugin bound to version %q, got %q", p.version, version)
	}

	return contracts.SignalFrameSchema{
		StrategyID:  StrategyID,
		StrategyTag: StrategyTag,
		Version:     version,
		Columns:     p.schemaColumns("", ""),
	}, nil
}

// ExtendSignalFrame scans bars for the inside-bar breakout pattern: bar i-2
// is the "mother" bar, bar i-1 lies within its range (edges inclusive, the
// "inside" bar), and bar i's close crosses the mother bar's high (long) or
// low (short). Entry is the crossed mother edge; the stop sits beyond the
// opposite edge by atrStopBuffer times the ATR over atr_period bars, and the
// take-profit is risk_reward_ratio times the entry-to-stop distance.
func (p *Plugin) ExtendSignalFrame(bars []contracts.OHLCV, rawParams json.RawMessage) (contracts.SignalFrame, error) {
	params := Params{ATRPeriod: defaultATRPeriod, RiskRewardRatio: defaultRiskReward}

	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return contracts.SignalFrame{}, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to unmarshal insidebar params", err)
		}
	}

	if params.ATRPeriod <= 0 {
		return contracts.SignalFrame{}, runerrors.Newf(runerrors.ErrCodeStrategyRuntimeFailed, "atr_period must be > 0, got %d", params.ATRPeriod)
	}

	atr := averageTrueRange(bars, params.ATRPeriod)

	rows := make([]contracts.SignalRow, 0, len(bars))

	for i, bar := range bars {
		row := contracts.SignalRow{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
			BoolSignals: map[string]bool{},
		}

		row.SigContext = map[string]string{}

		if i >= params.ATRPeriod {
			row.SigContext["sig_atr"] = atr[i].String()
		}

		if i >= 2 {
			mother := bars[i-2]
			inside := bars[i-1]

			isInside := inside.High.LessThanOrEqual(mother.High) && inside.Low.GreaterThanOrEqual(mother.Low)
			row.BoolSignals["inside_bar"] = isInside
			row.SigContext["sig_mother_high"] = mother.High.String()
			row.SigContext["sig_mother_low"] = mother.Low.String()

			if isInside && atr[i-2].IsPositive() {
				switch {
				case bar.Close.GreaterThan(mother.High):
					row = applyLongBreakout(row, mother, i, atr[i-2], params.RiskRewardRatio)
				case bar.Close.LessThan(mother.Low):
					row = applyShortBreakout(row, mother, i, atr[i-2], params.RiskRewardRatio)
				}
			}
		}

		rows = append(rows, row)
	}

	return contracts.SignalFrame{
		Schema: contracts.SignalFrameSchema{
			StrategyID:  StrategyID,
			StrategyTag: StrategyTag,
			Version:     p.version,
			Columns:     p.schemaColumns("", ""),
		},
		Rows: rows,
	}, nil
}

// atrStopBuffer is the fraction of ATR added beyond the mother bar's
// opposite edge when sizing the stop, so a volatile mother bar gets a
// proportionally wider stop than a quiet one.
const atrStopBuffer = 0.1

func applyLongBreakout(row contracts.SignalRow, mother contracts.OHLCV, idx int, atr decimal.Decimal, riskReward float64) contracts.SignalRow {
	entry := mother.High
	stop := mother.Low.Sub(atr.Mul(decimal.NewFromFloat(atrStopBuffer)))
	risk := entry.Sub(stop)
	takeProfit := entry.Add(risk.Mul(decimal.NewFromFloat(riskReward)))

	row.SignalSide = optional.Some(contracts.SignalSideLong)
	row.SignalReason = optional.Some("inside_bar_breakout_long")
	row.EntryPrice = optional.Some(entry)
	row.StopPrice = optional.Some(stop)
	row.TakeProfitPrice = optional.Some(takeProfit)
	row.TemplateID = optional.Some(fmt.Sprintf("%s-%s-%d", StrategyID, "long", idx))
	row.BoolSignals["sig_long"] = true
	row.BoolSignals["sig_short"] = false

	return row
}

func applyShortBreakout(row contracts.SignalRow, mother contracts.OHLCV, idx int, atr decimal.Decimal, riskReward float64) contracts.SignalRow {
	entry := mother.Low
	stop := mother.High.Add(atr.Mul(decimal.NewFromFloat(atrStopBuffer)))
	risk := stop.Sub(entry)
	takeProfit := entry.Sub(risk.Mul(decimal.NewFromFloat(riskReward)))

	row.SignalSide = optional.Some(contracts.SignalSideShort)
	row.SignalReason = optional.Some("inside_bar_breakout_short")
	row.EntryPrice = optional.Some(entry)
	row.StopPrice = optional.Some(stop)
	row.TakeProfitPrice = optional.Some(takeProfit)
	row.TemplateID = optional.Some(fmt.Sprintf("%s-%s-%d", StrategyID, "short", idx))
	row.BoolSignals["sig_long"] = false
	row.BoolSignals["sig_short"] = true

	return row
}

// averageTrueRange returns a Wilder-style simple-average ATR per bar index;
// indices before atrPeriod are zero (insufficient warmup).
func averageTrueRange(bars []contracts.OHLCV, atrPeriod int) []decimal.Decimal {
	atr := make([]decimal.Decimal, len(bars))

	trueRanges := make([]decimal.Decimal, len(bars))
	for i, bar := range bars {
		if i == 0 {
			trueRanges[i] = bar.High.Sub(bar.Low)
			continue
		}

		prevClose := bars[i-1].Close
		hl := bar.High.Sub(bar.Low)
		hc := bar.High.Sub(prevClose).Abs()
		lc := bar.Low.Sub(prevClose).Abs()

		trueRanges[i] = decimal.Max(hl, hc, lc)
	}

	for i := range bars {
		if i < atrPeriod {
			continue
		}

		sum := decimal.Zero
		for j := i - atrPeriod + 1; j <= i; j++ {
			sum = sum.Add(trueRanges[j])
		}

		atr[i] = sum.Div(decimal.NewFromInt(int64(atrPeriod)))
	}

	return atr
}
