// Package execution turns fills into sized trades, a cash ledger, and an
// equity curve. Position sizing is grounded on src/axiom_bt/risk/sizing.py's
// PositionSizer; trade/equity shaping follows
// src/axiom_bt/compat/trades_contract.py's UI-contract normalization.
package execution

import (
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/shopspring/decimal"
)

// SizingMode selects how PositionSizer computes quantity.
type SizingMode string

const (
	SizingModeFixed     SizingMode = "fixed"
	SizingModePctEquity SizingMode = "pct_equity"
	SizingModeRiskBased SizingMode = "risk"
)

// SizingConfig configures a PositionSizer. Only the fields relevant to
// Mode need be set; MinQty and TickSize default to 1 when zero.
type SizingConfig struct {
	Mode SizingMode

	FixedQty decimal.Decimal

	Equity decimal.Decimal
	PosPct decimal.Decimal

	RiskPct    decimal.Decimal
	MaxPosPct  decimal.Decimal

	MinQty   decimal.Decimal
	TickSize decimal.Decimal
}

// PositionSizer computes tick-rounded, >= min_qty position sizes
// deterministically from a SizingConfig.
type PositionSizer struct {
	cfg SizingConfig
}

// NewPositionSizer validates cfg and returns a sizer, defaulting MinQty and
// TickSize to 1 when unset.
func NewPositionSizer(cfg SizingConfig) (*PositionSizer, error) {
	if cfg.MinQty.IsZero() {
		cfg.MinQty = decimal.NewFromInt(1)
	}

	if cfg.TickSize.IsZero() {
		cfg.TickSize = decimal.NewFromInt(1)
	}

	switch cfg.Mode {
	case SizingModeFixed:
		if cfg.FixedQty.IsZero() {
			return nil, runerrors.New(runerrors.ErrCodeInvalidSizingConfig, "fixed mode requires fixed_qty")
		}
	case SizingModePctEquity:
		if cfg.Equity.IsZero() || cfg.PosPct.IsZero() {
			return nil, runerrors.New(runerrors.ErrCodeInvalidSizingConfig, "pct_equity mode requires equity and pos_pct")
		}
	case SizingModeRiskBased:
		if cfg.Equity.IsZero() || cfg.RiskPct.IsZero() || cfg.MaxPosPct.IsZero() {
			return nil, runerrors.New(runerrors.ErrCodeInvalidSizingConfig, "risk mode requires equity, risk_pct, and max_pos_pct")
		}
	default:
		return nil, runerrors.Newf(runerrors.ErrCodeInvalidSizingConfig, "unknown sizing mode %q", cfg.Mode)
	}

	return &PositionSizer{cfg: cfg}, nil
}

// Calculate returns the position size for entryPrice (and stopPrice, for
// risk-based sizing; ignored otherwise).
func (s *PositionSizer) Calculate(entryPrice, stopPrice decimal.Decimal) (decimal.Decimal, error) {
	switch s.cfg.Mode {
	case SizingModeFixed:
		return decimal.Max(s.roundToTick(s.cfg.FixedQty), s.cfg.MinQty), nil
	case SizingModePctEquity:
		return s.calculatePctEquity(entryPrice), nil
	case SizingModeRiskBased:
		if stopPrice.IsZero() {
			return decimal.Zero, runerrors.New(runerrors.ErrCodeInvalidSizingConfig, "risk mode requires a non-zero stop_price")
		}

		return s.calculateRiskBased(entryPrice, stopPrice), nil
	default:
		return decimal.Zero, runerrors.Newf(runerrors.ErrCodeInvalidSizingConfig, "unknown sizing mode %q", s.cfg.Mode)
	}
}

func (s *PositionSizer) calculatePctEquity(entryPrice decimal.Decimal) decimal.Decimal {
	notional := s.cfg.Equity.Mul(s.cfg.PosPct).Div(decimal.NewFromInt(100))
	qty := notional.Div(entryPrice).Truncate(0)
	qty = s.roundToTick(qty)

	return decimal.Max(qty, s.cfg.MinQty)
}

func (s *PositionSizer) calculateRiskBased(entryPrice, stopPrice decimal.Decimal) decimal.Decimal {
	riskAmount := s.cfg.Equity.Mul(s.cfg.RiskPct).Div(decimal.NewFromInt(100))

	stopDistance := entryPrice.Sub(stopPrice).Abs()
	stopDistanceTicks := s.roundToTick(stopDistance)

	if stopDistanceTicks.IsZero() {
		return s.cfg.MinQty
	}

	qty := riskAmount.Div(stopDistanceTicks).Truncate(0)
	qty = s.roundToTick(qty)

	maxNotional := s.cfg.Equity.Mul(s.cfg.MaxPosPct).Div(decimal.NewFromInt(100))
	maxQty := maxNotional.Div(entryPrice).Truncate(0)
	maxQty = s.roundToTick(maxQty)

	qty = decimal.Min(qty, maxQty)

	return decimal.Max(qty, s.cfg.MinQty)
}

func (s *PositionSizer) roundToTick(value decimal.Decimal) decimal.Decimal {
	if s.cfg.TickSize.Equal(decimal.NewFromInt(1)) {
		return value.Truncate(0)
	}

	ticks := value.Div(s.cfg.TickSize).Truncate(0)

	return ticks.Mul(s.cfg.TickSize)
}
