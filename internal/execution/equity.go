package execution

import "github.com/quantforge/backtest-core/internal/contracts"

// BuildEquityCurve folds starting equity forward through trades ordered by
// exit time, emitting one EquityPoint per exit with a running drawdown_pct
// against the peak equity observed so far — mirroring
// src/axiom_bt/compat/trades_contract.py's normalize_equity_curve_df,
// computed directly instead of derived from a cash column after the fact.
func BuildEquityCurve(startingEquity float64, trades []contracts.Trade) []contracts.EquityPoint {
	curve := make([]contracts.EquityPoint, 0, len(trades))

	equity := startingEquity
	peak := startingEquity

	for _, t := range trades {
		equity += t.PnL

		if equity > peak {
			peak = equity
		}

		drawdown := 0.0
		if peak != 0 {
			drawdown = (equity / peak) - 1.0
		}

		curve = append(curve, contracts.EquityPoint{
			TS:          t.ExitTS,
			Equity:      equity,
			DrawdownPct: drawdown,
		})
	}

	return curve
}
