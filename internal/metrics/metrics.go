// Package metrics composes run-level performance statistics from trades and
// the equity curve, grounded on src/axiom_bt/metrics.py's compose_metrics.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
)

// Summary is the full UI-contract metrics set, written as metrics.json.
type Summary struct {
	InitialCash     float64 `json:"initial_cash"`
	FinalCash       float64 `json:"final_cash"`
	NetPnL          float64 `json:"net_pnl"`
	GrossPnL        float64 `json:"gross_pnl"`
	NumTrades       int     `json:"num_trades"`
	WinRate         float64 `json:"win_rate"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	ProfitFactor    float64 `json:"profit_factor"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	Exposure        float64 `json:"exposure"`
	Turnover        float64 `json:"turnover"`
}

// annualizationFactor is the number of trading days per year used to
// annualize the daily Sharpe ratio.
const annualizationFactor = 252.0

// Compose derives the full metrics summary from trades and the equity
// curve already built for this run (internal/execution.BuildEquityCurve).
func Compose(trades []contracts.Trade, curve []contracts.EquityPoint, initialCash, riskFree float64) Summary {
	stats := tradeStats(trades)

	baseline := withBaselineEquity(curve, initialCash)

	maxDD, maxDDPct := 0.0, 0.0
	if len(baseline) > 0 {
		maxDD, maxDDPct = computeDrawdown(baseline)
	}

	sharpe := sharpeDaily(baseline, riskFree)

	exposure := computeExposure(trades)

	turnoverDenom := initialCash
	if turnoverDenom <= 0 {
		turnoverDenom = 1
	}

	finalCash := initialCash + stats.netPnL
	if len(baseline) > 0 {
		finalCash = baseline[len(baseline)-1].Equity
	}

	return Summary{
		InitialCash:    initialCash,
		FinalCash:      finalCash,
		NetPnL:         stats.netPnL,
		GrossPnL:       stats.grossPnL,
		NumTrades:      stats.numTrades,
		WinRate:        stats.winRate,
		AvgWin:         stats.avgWin,
		AvgLoss:        stats.avgLoss,
		ProfitFactor:   stats.profitFactor,
		MaxDrawdown:    maxDD,
		MaxDrawdownPct: maxDDPct,
		SharpeRatio:    sharpe,
		Exposure:       exposure,
		Turnover:       stats.turnoverAbs / turnoverDenom,
	}
}

type tradeStatsResult struct {
	numTrades    int
	winRate      float64
	grossPnL     float64
	netPnL       float64
	avgWin       float64
	avgLoss      float64
	profitFactor float64
	turnoverAbs  float64
}

func tradeStats(trades []contracts.Trade) tradeStatsResult {
	if len(trades) == 0 {
		return tradeStatsResult{}
	}

	var grossPnL, winSum, lossSum, turnoverAbs float64

	var numWins, numLosses int

	for _, t := range trades {
		grossPnL += t.PnL

		switch {
		case t.PnL > 0:
			winSum += t.PnL
			numWins++
		case t.PnL < 0:
			lossSum += t.PnL
			numLosses++
		}

		turnoverAbs += math.Abs(t.Qty) * (math.Abs(t.EntryPrice) + math.Abs(t.ExitPrice))
	}

	numTrades := len(trades)
	winRate := float64(numWins) / float64(numTrades)

	avgWin := 0.0
	if numWins > 0 {
		avgWin = winSum / float64(numWins)
	}

	avgLoss := 0.0
	if numLosses > 0 {
		avgLoss = lossSum / float64(numLosses)
	}

	profitFactor := 0.0

	switch {
	case numLosses > 0 && math.Abs(lossSum) > 0:
		profitFactor = winSum / math.Abs(lossSum)
	case numWins > 0 && numLosses == 0:
		profitFactor = math.Inf(1)
	}

	return tradeStatsResult{
		numTrades:    numTrades,
		winRate:      winRate,
		grossPnL:     grossPnL,
		netPnL:       grossPnL,
		avgWin:       avgWin,
		avgLoss:      avgLoss,
		profitFactor: profitFactor,
		turnoverAbs:  turnoverAbs,
	}
}

// withBaselineEquity prepends a synthetic point at initialCash one second
// before the curve's first point, when the curve's first recorded equity is
// already below initialCash — so the run's opening drawdown is captured
// instead of silently starting from a loss already taken.
func withBaselineEquity(curve []contracts.EquityPoint, initialCash float64) []contracts.EquityPoint {
	if len(curve) == 0 {
		return curve
	}

	sorted := make([]contracts.EquityPoint, len(curve))
	copy(sorted, curve)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	if sorted[0].Equity >= initialCash {
		return sorted
	}

	baseline := contracts.EquityPoint{
		TS:     sorted[0].TS.Add(-time.Second),
		Equity: initialCash,
	}

	return append([]contracts.EquityPoint{baseline}, sorted...)
}

func computeDrawdown(curve []contracts.EquityPoint) (absDD, pctDD float64) {
	peak := curve[0].Equity
	maxAbs := 0.0
	maxPct := 0.0

	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}

		dd := peak - p.Equity
		if dd > maxAbs {
			maxAbs = dd
		}

		if peak > 0 {
			pct := dd / peak
			if pct > maxPct {
				maxPct = pct
			}
		}
	}

	return maxAbs, maxPct
}

// sharpeDaily annualizes the Sharpe ratio of daily returns derived from the
// last equity observation of each calendar day (UTC). Returns zero when
// fewer than two daily observations exist or the sample stdev is
// non-positive/non-finite.
func sharpeDaily(curve []contracts.EquityPoint, riskFree float64) float64 {
	if len(curve) == 0 {
		return 0
	}

	dailyLast := map[string]float64{}
	order := []string{}

	for _, p := range curve {
		key := p.TS.UTC().Format("2006-01-02")
		if _, ok := dailyLast[key]; !ok {
			order = append(order, key)
		}

		dailyLast[key] = p.Equity
	}

	if len(order) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(order)-1)
	for i := 1; i < len(order); i++ {
		prev := dailyLast[order[i-1]]
		curr := dailyLast[order[i]]

		if prev == 0 {
			continue
		}

		returns = append(returns, (curr/prev)-1.0)
	}

	if len(returns) < 2 {
		return 0
	}

	dailyRiskFree := riskFree / annualizationFactor

	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRiskFree
	}

	mean := meanOf(excess)
	sigma := sampleStdDev(excess, mean)

	if !isFinitePositive(sigma) {
		return 0
	}

	return math.Sqrt(annualizationFactor) * mean / (sigma + 1e-12)
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

func sampleStdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}

	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func isFinitePositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}

// computeExposure is the fraction of the run's wall-clock span (first entry
// to last exit) spent with a position open, summed across all trades.
func computeExposure(trades []contracts.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}

	minEntry := trades[0].EntryTS
	maxExit := trades[0].ExitTS

	var durationSum time.Duration

	for _, t := range trades {
		if t.EntryTS.Before(minEntry) {
			minEntry = t.EntryTS
		}

		if t.ExitTS.After(maxExit) {
			maxExit = t.ExitTS
		}

		d := t.ExitTS.Sub(t.EntryTS)
		if d > 0 {
			durationSum += d
		}
	}

	period := maxExit.Sub(minEntry)
	if period <= 0 {
		return 0
	}

	exposure := durationSum.Seconds() / period.Seconds()

	return math.Min(1, math.Max(0, exposure))
}
