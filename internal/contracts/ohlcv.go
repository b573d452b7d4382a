// Package contracts implements the versioned data model shared across every
// pipeline stage: OHLCV, SignalFrame, Intent, Fill, Order, Trade, EquityPoint,
// PortfolioLedger, RunContext, RunResult, and the pre-paper HistoryEntry.
package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV is a single bar. Timestamps are always UTC instants; prices are
// decimal to keep the pipeline's hashes stable across platforms.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp" csv:"timestamp"`
	Open      decimal.Decimal `json:"open" csv:"open"`
	High      decimal.Decimal `json:"high" csv:"high"`
	Low       decimal.Decimal `json:"low" csv:"low"`
	Close     decimal.Decimal `json:"close" csv:"close"`
	Volume    int64           `json:"volume" csv:"volume"`
}

// Validate enforces the OHLCV invariants from the data model: nonnegative
// prices and volume, and low/high consistency with open/close.
func (b OHLCV) Validate() error {
	if b.Open.IsNegative() || b.High.IsNegative() || b.Low.IsNegative() || b.Close.IsNegative() {
		return errInvalidBar("negative price")
	}

	if b.Volume < 0 {
		return errInvalidBar("negative volume")
	}

	minOC := decimal.Min(b.Open, b.Close)
	maxOC := decimal.Max(b.Open, b.Close)

	if b.Low.GreaterThan(minOC) {
		return errInvalidBar("low is greater than min(open, close)")
	}

	if b.High.LessThan(maxOC) {
		return errInvalidBar("high is less than max(open, close)")
	}

	return nil
}

// ValidateSeries enforces the whole-series invariants: unique, strictly
// increasing timestamps.
func ValidateSeries(bars []OHLCV) error {
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return err
		}

		if i > 0 && !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return errInvalidBar("timestamps are not strictly increasing")
		}
	}

	return nil
}

func errInvalidBar(msg string) error {
	return &BarInvariantError{Message: msg}
}

// BarInvariantError reports a violated OHLCV invariant.
type BarInvariantError struct {
	Message string
}

func (e *BarInvariantError) Error() string {
	return "invalid bar: " + e.Message
}
