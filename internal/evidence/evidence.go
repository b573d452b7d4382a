// Package evidence generates deterministic, audit-friendly proof that each
// trade's entry/exit fills are consistent with the executed bars, and that
// both legs fell inside the regular trading session. Grounded on
// src/backtest/services/trade_evidence.py.
package evidence

import (
	"sort"
	"strings"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
)

// Flag mirrors the original's EvidenceFlag: YES/NO/UNKNOWN rather than a
// plain bool, since "we never checked" must be distinguishable from "we
// checked and it failed".
type Flag string

const (
	FlagYes     Flag = "YES"
	FlagNo      Flag = "NO"
	FlagUnknown Flag = "UNKNOWN"
)

// ProofStatus is the overall evidentiary outcome for one trade.
type ProofStatus string

const (
	ProofStatusProven  ProofStatus = "PROVEN"
	ProofStatusPartial ProofStatus = "PARTIAL"
	ProofStatusNone    ProofStatus = "NO_PROOF"
)

// TradeEvidence is one row of trade_evidence.csv.
type TradeEvidence struct {
	TradeID            int         `csv:"trade_id"`
	EntryExecProven    Flag        `csv:"entry_exec_proven"`
	ExitExecProven     Flag        `csv:"exit_exec_proven"`
	OrderValidityHolds Flag        `csv:"order_validity_holds"`
	SignalRecalcMatch  Flag        `csv:"signal_recalc_match"`
	RTHCompliant       Flag        `csv:"rth_compliant"`
	DataSliceIntegrity string      `csv:"data_slice_integrity"`
	ProofStatus        ProofStatus `csv:"proof_status"`
	FailReasons        string      `csv:"fail_reasons"`
	ProvingBarTSEntry  *time.Time  `csv:"proving_bar_ts_entry"`
	ProvingBarTSExit   *time.Time  `csv:"proving_bar_ts_exit"`
}

// Generate builds trade evidence for every trade against the executed bars
// used during the run. bars must be sorted ascending by Timestamp; an empty
// slice yields NO_PROOF for every trade (missing exec bars), matching the
// original's has_bars=False branch.
func Generate(trades []contracts.Trade, bars []contracts.OHLCV, marketTZ string) []TradeEvidence {
	loc, err := time.LoadLocation(marketTZ)
	if err != nil {
		loc = time.UTC
	}

	hasBars := len(bars) > 0
	out := make([]TradeEvidence, 0, len(trades))

	for i, trade := range trades {
		out = append(out, evidenceForTrade(i, trade, bars, hasBars, loc))
	}

	return out
}

func evidenceForTrade(idx int, trade contracts.Trade, bars []contracts.OHLCV, hasBars bool, loc *time.Location) TradeEvidence {
	if !hasBars {
		return TradeEvidence{
			TradeID:            idx,
			EntryExecProven:    FlagUnknown,
			ExitExecProven:     FlagUnknown,
			OrderValidityHolds: FlagUnknown,
			SignalRecalcMatch:  FlagUnknown,
			RTHCompliant:       FlagUnknown,
			DataSliceIntegrity: "MISSING_BARS",
			ProofStatus:        ProofStatusNone,
			FailReasons:        "missing_exec_bars",
		}
	}

	entryOK, entryBarTS := proveLeg(bars, trade.EntryTS, trade.EntryPrice)
	exitOK, exitBarTS := proveLeg(bars, trade.ExitTS, trade.ExitPrice)

	rth := FlagUnknown
	if entryBarTS != nil && exitBarTS != nil {
		if isRTH(*entryBarTS, loc) && isRTH(*exitBarTS, loc) {
			rth = FlagYes
		} else {
			rth = FlagNo
		}
	}

	var (
		status      ProofStatus
		failReasons []string
	)

	if entryOK == FlagYes && exitOK == FlagYes {
		status = ProofStatusProven
	} else {
		status = ProofStatusPartial
		failReasons = append(failReasons, "entry_exit_not_proven")
	}

	return TradeEvidence{
		TradeID:            idx,
		EntryExecProven:    entryOK,
		ExitExecProven:     exitOK,
		OrderValidityHolds: FlagUnknown,
		SignalRecalcMatch:  FlagUnknown,
		RTHCompliant:       rth,
		DataSliceIntegrity: "OK",
		ProofStatus:        status,
		FailReasons:        strings.Join(failReasons, ";"),
		ProvingBarTSEntry:  entryBarTS,
		ProvingBarTSExit:   exitBarTS,
	}
}

// proveLeg finds the last bar at or before ts and checks that price falls
// within that bar's [low, high] range, the same "last bar at or before"
// lookup the original performs via searchsorted(side="right") - 1.
func proveLeg(bars []contracts.OHLCV, ts time.Time, price float64) (Flag, *time.Time) {
	if ts.IsZero() {
		return FlagUnknown, nil
	}

	pos := sort.Search(len(bars), func(i int) bool {
		return bars[i].Timestamp.After(ts)
	}) - 1

	if pos < 0 {
		return FlagUnknown, nil
	}

	bar := bars[pos]

	low, _ := bar.Low.Float64()
	high, _ := bar.High.Float64()

	if price >= low && price <= high {
		barTS := bar.Timestamp
		return FlagYes, &barTS
	}

	return FlagNo, nil
}

// isRTH reports whether ts, converted into loc, falls within the 09:30-16:00
// regular trading session.
func isRTH(ts time.Time, loc *time.Location) bool {
	local := ts.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	return minutes >= 9*60+30 && minutes <= 16*60
}
