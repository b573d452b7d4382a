// Package forensics compares two completed runs' intent events and
// summarizes the result as a markdown report plus a CSV of every compared
// row, matched and one-sided.
// Grounded on scripts/audit_trade_verification.py's artifact-inventory and
// execution-validity tasks, and test_trade_inspector_repo.py's run-loading
// shape, adapted from single-run inspection to pairwise run comparison.
package forensics

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
)

// priceTolerance is the absolute delta below which two prices are
// considered identical, per spec §4.17.
const priceTolerance = 1e-6

// IntentRow is one parsed row of events_intent.csv, reduced to the fields
// the comparison needs.
type IntentRow struct {
	TemplateID      string
	Symbol          string
	Side            contracts.IntentSide
	SignalTS        time.Time
	TriggerTS       time.Time
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
}

// RunArtifacts is the slice of a run directory this package reads.
type RunArtifacts struct {
	RunID   string
	Status  string
	Intents []IntentRow
	// TradesByTemplateID is best-effort: trades.csv may be absent on a
	// failed run, in which case PnL deltas are simply not computed.
	TradesByTemplateID map[string]contracts.Trade
}

// LoadRunArtifacts reads run_result.json's status (best-effort), and
// events_intent.csv (required) plus trades.csv (best-effort, for the
// optional PnL cross-join) from runDir.
func LoadRunArtifacts(runID, runDir string) (RunArtifacts, error) {
	intents, err := loadEventsIntentCSV(filepath.Join(runDir, "events_intent.csv"))
	if err != nil {
		return RunArtifacts{}, err
	}

	trades, _ := loadTradesCSV(filepath.Join(runDir, "trades.csv"))

	return RunArtifacts{
		RunID:               runID,
		Status:              readStatusBestEffort(filepath.Join(runDir, "run_result.json")),
		Intents:             intents,
		TradesByTemplateID:  indexTradesByTemplateID(trades),
	}, nil
}

// IntentKey identifies an intent across two runs for matching purposes,
// per spec §4.17: (symbol, side, trigger_ts), trigger_ts falling back to
// signal_ts when a strategy never populates dbg_trigger_ts.
type IntentKey struct {
	Symbol    string
	Side      contracts.IntentSide
	TriggerTS time.Time
}

// IntentComparison is one matched (or one-sided) intent row, with an
// optional PnL cross-join by template_id when both runs produced a
// matching trade.
type IntentComparison struct {
	Key             IntentKey
	InA             bool
	InB             bool
	EntryPriceA     float64
	EntryPriceB     float64
	StopPriceA      float64
	StopPriceB      float64
	TakeProfitA     float64
	TakeProfitB     float64
	PriceMismatch   bool
	TemplateIDA     string
	TemplateIDB     string
	HasPnL          bool
	PnLA            float64
	PnLB            float64
	PnLDelta        float64
}

// Report is the full run-to-run comparison result.
type Report struct {
	RunAID       string
	RunBID       string
	StatusA      string
	StatusB      string
	IntentCountA int
	IntentCountB int
	Rows         []IntentComparison
	OnlyInA      int
	OnlyInB      int
	Matched      int
	Mismatched   int
}

// Compare builds a Report from two loaded runs' intents, keyed on
// (symbol, side, trigger_ts), computing price deltas at a 1e-6 tolerance
// and cross-joining trades.csv by template_id for PnL deltas where both
// sides have a matching trade.
func Compare(a, b RunArtifacts) Report {
	byKeyA := indexIntents(a.Intents)
	byKeyB := indexIntents(b.Intents)

	keys := make(map[IntentKey]struct{}, len(byKeyA)+len(byKeyB))
	for k := range byKeyA {
		keys[k] = struct{}{}
	}

	for k := range byKeyB {
		keys[k] = struct{}{}
	}

	rows := make([]IntentComparison, 0, len(keys))

	report := Report{
		RunAID:       a.RunID,
		RunBID:       b.RunID,
		StatusA:      a.Status,
		StatusB:      b.Status,
		IntentCountA: len(a.Intents),
		IntentCountB: len(b.Intents),
	}

	for k := range keys {
		ia, inA := byKeyA[k]
		ib, inB := byKeyB[k]

		row := IntentComparison{Key: k, InA: inA, InB: inB}

		if inA {
			row.EntryPriceA, row.StopPriceA, row.TakeProfitA = ia.EntryPrice, ia.StopPrice, ia.TakeProfitPrice
			row.TemplateIDA = ia.TemplateID
		}

		if inB {
			row.EntryPriceB, row.StopPriceB, row.TakeProfitB = ib.EntryPrice, ib.StopPrice, ib.TakeProfitPrice
			row.TemplateIDB = ib.TemplateID
		}

		if inA && inB {
			row.PriceMismatch = !withinTolerance(row.EntryPriceA, row.EntryPriceB) ||
				!withinTolerance(row.StopPriceA, row.StopPriceB) ||
				!withinTolerance(row.TakeProfitA, row.TakeProfitB)

			if ta, okA := a.TradesByTemplateID[ia.TemplateID]; okA {
				if tb, okB := b.TradesByTemplateID[ib.TemplateID]; okB {
					row.HasPnL = true
					row.PnLA = ta.PnL
					row.PnLB = tb.PnL
					row.PnLDelta = tb.PnL - ta.PnL
				}
			}
		}

		switch {
		case inA && !inB:
			report.OnlyInA++
		case inB && !inA:
			report.OnlyInB++
		case row.PriceMismatch:
			report.Mismatched++
		default:
			report.Matched++
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Key.TriggerTS.Equal(rows[j].Key.TriggerTS) {
			return rows[i].Key.TriggerTS.Before(rows[j].Key.TriggerTS)
		}

		return rows[i].Key.Symbol < rows[j].Key.Symbol
	})

	report.Rows = rows

	return report
}

func withinTolerance(a, b float64) bool {
	return math.Abs(a-b) <= priceTolerance
}

// WriteMarkdown renders the report as a markdown audit document.
func WriteMarkdown(report Report, path string) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Run Comparison Report\n\n")
	fmt.Fprintf(&buf, "**Run A**: `%s` (status: %s, intents: %d)  \n", report.RunAID, report.StatusA, report.IntentCountA)
	fmt.Fprintf(&buf, "**Run B**: `%s` (status: %s, intents: %d)\n\n", report.RunBID, report.StatusB, report.IntentCountB)
	fmt.Fprintf(&buf, "## Summary\n\n")
	fmt.Fprintf(&buf, "- Matched (prices within tolerance): %d\n", report.Matched)
	fmt.Fprintf(&buf, "- Mismatched (price delta beyond tolerance): %d\n", report.Mismatched)
	fmt.Fprintf(&buf, "- Only in A: %d\n", report.OnlyInA)
	fmt.Fprintf(&buf, "- Only in B: %d\n\n", report.OnlyInB)

	fmt.Fprintf(&buf, "## Intent Rows\n\n")
	fmt.Fprintf(&buf, "| Symbol | Side | Trigger TS | In A | In B | Entry A | Entry B | PnL Delta |\n")
	fmt.Fprintf(&buf, "|---|---|---|---|---|---|---|---|\n")

	for _, row := range report.Rows {
		fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			row.Key.Symbol, row.Key.Side, row.Key.TriggerTS.UTC().Format(time.RFC3339),
			yesNo(row.InA), yesNo(row.InB),
			fmtPrice(row.InA, row.EntryPriceA), fmtPrice(row.InB, row.EntryPriceB), fmtPnLDelta(row))
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// WriteCSV writes every row (matched and one-sided) as CSV.
func WriteCSV(report Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"symbol", "side", "trigger_ts", "in_a", "in_b",
		"entry_price_a", "entry_price_b", "stop_price_a", "stop_price_b",
		"take_profit_a", "take_profit_b", "price_mismatch",
		"has_pnl", "pnl_a", "pnl_b", "pnl_delta",
	}); err != nil {
		return err
	}

	for _, row := range report.Rows {
		record := []string{
			row.Key.Symbol,
			string(row.Key.Side),
			row.Key.TriggerTS.UTC().Format(time.RFC3339),
			strconv.FormatBool(row.InA),
			strconv.FormatBool(row.InB),
			strconv.FormatFloat(row.EntryPriceA, 'f', -1, 64),
			strconv.FormatFloat(row.EntryPriceB, 'f', -1, 64),
			strconv.FormatFloat(row.StopPriceA, 'f', -1, 64),
			strconv.FormatFloat(row.StopPriceB, 'f', -1, 64),
			strconv.FormatFloat(row.TakeProfitA, 'f', -1, 64),
			strconv.FormatFloat(row.TakeProfitB, 'f', -1, 64),
			strconv.FormatBool(row.PriceMismatch),
			strconv.FormatBool(row.HasPnL),
			strconv.FormatFloat(row.PnLA, 'f', -1, 64),
			strconv.FormatFloat(row.PnLB, 'f', -1, 64),
			strconv.FormatFloat(row.PnLDelta, 'f', -1, 64),
		}

		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func indexIntents(rows []IntentRow) map[IntentKey]IntentRow {
	idx := make(map[IntentKey]IntentRow, len(rows))

	for _, r := range rows {
		idx[IntentKey{Symbol: r.Symbol, Side: r.Side, TriggerTS: r.TriggerTS.UTC()}] = r
	}

	return idx
}

func indexTradesByTemplateID(trades []contracts.Trade) map[string]contracts.Trade {
	idx := make(map[string]contracts.Trade, len(trades))

	for _, t := range trades {
		idx[t.TemplateID] = t
	}

	return idx
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func fmtPrice(present bool, price float64) string {
	if !present {
		return "-"
	}

	return fmt.Sprintf("%.4f", price)
}

func fmtPnLDelta(row IntentComparison) string {
	if !row.HasPnL {
		return "-"
	}

	return fmt.Sprintf("%.4f", row.PnLDelta)
}

// loadEventsIntentCSV reads events_intent.csv's fixed columns (contracts'
// intentCanonicalColumns) plus, if present, a dbg_trigger_ts context
// column. trigger_ts falls back to signal_ts when dbg_trigger_ts is
// absent or blank, per spec §4.17.
func loadEventsIntentCSV(path string) ([]IntentRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeDataNotFound, err, "failed to open events_intent.csv at %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeDataNotFound, "failed to read events_intent.csv header", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	triggerCol, hasTrigger := col["dbg_trigger_ts"]

	var rows []IntentRow

	for {
		record, err := r.Read()
		if err != nil {
			break
		}

		signalTS, _ := time.Parse(time.RFC3339, record[col["signal_ts"]])

		triggerTS := signalTS

		if hasTrigger && record[triggerCol] != "" {
			if parsed, err := time.Parse(time.RFC3339, record[triggerCol]); err == nil {
				triggerTS = parsed
			}
		}

		entryPrice, _ := strconv.ParseFloat(record[col["entry_price"]], 64)
		stopPrice, _ := strconv.ParseFloat(record[col["stop_price"]], 64)
		takeProfitPrice, _ := strconv.ParseFloat(record[col["take_profit_price"]], 64)

		rows = append(rows, IntentRow{
			TemplateID:      record[col["template_id"]],
			Symbol:          record[col["symbol"]],
			Side:            contracts.IntentSide(record[col["side"]]),
			SignalTS:        signalTS,
			TriggerTS:       triggerTS,
			EntryPrice:      entryPrice,
			StopPrice:       stopPrice,
			TakeProfitPrice: takeProfitPrice,
		})
	}

	return rows, nil
}

func loadTradesCSV(path string) ([]contracts.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeDataNotFound, err, "failed to open trades.csv at %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeDataNotFound, "failed to read trades.csv header", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	var trades []contracts.Trade

	for {
		record, err := r.Read()
		if err != nil {
			break
		}

		entryTS, _ := time.Parse(time.RFC3339, record[col["entry_ts"]])
		exitTS, _ := time.Parse(time.RFC3339, record[col["exit_ts"]])
		qty, _ := strconv.ParseFloat(record[col["qty"]], 64)
		entryPrice, _ := strconv.ParseFloat(record[col["entry_price"]], 64)
		exitPrice, _ := strconv.ParseFloat(record[col["exit_price"]], 64)
		pnl, _ := strconv.ParseFloat(record[col["pnl"]], 64)

		trades = append(trades, contracts.Trade{
			Symbol:     record[col["symbol"]],
			Side:       contracts.IntentSide(record[col["side"]]),
			Qty:        qty,
			EntryTS:    entryTS,
			EntryPrice: entryPrice,
			ExitTS:     exitTS,
			ExitPrice:  exitPrice,
			PnL:        pnl,
			Reason:     contracts.FillReason(record[col["reason"]]),
			TemplateID: record[col["template_id"]],
		})
	}

	return trades, nil
}

func readStatusBestEffort(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	const key = `"status":"`

	idx := indexOf(string(b), key)
	if idx < 0 {
		return ""
	}

	rest := string(b)[idx+len(key):]

	end := indexOf(rest, `"`)
	if end < 0 {
		return ""
	}

	return rest[:end]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}

	return -1
}
