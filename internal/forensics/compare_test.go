package forensics

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/stretchr/testify/suite"
)

type CompareTestSuite struct {
	suite.Suite
}

func TestCompareSuite(t *testing.T) {
	suite.Run(t, new(CompareTestSuite))
}

func writeEventsIntentCSV(t *testing.T, dir string, rows []IntentRow) string {
	t.Helper()

	path := filepath.Join(dir, "events_intent.csv")

	lines := "template_id,signal_ts,symbol,side,oco_group_id,entry_price,stop_price,take_profit_price,exit_ts,exit_reason,strategy_id,strategy_version,order_valid_from_ts,order_valid_to_ts\n"
	for _, r := range rows {
		lines += r.TemplateID + "," + r.SignalTS.UTC().Format(time.RFC3339) + "," + r.Symbol + "," + string(r.Side) +
			",oco-1," + formatFloat(r.EntryPrice) + "," + formatFloat(r.StopPrice) + "," + formatFloat(r.TakeProfitPrice) +
			",,,strategy-1,v1,,\n"
	}

	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	return dir
}

func writeTradesCSVForCompare(t *testing.T, dir string, trades []contracts.Trade) {
	t.Helper()

	path := filepath.Join(dir, "trades.csv")

	lines := "symbol,side,qty,entry_ts,entry_price,exit_ts,exit_price,pnl,reason,template_id\n"
	for _, tr := range trades {
		lines += tr.Symbol + "," + string(tr.Side) + ",10," +
			tr.EntryTS.UTC().Format(time.RFC3339) + ",100," +
			tr.ExitTS.UTC().Format(time.RFC3339) + ",101," +
			formatFloat(tr.PnL) + ",target," + tr.TemplateID + "\n"
	}

	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *CompareTestSuite) TestLoadRunArtifactsReadsEventsIntentCSV() {
	dir := s.T().TempDir()
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	writeEventsIntentCSV(s.T(), dir, []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105},
	})

	art, err := LoadRunArtifacts("run-a", dir)

	s.Require().NoError(err)
	s.Len(art.Intents, 1)
	s.Equal("AAPL", art.Intents[0].Symbol)
	s.Equal(ts, art.Intents[0].TriggerTS)
}

func (s *CompareTestSuite) TestCompareMatchesIdenticalIntents() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	row := IntentRow{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105}

	a := RunArtifacts{RunID: "run-a", Intents: []IntentRow{row}}
	b := RunArtifacts{RunID: "run-b", Intents: []IntentRow{row}}

	report := Compare(a, b)

	s.Equal(1, report.Matched)
	s.Equal(0, report.Mismatched)
	s.Equal(0, report.OnlyInA)
	s.Equal(0, report.OnlyInB)
}

func (s *CompareTestSuite) TestCompareFlagsPriceMismatchBeyondTolerance() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	a := RunArtifacts{RunID: "run-a", Intents: []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105},
	}}
	b := RunArtifacts{RunID: "run-b", Intents: []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100.5, StopPrice: 99, TakeProfitPrice: 105},
	}}

	report := Compare(a, b)

	s.Equal(0, report.Matched)
	s.Equal(1, report.Mismatched)
	s.Require().Len(report.Rows, 1)
	s.True(report.Rows[0].PriceMismatch)
}

func (s *CompareTestSuite) TestCompareWithinToleranceIsNotMismatch() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	a := RunArtifacts{RunID: "run-a", Intents: []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105},
	}}
	b := RunArtifacts{RunID: "run-b", Intents: []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100.0000001, StopPrice: 99, TakeProfitPrice: 105},
	}}

	report := Compare(a, b)

	s.Equal(1, report.Matched)
	s.Equal(0, report.Mismatched)
}

func (s *CompareTestSuite) TestCompareFlagsOneSidedIntents() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	a := RunArtifacts{RunID: "run-a", Intents: []IntentRow{
		{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105},
	}}
	b := RunArtifacts{RunID: "run-b", Intents: nil}

	report := Compare(a, b)

	s.Equal(1, report.OnlyInA)
	s.Equal(0, report.OnlyInB)
}

func (s *CompareTestSuite) TestCompareCrossJoinsPnLByTemplateID() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	row := IntentRow{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105}

	a := RunArtifacts{
		RunID:              "run-a",
		Intents:            []IntentRow{row},
		TradesByTemplateID: map[string]contracts.Trade{"tmpl-1": {Symbol: "AAPL", Side: contracts.IntentSideBuy, TemplateID: "tmpl-1", PnL: 10}},
	}
	b := RunArtifacts{
		RunID:              "run-b",
		Intents:            []IntentRow{row},
		TradesByTemplateID: map[string]contracts.Trade{"tmpl-1": {Symbol: "AAPL", Side: contracts.IntentSideBuy, TemplateID: "tmpl-1", PnL: 15}},
	}

	report := Compare(a, b)

	s.Require().Len(report.Rows, 1)
	s.True(report.Rows[0].HasPnL)
	s.InDelta(5.0, report.Rows[0].PnLDelta, 0.0001)
}

func (s *CompareTestSuite) TestWriteMarkdownAndCSVProduceFiles() {
	dir := s.T().TempDir()
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	row := IntentRow{TemplateID: "tmpl-1", Symbol: "AAPL", Side: contracts.IntentSideBuy, SignalTS: ts, TriggerTS: ts, EntryPrice: 100, StopPrice: 99, TakeProfitPrice: 105}

	a := RunArtifacts{RunID: "run-a", Status: "completed", Intents: []IntentRow{row}}
	b := RunArtifacts{RunID: "run-b", Status: "completed", Intents: []IntentRow{row}}

	report := Compare(a, b)

	mdPath := filepath.Join(dir, "report.md")
	csvPath := filepath.Join(dir, "report.csv")

	s.Require().NoError(WriteMarkdown(report, mdPath))
	s.Require().NoError(WriteCSV(report, csvPath))

	md, err := os.ReadFile(mdPath)
	s.Require().NoError(err)
	s.Contains(string(md), "Run Comparison Report")
	s.Contains(string(md), "run-a")

	csvContent, err := os.ReadFile(csvPath)
	s.Require().NoError(err)
	s.Contains(string(csvContent), "symbol,side,trigger_ts")
}

func (s *CompareTestSuite) TestReadStatusBestEffortReturnsEmptyWhenMissing() {
	status := readStatusBestEffort(filepath.Join(s.T().TempDir(), "does-not-exist.json"))

	s.Empty(status)
}
