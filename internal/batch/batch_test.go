package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/intent"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/internal/pipeline"
	"github.com/quantforge/backtest-core/internal/strategy"
	"github.com/stretchr/testify/suite"
)

type noSignalPlugin struct{}

func (noSignalPlugin) GetSchema(version string) (contracts.SignalFrameSchema, error) {
	cols := append([]contracts.ColumnSpec{}, contracts.RequiredBaseColumns("AAPL", "M5")...)
	cols = append(cols, contracts.RequiredGenericColumns()...)

	return contracts.SignalFrameSchema{StrategyID: "noop", StrategyTag: "T", Version: version, Columns: cols}, nil
}

func (p noSignalPlugin) ExtendSignalFrame(bars []contracts.OHLCV, params json.RawMessage) (contracts.SignalFrame, error) {
	schema, _ := p.GetSchema("v1")

	rows := make([]contracts.SignalRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, contracts.SignalRow{
			Timestamp: b.Timestamp, Symbol: "AAPL", Timeframe: "M5",
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
			BoolSignals: map[string]bool{},
		})
	}

	return contracts.SignalFrame{Schema: schema, Rows: rows}, nil
}

type BatchTestSuite struct {
	suite.Suite
}

func TestBatchSuite(t *testing.T) {
	suite.Run(t, new(BatchTestSuite))
}

func (s *BatchTestSuite) writeBarsCSV(dir string) string {
	path := filepath.Join(dir, "bars.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02T14:30:00Z,100,101,99,100.5,1000\n" +
		"2026-01-02T14:35:00Z,100.5,102,100,101.5,1000\n"

	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	return path
}

// coverageSkipEnvVar mirrors artifact.skipCoverageEnvVar: tests run with
// D1 timeframes and the escape hatch set so the coverage gate never needs
// a real DuckDB-readable parquet file, matching how the artifact package's
// own tests avoid exercising queryMinMax against a real file.
const coverageSkipEnvVar = "ALLOW_SKIP_D1_COVERAGE"

func (s *BatchTestSuite) paramsFor(runID, outDir, barsPath string) pipeline.Params {
	return pipeline.Params{
		RunID:           runID,
		OutDir:          outDir,
		BarsPath:        barsPath,
		StrategyID:      "noop",
		StrategyVersion: "v1",
		Symbol:          "AAPL",
		Timeframe:       "D1",
		RequestedEnd:    time.Date(2026, 1, 2, 16, 0, 0, 0, time.UTC),
		ValidFrom:       time.Date(2026, 1, 2, 14, 0, 0, 0, time.UTC),
		InitialCash:     10000,
		ValidFromPolicy: intent.ValidFromNone,
		MarketTZ:        "America/New_York",
		StrategyParams:  map[string]any{},
	}
}

func (s *BatchTestSuite) TestRunManyReturnsOutcomesInInputOrder() {
	s.T().Setenv(coverageSkipEnvVar, "true")
	dir := s.T().TempDir()
	barsPath := s.writeBarsCSV(dir)

	registry := strategy.NewRegistry()
	registry.Register("noop", "v1", noSignalPlugin{})

	specs := []RunSpec{
		{Params: s.paramsFor("run-a", filepath.Join(dir, "run-a"), barsPath)},
		{Params: s.paramsFor("run-b", filepath.Join(dir, "run-b"), barsPath)},
		{Params: s.paramsFor("run-c", filepath.Join(dir, "run-c"), barsPath)},
	}

	outcomes := RunMany(context.Background(), logging.NewNopLogger(), registry, specs, 2)

	s.Require().Len(outcomes, 3)
	s.Equal("run-a", outcomes[0].RunID)
	s.Equal("run-b", outcomes[1].RunID)
	s.Equal("run-c", outcomes[2].RunID)

	for _, o := range outcomes {
		s.Equal(contracts.RunStatusSuccess, o.Status)
	}
}

func (s *BatchTestSuite) TestRunManyDefaultsConcurrencyWhenNonPositive() {
	s.T().Setenv(coverageSkipEnvVar, "true")
	dir := s.T().TempDir()
	barsPath := s.writeBarsCSV(dir)

	registry := strategy.NewRegistry()
	registry.Register("noop", "v1", noSignalPlugin{})

	specs := []RunSpec{{Params: s.paramsFor("run-only", filepath.Join(dir, "run-only"), barsPath)}}

	outcomes := RunMany(context.Background(), logging.NewNopLogger(), registry, specs, 0)

	s.Require().Len(outcomes, 1)
	s.Equal(contracts.RunStatusSuccess, outcomes[0].Status)
}

func (s *BatchTestSuite) TestRunManyIsolatesFailingRun() {
	s.T().Setenv(coverageSkipEnvVar, "true")
	dir := s.T().TempDir()
	barsPath := s.writeBarsCSV(dir)

	registry := strategy.NewRegistry()
	registry.Register("noop", "v1", noSignalPlugin{})

	good := s.paramsFor("run-good", filepath.Join(dir, "run-good"), barsPath)
	bad := s.paramsFor("run-bad", filepath.Join(dir, "run-bad"), barsPath)
	bad.StrategyID = "does-not-exist"

	outcomes := RunMany(context.Background(), logging.NewNopLogger(), registry, []RunSpec{{Params: good}, {Params: bad}}, 2)

	s.Require().Len(outcomes, 2)
	s.Equal(contracts.RunStatusSuccess, outcomes[0].Status)
	s.Equal(contracts.RunStatusError, outcomes[1].Status)
}
