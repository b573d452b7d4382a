// Package pipeline wires the per-stage packages (coverage/SLA gates,
// strategy, intent, fill, execution, metrics) into the single sequential
// run spec.md §2 describes, writing every artifact run.go/manifest.go
// name along the way. Grounded on
// src/backtest/services/backtest_engine.py's BacktestEngineV1.run, the
// single place in the original that calls every stage in order.
package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quantforge/backtest-core/internal/artifact"
	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/datafetch"
	"github.com/quantforge/backtest-core/internal/evidence"
	"github.com/quantforge/backtest-core/internal/execution"
	"github.com/quantforge/backtest-core/internal/fill"
	"github.com/quantforge/backtest-core/internal/intent"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/internal/metrics"
	"github.com/quantforge/backtest-core/internal/strategy"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// timeframeMinutesByLabel maps the CLI-facing timeframe label to its bar
// spacing in minutes, used to size the one_bar/next_bar intent validity
// windows.
var timeframeMinutesByLabel = map[string]int{
	"M1": 1, "M5": 5, "M15": 15, "H1": 60, "D1": 1440,
}

// defaultSessionFilter is the regular-trading-session window used for the
// session_end order-validity policy when Params doesn't override it.
var defaultSessionFilter = []intent.SessionWindow{{Start: "09:30", End: "16:00"}}

// Params is everything one run needs, the Go-native shape of
// cmd/backtest's flag set. Tags are enforced by paramsValidator before a
// run is allowed to touch the filesystem, the same role
// go-playground/validator plays for the teacher's order and stream
// configs.
type Params struct {
	RunID             string    `validate:"required"`
	OutDir            string    `validate:"required"`
	BarsPath          string    `validate:"required"`
	StrategyID        string    `validate:"required"`
	StrategyVersion   string    `validate:"required"`
	Symbol            string    `validate:"required"`
	Timeframe         string    `validate:"required,oneof=M1 M5 M15 H1 D1"`
	RequestedEnd      time.Time
	LookbackDays      int `validate:"gte=0"`
	ValidFrom         time.Time
	CompoundEnabled   bool
	InitialCash       float64 `validate:"gte=0"`
	FeesBps           float64 `validate:"gte=0"`
	SlippageBps       float64 `validate:"gte=0"`
	ValidFromPolicy   intent.ValidFromPolicy
	OrderValidityPol  intent.OrderValidityPolicy
	CommitHash        string
	MarketTZ          string
	RequiresConsecBar bool
	LookbackBars      int `validate:"gte=0"`
	StrategyParams    map[string]any

	// Sizing selects how execution.PositionSizer computes trade quantity
	// (spec §4.8); empty defaults to SizingModeFixed/FixedQty=1. Equity for
	// PctEquity/RiskBased is always InitialCash: the original's own
	// PositionSizer.equity is fixed per run config, not recomputed per
	// trade, so --compound-enabled affects the ledger/equity curve roll-
	// forward only, never the sizer (see DESIGN.md).
	SizingMode execution.SizingMode `validate:"omitempty,oneof=fixed pct_equity risk"`
	FixedQty   float64
	PosPct     float64
	RiskPct    float64
	MaxPosPct  float64
	MinQty     float64
	TickSize   float64

	// OnStage, if set, is called after each pipeline stage completes, in
	// the same spirit as the teacher's OnProcessDataCallback: a caller
	// (cmd/backtest) drives a progress bar off it instead of the pipeline
	// depending on one directly.
	OnStage func(stage string)
}

func (p Params) notify(stage string) {
	if p.OnStage != nil {
		p.OnStage(stage)
	}
}

// paramsValidator is shared across calls the same way the teacher shares
// one validator.Validate instance rather than allocating per request.
var paramsValidator = validator.New()

// Outcome is Execute's return value: the terminal run status plus the
// artifacts it wrote, for callers (cmd/backtest, internal/batch) to report.
type Outcome struct {
	RunID  string
	Status contracts.RunStatus
	Reason runerrors.GateReason
	Err    error
}

// Execute runs one full backtest: gate checks, strategy signal generation,
// intents, fills, trades, metrics, and every artifact file. Once the run
// directory and run_meta.json are in place it always ends with
// run_result.json written exactly once regardless of outcome — even a
// panic part-way through a stage, the finally-equivalent scope spec §4.10
// requires. Invalid params, or a failure to create the run directory or to
// write run_meta.json, return an error Outcome without a run_result.json.
func Execute(ctx context.Context, logger *logging.Logger, registry *strategy.Registry, params Params) (outcome Outcome) {
	if err := paramsValidator.Struct(params); err != nil {
		return Outcome{RunID: params.RunID, Status: contracts.RunStatusError, Err: runerrors.Wrapf(runerrors.ErrCodeConfigMalformed, err, "invalid run params")}
	}

	run, err := contracts.NewRunContext(params.RunID, params.RunID, params.OutDir)
	if err != nil {
		return Outcome{RunID: params.RunID, Status: contracts.RunStatusError, Err: err}
	}

	if err := artifact.CreateRunDir(run); err != nil {
		return Outcome{RunID: params.RunID, Status: contracts.RunStatusError, Err: err}
	}

	manifest := artifact.NewManifestWriter(run, logger)
	manifest.WriteInitial(run.RunID, params.CommitHash, artifact.StrategyMeta{
		Key:            params.StrategyID,
		ImplVersion:    params.StrategyVersion,
		ProfileVersion: params.StrategyVersion,
	}, params.StrategyParams, artifact.ManifestDataSpec{
		Symbol:       params.Symbol,
		RequestedTF:  params.Timeframe,
		BaseTFUsed:   params.Timeframe,
		LookbackDays: params.LookbackDays,
		RequestedEnd: params.RequestedEnd.UTC().Format(time.RFC3339),
	})

	meta := artifact.RunMeta{
		RunID:     run.RunID,
		StartedAt: time.Now().UTC(),
		Strategy: artifact.StrategyMeta{
			Key:            params.StrategyID,
			ImplVersion:    params.StrategyVersion,
			ProfileVersion: params.StrategyVersion,
		},
		Params: params.StrategyParams,
		Data: artifact.RunMetaData{
			Symbol:       params.Symbol,
			Timeframe:    params.Timeframe,
			RequestedEnd: params.RequestedEnd.UTC().Format(time.RFC3339),
			LookbackDays: params.LookbackDays,
		},
		CommitHash: params.CommitHash,
		MarketTZ:   params.MarketTZ,
	}

	if err := artifact.WriteRunMeta(run, meta); err != nil {
		return Outcome{RunID: run.RunID, Status: contracts.RunStatusError, Err: err}
	}

	steps := artifact.NewStepTracker(run)

	var (
		result     artifact.RunResultDoc
		artifacts  []string
	)

	// Once the run directory exists, every remaining path — including a
	// panic out of strategy.BuildSignalFrame's WASM call, or anywhere else
	// downstream — must still end in a written run_result.json and a
	// finalized manifest, per spec §4.10 invariant 3 and §7.
	defer func() {
		if r := recover(); r != nil {
			_ = steps.Record("panic", artifact.StepStatusFailed, map[string]any{"recovered": fmt.Sprintf("%v", r)})

			result = artifact.RunResultDoc{
				RunID:      run.RunID,
				FinishedAt: time.Now().UTC(),
				Status:     contracts.RunStatusError,
				ErrorID:    "PANIC",
			}

			_ = artifact.WriteErrorStacktrace(run, result.ErrorID, r)

			if err := artifact.WriteRunResult(run, logger, result); err != nil {
				logger.Error("failed to write run_result.json after panic", zap.Error(err))
			}

			manifest.Finalize(result, artifacts)

			outcome = Outcome{RunID: run.RunID, Status: result.Status, Reason: result.Reason, Err: outcomeErr(result)}
		}
	}()

	result, artifacts = runStages(ctx, run, logger, registry, manifest, steps, params)

	if err := artifact.WriteRunResult(run, logger, result); err != nil {
		logger.Error("failed to write run_result.json", zap.Error(err))
	}

	manifest.Finalize(result, artifacts)

	outcome = Outcome{RunID: run.RunID, Status: result.Status, Reason: result.Reason, Err: outcomeErr(result)}

	return outcome
}

// outcomeErr reports result as an error for callers that check Outcome.Err,
// nil on a successful run.
func outcomeErr(result artifact.RunResultDoc) error {
	if result.Status == contracts.RunStatusSuccess {
		return nil
	}

	return fmt.Errorf("run %s finished with status %s (error_id=%s)", result.RunID, result.Status, result.ErrorID)
}

func runStages(ctx context.Context, run contracts.RunContext, logger *logging.Logger, registry *strategy.Registry, manifest *artifact.ManifestWriter, steps *artifact.StepTracker, params Params) (artifact.RunResultDoc, []string) {
	finishedAt := func() time.Time { return time.Now().UTC() }

	var artifacts []string

	bars, _, err := datafetch.LoadSnapshot(params.BarsPath)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	params.notify("snapshot_loaded")
	_ = steps.Record("snapshot_loaded", artifact.StepStatusCompleted, map[string]any{"num_bars": len(bars)})

	isDaily := params.Timeframe == string(datafetch.TimeframeD1)

	coverage := artifact.CheckCoverage(ctx, params.BarsPath, params.ValidFrom, params.RequestedEnd, isDaily)
	manifest.UpdateCoverageGate(coverage)

	if err := artifact.WriteCoverageCheck(run, coverage); err != nil {
		logger.Error("failed to write coverage_check.json", zap.Error(err))
	} else {
		artifacts = append(artifacts, "coverage_check.json")
	}

	if coverage.Status == artifact.CoverageGapDetected && !coverage.Skipped {
		_ = steps.Record("gates_passed", artifact.StepStatusFailed, map[string]any{"reason": runerrors.GateReasonCoverageGap})

		return artifact.RunResultDoc{
			RunID: run.RunID, FinishedAt: finishedAt(), Status: contracts.RunStatusFailedPrecondition,
			Reason: runerrors.GateReasonCoverageGap,
			Details: map[string]any{
				"requested_start": coverage.RequestedStart,
				"requested_end":   coverage.RequestedEnd,
			},
		}, artifacts
	}

	sla := artifact.CheckDataSLA(bars, params.Timeframe, params.RequiresConsecBar, params.LookbackBars, params.MarketTZ)
	manifest.UpdateSLAGate(sla)

	if err := artifact.WriteSLACheck(run, sla); err != nil {
		logger.Error("failed to write sla_check.json", zap.Error(err))
	} else {
		artifacts = append(artifacts, "sla_check.json")
	}

	if !sla.Passed {
		_ = steps.Record("gates_passed", artifact.StepStatusFailed, map[string]any{"reason": runerrors.GateReasonSLAFailed})

		return artifact.RunResultDoc{
			RunID: run.RunID, FinishedAt: finishedAt(), Status: contracts.RunStatusFailedPrecondition,
			Reason:  runerrors.GateReasonSLAFailed,
			Details: map[string]any{"violations": sla.FatalViolations()},
		}, artifacts
	}

	if len(bars) > 0 {
		manifest.UpdateEffectiveRange(bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	}

	params.notify("gates_passed")
	_ = steps.Record("gates_passed", artifact.StepStatusCompleted, nil)

	plugin, err := registry.Resolve(params.StrategyID, params.StrategyVersion)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	rawParams, err := jsoniter.Marshal(params.StrategyParams)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	frame, err := strategy.BuildSignalFrame(plugin, params.StrategyID, params.StrategyVersion, params.Symbol, params.Timeframe, bars, rawParams, logger)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	params.notify("signal_frame_built")
	_ = steps.Record("signal_frame_built", artifact.StepStatusCompleted, map[string]any{"num_rows": len(frame.Rows)})

	sessionFilter := defaultSessionFilter

	intents, err := intent.GenerateIntents(frame, intent.GenerateParams{
		OrderValidityPolicy: params.OrderValidityPol,
		ValidFromPolicy:     params.ValidFromPolicy,
		SessionTimezone:     params.MarketTZ,
		SessionFilter:       sessionFilter,
		TimeframeMinutes:    timeframeMinutesByLabel[params.Timeframe],
		Symbol:              params.Symbol,
		StrategyID:          params.StrategyID,
		StrategyVersion:     params.StrategyVersion,
	})
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	intentBytes, _, err := contracts.CanonicalizeIntents(intents)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	if err := os.WriteFile(run.Path("events_intent.csv"), intentBytes, 0o644); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "events_intent.csv")

	params.notify("intents_generated")
	_ = steps.Record("intents_generated", artifact.StepStatusCompleted, map[string]any{"num_intents": len(intents)})

	fills, err := fill.GenerateFills(intents, bars, nil)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	fillBytes, _, err := contracts.CanonicalizeFills(fills)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	if err := os.WriteFile(run.Path("fills.csv"), fillBytes, 0o644); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "fills.csv")

	params.notify("fills_generated")
	_ = steps.Record("fills_generated", artifact.StepStatusCompleted, map[string]any{"num_fills": len(fills)})

	sizer, err := execution.NewPositionSizer(sizingConfigOf(params))
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	trades, err := execution.BuildTrades(intents, fills, sizer)
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	if err := writeTradesCSV(run.Path("trades.csv"), trades); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "trades.csv")

	tradeEvidence := evidence.Generate(trades, bars, params.MarketTZ)
	if err := writeTradeEvidenceCSV(run.Path("trade_evidence.csv"), tradeEvidence); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "trade_evidence.csv")

	ledger := execution.BuildLedger(params.InitialCash, trades)
	if err := writeLedgerCSV(run.Path("portfolio_ledger.csv"), ledger); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "portfolio_ledger.csv")

	curve := execution.BuildEquityCurve(params.InitialCash, trades)
	if err := writeEquityCSV(run.Path("equity_curve.csv"), curve); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "equity_curve.csv")

	params.notify("trades_built")
	_ = steps.Record("trades_built", artifact.StepStatusCompleted, map[string]any{"num_trades": len(trades)})

	summary := metrics.Compose(trades, curve, params.InitialCash, 0)

	params.notify("metrics_composed")
	_ = steps.Record("metrics_composed", artifact.StepStatusCompleted, nil)

	summaryBytes, err := jsoniter.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	if err := os.WriteFile(run.Path("metrics.json"), summaryBytes, 0o644); err != nil {
		return errorResultWithStacktrace(run, finishedAt(), err), artifacts
	}

	artifacts = append(artifacts, "metrics.json")

	return artifact.RunResultDoc{
		RunID:      run.RunID,
		FinishedAt: finishedAt(),
		Status:     contracts.RunStatusSuccess,
		Details: map[string]any{
			"num_trades": len(trades),
			"net_pnl":    summary.NetPnL,
		},
	}, artifacts
}

// sizingConfigOf builds execution.SizingConfig from Params, defaulting to
// SizingModeFixed/FixedQty=1 when Params doesn't select a mode. Equity is
// always params.InitialCash (see the Sizing field's doc comment).
func sizingConfigOf(params Params) execution.SizingConfig {
	mode := params.SizingMode
	if mode == "" {
		mode = execution.SizingModeFixed
	}

	fixedQty := params.FixedQty
	if mode == execution.SizingModeFixed && fixedQty == 0 {
		fixedQty = 1
	}

	return execution.SizingConfig{
		Mode:      mode,
		FixedQty:  decimal.NewFromFloat(fixedQty),
		Equity:    decimal.NewFromFloat(params.InitialCash),
		PosPct:    decimal.NewFromFloat(params.PosPct),
		RiskPct:   decimal.NewFromFloat(params.RiskPct),
		MaxPosPct: decimal.NewFromFloat(params.MaxPosPct),
		MinQty:    decimal.NewFromFloat(params.MinQty),
		TickSize:  decimal.NewFromFloat(params.TickSize),
	}
}

func errorResult(runID string, finishedAt time.Time, err error) artifact.RunResultDoc {
	return artifact.RunResultDoc{
		RunID:      runID,
		FinishedAt: finishedAt,
		Status:     contracts.RunStatusError,
		ErrorID:    runerrors.GetCode(err).String(),
	}
}

func errorResultWithStacktrace(run contracts.RunContext, finishedAt time.Time, err error) artifact.RunResultDoc {
	result := errorResult(run.RunID, finishedAt, err)

	_ = artifact.WriteErrorStacktrace(run, result.ErrorID, err)

	return result
}

func writeTradesCSV(path string, trades []contracts.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"symbol", "side", "qty", "entry_ts", "entry_price", "exit_ts", "exit_price", "pnl", "reason", "template_id"}); err != nil {
		return err
	}

	for _, t := range trades {
		if err := w.Write([]string{
			t.Symbol, string(t.Side), fmt.Sprintf("%g", t.Qty),
			t.EntryTS.UTC().Format(time.RFC3339), fmt.Sprintf("%g", t.EntryPrice),
			t.ExitTS.UTC().Format(time.RFC3339), fmt.Sprintf("%g", t.ExitPrice),
			fmt.Sprintf("%g", t.PnL), string(t.Reason), t.TemplateID,
		}); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func writeEquityCSV(path string, points []contracts.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"ts", "equity", "drawdown_pct"}); err != nil {
		return err
	}

	for _, p := range points {
		if err := w.Write([]string{p.TS.UTC().Format(time.RFC3339), fmt.Sprintf("%g", p.Equity), fmt.Sprintf("%g", p.DrawdownPct)}); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func writeLedgerCSV(path string, entries []contracts.LedgerEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"seq", "timestamp", "cash"}); err != nil {
		return err
	}

	for _, e := range entries {
		if err := w.Write([]string{strconv.Itoa(e.Seq), e.Timestamp.UTC().Format(time.RFC3339), fmt.Sprintf("%g", e.Cash)}); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func writeTradeEvidenceCSV(path string, rows []evidence.TradeEvidence) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"trade_id", "entry_exec_proven", "exit_exec_proven", "order_validity_holds",
		"signal_recalc_match", "rth_compliant", "data_slice_integrity", "proof_status",
		"fail_reasons", "proving_bar_ts_entry", "proving_bar_ts_exit",
	}); err != nil {
		return err
	}

	for _, e := range rows {
		if err := w.Write([]string{
			strconv.Itoa(e.TradeID), string(e.EntryExecProven), string(e.ExitExecProven), string(e.OrderValidityHolds),
			string(e.SignalRecalcMatch), string(e.RTHCompliant), e.DataSliceIntegrity, string(e.ProofStatus),
			e.FailReasons, optTimePointerString(e.ProvingBarTSEntry), optTimePointerString(e.ProvingBarTSExit),
		}); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func optTimePointerString(ts *time.Time) string {
	if ts == nil {
		return ""
	}

	return ts.UTC().Format(time.RFC3339)
}
