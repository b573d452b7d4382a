// Command backtest is the headless CLI entry point for one deterministic
// backtest run, grounded on cmd/market/main.go's urfave/cli/v3 shape and
// src/backtest/cli.py's flag set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/quantforge/backtest-core/internal/execution"
	"github.com/quantforge/backtest-core/internal/intent"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/internal/pipeline"
	"github.com/quantforge/backtest-core/internal/strategy"
	_ "github.com/quantforge/backtest-core/internal/strategy/builtin/insidebar"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// pipelineStages names every stage pipeline.Params.OnStage fires for, in
// order, so the progress bar advances deterministically rather than
// guessing totals from run output the way the teacher's engine does off
// bar counts.
var pipelineStages = []string{
	"snapshot_loaded", "gates_passed", "signal_frame_built",
	"intents_generated", "fills_generated", "trades_built", "metrics_composed",
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	requestedEnd := cmd.Timestamp("requested-end")
	if requestedEnd == nil {
		requestedEnd = cmd.Timestamp("valid-to")
	}

	validFrom := cmd.Timestamp("valid-from")

	if basis := cmd.String("compound-equity-basis"); basis != "cash_only" {
		return fmt.Errorf("invalid --compound-equity-basis %q: only \"cash_only\" is accepted", basis)
	}

	params := pipeline.Params{
		RunID:             cmd.String("run-id"),
		OutDir:            cmd.String("out-dir"),
		BarsPath:          cmd.String("bars-path"),
		StrategyID:        cmd.String("strategy-id"),
		StrategyVersion:   cmd.String("strategy-version"),
		Symbol:            cmd.String("symbol"),
		Timeframe:         cmd.String("timeframe"),
		LookbackDays:      int(cmd.Int("lookback-days")),
		CompoundEnabled:   cmd.Bool("compound-enabled"),
		InitialCash:       cmd.Float("initial-cash"),
		FeesBps:           cmd.Float("fees-bps"),
		SlippageBps:       cmd.Float("slippage-bps"),
		ValidFromPolicy:   intent.ValidFromPolicy(cmd.String("valid-from-policy")),
		OrderValidityPol:  intent.OrderValidityPolicy(cmd.String("order-validity-policy")),
		MarketTZ:          "America/New_York",
		RequiresConsecBar: true,
		LookbackBars:      int(cmd.Int("lookback-bars")),
		StrategyParams:    map[string]any{},
		SizingMode:        execution.SizingMode(cmd.String("sizing-mode")),
		FixedQty:          cmd.Float("fixed-qty"),
		PosPct:            cmd.Float("pos-pct"),
		RiskPct:           cmd.Float("risk-pct"),
		MaxPosPct:         cmd.Float("max-pos-pct"),
		MinQty:            cmd.Float("min-qty"),
		TickSize:          cmd.Float("tick-size"),
	}

	if requestedEnd != nil {
		params.RequestedEnd = *requestedEnd
	}

	if validFrom != nil {
		params.ValidFrom = *validFrom
	}

	registry := strategy.Global()

	if !cmd.Bool("no-progress") {
		bar := progressbar.NewOptions(len(pipelineStages),
			progressbar.OptionSetDescription("backtest"),
			progressbar.OptionShowCount(),
		)
		params.OnStage = func(string) { _ = bar.Add(1) }
	}

	outcome := pipeline.Execute(ctx, logger, registry, params)

	result, _ := json.Marshal(outcome)
	fmt.Println(string(result))
	fmt.Fprintf(os.Stderr, "run %s status=%s initial_cash=$%s\n",
		outcome.RunID, outcome.Status, humanize.Commaf(params.InitialCash))

	if outcome.Status != "SUCCESS" {
		os.Exit(1)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run one deterministic backtest against a bars snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-id", Required: true},
			&cli.StringFlag{Name: "out-dir", Required: true},
			&cli.StringFlag{Name: "bars-path", Required: true},
			&cli.StringFlag{Name: "strategy-id", Required: true},
			&cli.StringFlag{Name: "strategy-version", Required: true},
			&cli.StringFlag{Name: "symbol", Required: true},
			&cli.StringFlag{Name: "timeframe", Required: true, Usage: "M1|M5|M15|H1|D1"},
			&cli.TimestampFlag{
				Name:  "requested-end",
				Usage: "Alias: --valid-to",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339, "2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name: "valid-to",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339, "2006-01-02"},
				},
			},
			&cli.IntFlag{Name: "lookback-days"},
			&cli.IntFlag{Name: "lookback-bars", Value: 50, Usage: "Bar count for the SLA gap-completeness window"},
			&cli.TimestampFlag{
				Name: "valid-from",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339, "2006-01-02"},
				},
			},
			&cli.BoolFlag{Name: "compound-enabled"},
			&cli.StringFlag{Name: "compound-equity-basis", Value: "cash_only"},
			&cli.FloatFlag{Name: "initial-cash", Value: 100000},
			&cli.FloatFlag{Name: "fees-bps", Value: 0},
			&cli.FloatFlag{Name: "slippage-bps", Value: 0},
			&cli.StringFlag{Name: "valid-from-policy", Value: string(intent.ValidFromNone)},
			&cli.StringFlag{Name: "order-validity-policy", Value: string(intent.OrderValidityNone)},
			&cli.StringFlag{Name: "sizing-mode", Value: string(execution.SizingModeFixed), Usage: "fixed|pct_equity|risk"},
			&cli.FloatFlag{Name: "fixed-qty", Value: 1, Usage: "Quantity for sizing-mode=fixed"},
			&cli.FloatFlag{Name: "pos-pct", Usage: "Percent of equity per position for sizing-mode=pct_equity (10 = 10%)"},
			&cli.FloatFlag{Name: "risk-pct", Usage: "Percent of equity risked per trade for sizing-mode=risk"},
			&cli.FloatFlag{Name: "max-pos-pct", Usage: "Max percent of equity per position for sizing-mode=risk"},
			&cli.FloatFlag{Name: "min-qty", Value: 1, Usage: "Minimum tradeable quantity"},
			&cli.FloatFlag{Name: "tick-size", Value: 1, Usage: "Quantity rounding increment"},
			&cli.BoolFlag{Name: "no-progress", Usage: "Disable the stage progress bar"},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
