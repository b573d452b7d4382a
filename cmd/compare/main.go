// Command compare exposes run-comparison forensics (spec §4.17): it diffs
// two runs' intent events and writes a markdown report plus a CSV of every
// compared row, matched and one-sided. Grounded on cmd/market/main.go's urfave/cli/v3
// shape and scripts/audit_trade_verification.py's report-writing stage.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/quantforge/backtest-core/internal/forensics"
	"github.com/urfave/cli/v3"
)

func compareAction(ctx context.Context, cmd *cli.Command) error {
	runA := cmd.String("run-a")
	runB := cmd.String("run-b")
	out := cmd.String("out")

	artA, err := forensics.LoadRunArtifacts(filepath.Base(runA), runA)
	if err != nil {
		return fmt.Errorf("failed to load run A at %s: %w", runA, err)
	}

	artB, err := forensics.LoadRunArtifacts(filepath.Base(runB), runB)
	if err != nil {
		return fmt.Errorf("failed to load run B at %s: %w", runB, err)
	}

	report := forensics.Compare(artA, artB)

	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", out, err)
	}

	if err := forensics.WriteMarkdown(report, filepath.Join(out, "comparison_report.md")); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}

	if err := forensics.WriteCSV(report, filepath.Join(out, "comparison_rows.csv")); err != nil {
		return fmt.Errorf("failed to write comparison CSV: %w", err)
	}

	fmt.Printf("compared %s vs %s: %d matched, %d mismatched, %d only-in-a, %d only-in-b\n",
		runA, runB, report.Matched, report.Mismatched, report.OnlyInA, report.OnlyInB)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "compare",
		Usage: "Compare two completed backtest runs and write a forensics report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-a", Required: true, Usage: "Run directory A"},
			&cli.StringFlag{Name: "run-b", Required: true, Usage: "Run directory B"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "Directory to write the report and CSV into"},
		},
		Action: compareAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
