// Package batch fans out independent runs concurrently, supplementing
// spec §5's remark about a future entry point that processes many symbols.
// Grounded on original_source/run_rk_strategy.py's loop over multiple
// symbol/date combinations, reshaped into a bounded worker pool matching
// the teacher's avoidance of extra concurrency frameworks: plain
// sync.WaitGroup plus a buffered channel, no golang.org/x/sync.
package batch

import (
	"context"
	"sync"

	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/internal/pipeline"
	"github.com/quantforge/backtest-core/internal/strategy"
)

// RunSpec holds one run's parameters.
type RunSpec struct {
	Params pipeline.Params
}

// RunOutcome pairs a RunSpec's outcome with its originating RunID, for
// correlating RunMany's output back to its input.
type RunOutcome struct {
	pipeline.Outcome
}

// defaultMaxConcurrency bounds the number of runs executing at once when
// maxConcurrency <= 0 is passed to RunMany.
const defaultMaxConcurrency = 4

// RunMany executes every spec, at most maxConcurrency at a time, and
// returns outcomes in the same order as specs. Each run is fully
// independent: a failing run never cancels the others (ctx cancellation
// is the only way to stop the batch early).
func RunMany(ctx context.Context, logger *logging.Logger, registry *strategy.Registry, specs []RunSpec, maxConcurrency int) []RunOutcome {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	results := make([]RunOutcome, len(specs))
	sem := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup

	for i, spec := range specs {
		wg.Add(1)

		go func(i int, spec RunSpec) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				results[i] = RunOutcome{pipeline.Outcome{
					RunID: spec.Params.RunID,
					Err:   ctx.Err(),
				}}

				return
			default:
			}

			results[i] = RunOutcome{pipeline.Execute(ctx, logger, registry, spec.Params)}
		}(i, spec)
	}

	wg.Wait()

	return results
}
