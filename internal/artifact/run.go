// Package artifact owns the run directory lifecycle: creating it, writing
// run_meta.json at start and run_result.json at end (always, even on
// error), and error_stacktrace.txt on ERROR only. Grounded on
// src/backtest/services/artifacts_manager.py's ArtifactsManager.
package artifact

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	jsoniter "github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// RunMeta is the run_meta.json payload, written once at the start of a run
// before any strategy execution happens.
type RunMeta struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	Strategy   StrategyMeta   `json:"strategy"`
	Params     map[string]any `json:"params"`
	Data       RunMetaData    `json:"data"`
	CommitHash string         `json:"commit_hash,omitempty"`
	MarketTZ   string         `json:"market_tz"`
}

// StrategyMeta identifies which strategy implementation/profile ran.
type StrategyMeta struct {
	Key            string `json:"key"`
	ImplVersion    string `json:"impl_version"`
	ProfileVersion string `json:"profile_version"`
}

// RunMetaData describes the requested data window.
type RunMetaData struct {
	Symbol        string `json:"symbol"`
	Timeframe     string `json:"timeframe"`
	RequestedEnd  string `json:"requested_end"`
	LookbackDays  int    `json:"lookback_days"`
}

// RunResultDoc is the run_result.json payload, written exactly once at the
// end of every run regardless of outcome.
type RunResultDoc struct {
	RunID      string               `json:"run_id"`
	FinishedAt time.Time            `json:"finished_at"`
	Status     contracts.RunStatus  `json:"status"`
	Reason     runerrors.GateReason `json:"reason,omitempty"`
	Details    map[string]any       `json:"details,omitempty"`
	ErrorID    string               `json:"error_id,omitempty"`
}

// CreateRunDir creates run.RunDir exactly once. A pre-existing directory is
// an error: run IDs must be unique.
func CreateRunDir(run contracts.RunContext) error {
	if _, err := os.Stat(run.RunDir); err == nil {
		return runerrors.Newf(runerrors.ErrCodeRunDirExists, "run directory already exists: %s", run.RunDir)
	}

	if err := os.MkdirAll(run.RunDir, 0o755); err != nil {
		return runerrors.Wrap(runerrors.ErrCodeRunDirCreateFailed, "failed to create run directory", err)
	}

	return nil
}

// WriteRunMeta writes run_meta.json. Must be called after CreateRunDir and
// before strategy execution begins.
func WriteRunMeta(run contracts.RunContext, meta RunMeta) error {
	return writeJSON(run.Path("run_meta.json"), meta)
}

// WriteRunResult writes run_result.json. Callers invoke this from a defer
// so it happens exactly once no matter how the run terminates.
func WriteRunResult(run contracts.RunContext, logger *logging.Logger, result RunResultDoc) error {
	if err := writeJSON(run.Path("run_result.json"), result); err != nil {
		return runerrors.Wrap(runerrors.ErrCodeResultWriteFailed, "failed to write run_result.json", err)
	}

	if logger != nil {
		logger.Info("wrote run_result.json", zap.String("run_id", result.RunID), zap.String("status", string(result.Status)))
	}

	return nil
}

// WriteErrorStacktrace writes error_stacktrace.txt, called only when the run
// terminates with RunStatusError. recovered is the value recovered from a
// panic, or the error that drove the ERROR outcome.
func WriteErrorStacktrace(run contracts.RunContext, errorID string, recovered any) error {
	path := run.Path("error_stacktrace.txt")

	content := "Error ID: " + errorID + "\n"
	content += "Error: "

	if err, ok := recovered.(error); ok {
		content += err.Error()
	} else {
		content += zapAnyString(recovered)
	}

	content += "\n\nStacktrace:\n" + string(debug.Stack())

	return os.WriteFile(path, []byte(content), 0o644)
}

func zapAnyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	b, _ := jsoniter.Marshal(v)

	return string(b)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := jsoniter.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, b, 0o644)
}
