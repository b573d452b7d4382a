package contracts

import (
	"path/filepath"

	"github.com/quantforge/backtest-core/pkg/runerrors"
)

// RunContext is the single source of truth for every filesystem path a run
// touches. Once created, no code may reconstruct paths from RunID alone —
// every path derives from RunDir.
type RunContext struct {
	RunID   string
	RunName string
	RunDir  string
}

// NewRunContext validates that runDir is absolute and builds the context.
// It does not create the directory; callers create it exactly once via
// artifact.CreateRunDir before any other work happens.
func NewRunContext(runID, runName, runDir string) (RunContext, error) {
	if !filepath.IsAbs(runDir) {
		return RunContext{}, runerrors.Newf(runerrors.ErrCodeConfigNotAbsolute, "run_dir must be absolute, got %q", runDir)
	}

	return RunContext{RunID: runID, RunName: runName, RunDir: runDir}, nil
}

// Path joins the run directory with the given relative path segments.
func (r RunContext) Path(elem ...string) string {
	return filepath.Join(append([]string{r.RunDir}, elem...)...)
}

// RunStatus is the sum type describing how a run terminated.
type RunStatus string

const (
	RunStatusSuccess             RunStatus = "SUCCESS"
	RunStatusFailedPrecondition  RunStatus = "FAILED_PRECONDITION"
	RunStatusError               RunStatus = "ERROR"
)

// RunResult is the terminal, always-written outcome of a run.
type RunResult struct {
	RunID   string                     `json:"run_id"`
	Status  RunStatus                  `json:"status"`
	Reason  runerrors.GateReason       `json:"reason,omitempty"`
	ErrorID string                     `json:"error_id,omitempty"`
	Details map[string]any             `json:"details,omitempty"`
}
