package artifact

import (
	"os"
	"sync"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	jsoniter "github.com/segmentio/encoding/json"
)

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepStatusStarted   StepStatus = "started"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepRecord is one line of run_steps.jsonl.
type StepRecord struct {
	StepIndex int            `json:"step_index"`
	StepName  string         `json:"step_name"`
	Status    StepStatus     `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// StepTracker appends one JSON object per line to run_steps.jsonl, an
// append-only audit trail of pipeline progress independent of the final
// run_result.json outcome.
type StepTracker struct {
	mu    sync.Mutex
	path  string
	index int
}

// NewStepTracker returns a tracker for run_steps.jsonl under run.RunDir. It
// does not touch the file; Record creates it or appends to it.
func NewStepTracker(run contracts.RunContext) *StepTracker {
	return &StepTracker{path: run.Path("run_steps.jsonl")}
}

// Record appends one step record with the next sequential step_index.
func (t *StepTracker) Record(name string, status StepStatus, details map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.index++

	rec := StepRecord{
		StepIndex: t.index,
		StepName:  name,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}

	b, err := jsoniter.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(b, '\n'))

	return err
}
