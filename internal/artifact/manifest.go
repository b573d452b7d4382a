package artifact

import (
	"os"
	"sync"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	jsoniter "github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// ManifestIdentity is the "identity" section of run_manifest.json.
type ManifestIdentity struct {
	RunID        string `json:"run_id"`
	TimestampUTC string `json:"timestamp_utc"`
	CommitHash   string `json:"commit_hash,omitempty"`
	MarketTZ     string `json:"market_tz"`
}

// ManifestDataSpec is the "data" section of run_manifest.json.
type ManifestDataSpec struct {
	Symbol         string  `json:"symbol"`
	RequestedTF    string  `json:"requested_tf"`
	BaseTFUsed     string  `json:"base_tf_used"`
	LookbackDays   int     `json:"lookback_days"`
	RequestedEnd   string  `json:"requested_end_date"`
	EffectiveStart *string `json:"effective_start,omitempty"`
	EffectiveEnd   *string `json:"effective_end,omitempty"`
}

// ManifestGates is the "gates" section of run_manifest.json, filled in as
// each gate runs.
type ManifestGates struct {
	Coverage *CoverageCheckResult `json:"coverage,omitempty"`
	SLA      *SLAResult           `json:"sla,omitempty"`
}

// ManifestResult is the "result" section, filled in only at finalization.
type ManifestResult struct {
	RunStatus      contracts.RunStatus `json:"run_status,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	FailureDetails map[string]any      `json:"failure_details,omitempty"`
	ErrorID        string              `json:"error_id,omitempty"`
	ArtifactsIndex []string            `json:"artifacts_index"`
}

// Manifest is the full run_manifest.json document: identity, strategy
// version, exact params, data spec, gate results, and final outcome —
// written for every run outcome, reproducibility/audit source of truth.
// Grounded on src/backtest/services/manifest_writer.py.
type Manifest struct {
	Identity ManifestIdentity `json:"identity"`
	Strategy StrategyMeta     `json:"strategy"`
	Params   map[string]any   `json:"params"`
	Data     ManifestDataSpec `json:"data"`
	Gates    ManifestGates    `json:"gates"`
	Result   ManifestResult   `json:"result"`
}

// ManifestWriter incrementally builds and persists run_manifest.json.
// Failures writing the manifest are logged, never propagated: manifest
// writing must never crash run_result.json writing, matching the Python
// ManifestWriter's try/except-and-log-only behavior at every update point.
type ManifestWriter struct {
	mu       sync.Mutex
	path     string
	logger   *logging.Logger
	manifest Manifest
}

// NewManifestWriter constructs a writer rooted at run.RunDir. Nothing is
// written until WriteInitial.
func NewManifestWriter(run contracts.RunContext, logger *logging.Logger) *ManifestWriter {
	return &ManifestWriter{path: run.Path("run_manifest.json"), logger: logger}
}

// WriteInitial writes the manifest's identity/strategy/params/data sections
// immediately after run_meta.json, before gates or results exist.
func (w *ManifestWriter) WriteInitial(runID, commitHash string, strategy StrategyMeta, params map[string]any, data ManifestDataSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.manifest = Manifest{
		Identity: ManifestIdentity{
			RunID:        runID,
			TimestampUTC: time.Now().UTC().Format(time.RFC3339),
			CommitHash:   commitHash,
			MarketTZ:     "America/New_York",
		},
		Strategy: strategy,
		Params:   params,
		Data:     data,
		Result:   ManifestResult{ArtifactsIndex: []string{}},
	}

	w.persist("write initial manifest")
}

// UpdateCoverageGate records the coverage gate's result and persists.
func (w *ManifestWriter) UpdateCoverageGate(result CoverageCheckResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.manifest.Gates.Coverage = &result
	w.persist("update coverage gate in manifest")
}

// UpdateSLAGate records the SLA gate's result and persists.
func (w *ManifestWriter) UpdateSLAGate(result SLAResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.manifest.Gates.SLA = &result
	w.persist("update sla gate in manifest")
}

// UpdateEffectiveRange records the actual bars range used, once known.
func (w *ManifestWriter) UpdateEffectiveRange(start, end time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := start.UTC().Format(time.RFC3339)
	e := end.UTC().Format(time.RFC3339)
	w.manifest.Data.EffectiveStart = &s
	w.manifest.Data.EffectiveEnd = &e
	w.persist("update effective range in manifest")
}

// Finalize writes the manifest's final result section. Called alongside
// run_result.json at the very end of a run, for every outcome.
func (w *ManifestWriter) Finalize(result RunResultDoc, artifactsProduced []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if artifactsProduced == nil {
		artifactsProduced = []string{}
	}

	w.manifest.Result = ManifestResult{
		RunStatus:      result.Status,
		FailureReason:  string(result.Reason),
		FailureDetails: result.Details,
		ErrorID:        result.ErrorID,
		ArtifactsIndex: artifactsProduced,
	}

	w.persist("finalize manifest")
}

// persist must be called with mu held. It writes the full manifest with its
// keys in the fixed struct-declaration order (stable across runs, so diffs
// stay small), and logs (never propagates) any failure.
func (w *ManifestWriter) persist(action string) {
	b, err := jsoniter.MarshalIndent(sortedManifest(w.manifest), "", "  ")
	if err != nil {
		w.logFailure(action, err)
		return
	}

	if err := os.WriteFile(w.path, b, 0o644); err != nil {
		w.logFailure(action, err)
	}
}

func (w *ManifestWriter) logFailure(action string, err error) {
	if w.logger == nil {
		return
	}

	w.logger.Error("manifest write failed", zap.String("action", action), zap.Error(err))
}

// sortedManifest is the manifest as-is; Go's struct-tag-driven JSON encoding
// already emits a fixed field order per type, so no separate key-sorting
// pass is needed to get the Python writer's diff-friendly guarantee.
func sortedManifest(m Manifest) Manifest {
	return m
}
