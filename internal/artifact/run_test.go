package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RunArtifactTestSuite struct {
	suite.Suite
	tmpDir string
}

func TestRunArtifactSuite(t *testing.T) {
	suite.Run(t, new(RunArtifactTestSuite))
}

func (s *RunArtifactTestSuite) SetupTest() {
	s.tmpDir = s.T().TempDir()
}

func (s *RunArtifactTestSuite) newRun(name string) contracts.RunContext {
	run, err := contracts.NewRunContext("run-1", name, filepath.Join(s.tmpDir, name))
	require.NoError(s.T(), err)

	return run
}

func (s *RunArtifactTestSuite) TestCreateRunDirSucceedsOnce() {
	run := s.newRun("first")

	require.NoError(s.T(), CreateRunDir(run))

	info, err := os.Stat(run.RunDir)
	require.NoError(s.T(), err)
	s.True(info.IsDir())
}

func (s *RunArtifactTestSuite) TestCreateRunDirFailsWhenAlreadyExists() {
	run := s.newRun("dupe")

	require.NoError(s.T(), CreateRunDir(run))
	err := CreateRunDir(run)
	s.Error(err)
}

func (s *RunArtifactTestSuite) TestWriteRunMetaProducesReadableJSON() {
	run := s.newRun("meta")
	require.NoError(s.T(), CreateRunDir(run))

	meta := RunMeta{
		RunID:     run.RunID,
		StartedAt: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC),
		Strategy:  StrategyMeta{Key: "inside_bar", ImplVersion: "1.0.0", ProfileVersion: "1"},
		Params:    map[string]any{"symbol": "AAPL"},
		Data:      RunMetaData{Symbol: "AAPL", Timeframe: "M5", RequestedEnd: "2026-01-02", LookbackDays: 30},
		MarketTZ:  "America/New_York",
	}

	require.NoError(s.T(), WriteRunMeta(run, meta))

	b, err := os.ReadFile(run.Path("run_meta.json"))
	require.NoError(s.T(), err)
	s.Contains(string(b), "inside_bar")
	s.Contains(string(b), "AAPL")
}

func (s *RunArtifactTestSuite) TestWriteRunResultIsIdempotentlyCallable() {
	run := s.newRun("result")
	require.NoError(s.T(), CreateRunDir(run))

	result := RunResultDoc{
		RunID:      run.RunID,
		FinishedAt: time.Date(2026, 1, 2, 16, 0, 0, 0, time.UTC),
		Status:     contracts.RunStatusSuccess,
	}

	require.NoError(s.T(), WriteRunResult(run, logging.NewNopLogger(), result))

	b, err := os.ReadFile(run.Path("run_result.json"))
	require.NoError(s.T(), err)
	s.Contains(string(b), "SUCCESS")
}

func (s *RunArtifactTestSuite) TestWriteErrorStacktraceContainsErrorID() {
	run := s.newRun("error")
	require.NoError(s.T(), CreateRunDir(run))

	require.NoError(s.T(), WriteErrorStacktrace(run, "err-123", assertionError{}))

	b, err := os.ReadFile(run.Path("error_stacktrace.txt"))
	require.NoError(s.T(), err)
	s.Contains(string(b), "err-123")
	s.Contains(string(b), "Stacktrace:")
}

type assertionError struct{}

func (assertionError) Error() string { return "boom" }
