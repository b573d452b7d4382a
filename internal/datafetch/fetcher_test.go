package datafetch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FetcherTestSuite struct {
	suite.Suite
	logger *logging.Logger
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherTestSuite))
}

func (s *FetcherTestSuite) SetupTest() {
	s.logger = logging.NewNopLogger()
}

func (s *FetcherTestSuite) TestProducerFilePathIntraday() {
	path := producerFilePath("/data/market", "aapl", TimeframeM5)
	s.Equal(filepath.Join("/data/market", "AAPL", "5min.parquet"), path)
}

func (s *FetcherTestSuite) TestProducerFilePathDaily() {
	path := producerFilePath("/data/market", "aapl", TimeframeD1)
	s.Equal(filepath.Join("/data/market", "AAPL", "D1.parquet"), path)
}

func (s *FetcherTestSuite) TestNormalizeToDayStartUTC() {
	t := time.Date(2026, 3, 5, 14, 32, 10, 0, time.UTC)
	got := normalizeToDayStartUTC(t)
	s.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), got)
}

func (s *FetcherTestSuite) TestFetchAndSnapshotD1MissingProducerFile() {
	runDir := s.T().TempDir()
	run, err := contracts.NewRunContext("run-1", "test", runDir)
	require.NoError(s.T(), err)

	dataRoot := s.T().TempDir()

	_, err = FetchAndSnapshot(context.Background(), run, s.logger, FetchParams{
		Symbol:         "AAPL",
		Timeframe:      TimeframeD1,
		RequestedEnd:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		LookbackDays:   5,
		WarmupDays:     1,
		MarketDataRoot: dataRoot,
		MarketTZ:       "America/New_York",
		SessionMode:    "rth",
	})

	require.Error(s.T(), err)

	var missing *runerrors.MissingHistoricalDataError
	s.True(runerrors.As(err, &missing))
	s.Equal("AAPL", missing.Symbol)
}

func (s *FetcherTestSuite) TestFetchAndSnapshotIntradayMissingProducerFile() {
	runDir := s.T().TempDir()
	run, err := contracts.NewRunContext("run-1", "test", runDir)
	require.NoError(s.T(), err)

	dataRoot := s.T().TempDir()

	_, err = FetchAndSnapshot(context.Background(), run, s.logger, FetchParams{
		Symbol:         "AAPL",
		Timeframe:      TimeframeM5,
		RequestedEnd:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		LookbackDays:   5,
		WarmupDays:     1,
		MarketDataRoot: dataRoot,
		MarketTZ:       "America/New_York",
		SessionMode:    "rth",
	})

	require.Error(s.T(), err)

	var missing *runerrors.MissingHistoricalDataError
	s.True(runerrors.As(err, &missing))
}
