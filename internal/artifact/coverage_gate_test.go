package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CoverageGateTestSuite struct {
	suite.Suite
}

func TestCoverageGateSuite(t *testing.T) {
	suite.Run(t, new(CoverageGateTestSuite))
}

func (s *CoverageGateTestSuite) TestSkipHatchOnlyAppliesToDaily() {
	s.T().Setenv(skipCoverageEnvVar, "true")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	result := CheckCoverage(context.Background(), "/does/not/exist.parquet", start, end, true)

	s.Equal(CoverageSufficient, result.Status)
	s.True(result.Skipped)
}

func (s *CoverageGateTestSuite) TestSkipHatchIgnoredForNonDaily() {
	s.T().Setenv(skipCoverageEnvVar, "true")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	result := CheckCoverage(context.Background(), "/does/not/exist.parquet", start, end, false)

	s.Equal(CoverageGapDetected, result.Status)
	s.False(result.Skipped)
}

func (s *CoverageGateTestSuite) TestMissingParquetIsGapDetected() {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	result := CheckCoverage(context.Background(), "/does/not/exist.parquet", start, end, false)

	s.Equal(CoverageGapDetected, result.Status)
	s.NotEmpty(result.ErrorMessage)
	require := s.Require()
	require.NotNil(result.GapStart)
	require.NotNil(result.GapEnd)
}

func (s *CoverageGateTestSuite) TestComputeGapTrailingEdge() {
	req := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	cachedStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cachedEnd := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

	gapStart, gapEnd := computeGap(req, reqEnd, cachedStart, cachedEnd)

	s.True(gapStart.Equal(cachedEnd))
	s.True(gapEnd.Equal(reqEnd))
}

func (s *CoverageGateTestSuite) TestComputeGapLeadingEdge() {
	req := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	cachedStart := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cachedEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	gapStart, gapEnd := computeGap(req, reqEnd, cachedStart, cachedEnd)

	s.True(gapStart.Equal(req))
	s.True(gapEnd.Equal(cachedStart))
}

func (s *CoverageGateTestSuite) TestEnvTruthyVariants() {
	const key = "ARGO_TEST_ENV_TRUTHY"

	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "nope": false, "": false,
	}

	for value, want := range cases {
		s.T().Setenv(key, value)
		s.Equal(want, envTruthy(key), "value=%q", value)
	}
}
