package execution

import (
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EquityTestSuite struct {
	suite.Suite
}

func TestEquitySuite(t *testing.T) {
	suite.Run(t, new(EquityTestSuite))
}

func (s *EquityTestSuite) TestEmptyTradesYieldsEmptyCurve() {
	curve := BuildEquityCurve(10000, nil)
	s.Empty(curve)
}

func (s *EquityTestSuite) TestRunningEquityAndDrawdown() {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	trades := []contracts.Trade{
		{ExitTS: t0, PnL: 500},
		{ExitTS: t0.Add(time.Hour), PnL: -200},
		{ExitTS: t0.Add(2 * time.Hour), PnL: -400},
	}

	curve := BuildEquityCurve(10000, trades)
	require.Len(s.T(), curve, 3)

	s.Equal(10500.0, curve[0].Equity)
	s.Equal(0.0, curve[0].DrawdownPct)

	s.Equal(10300.0, curve[1].Equity)
	s.InDelta(-0.019, curve[1].DrawdownPct, 0.001)

	s.Equal(9900.0, curve[2].Equity)
	s.InDelta(-0.0571, curve[2].DrawdownPct, 0.001)
}
