package execution

import (
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LedgerTestSuite struct {
	suite.Suite
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) TestSequenceIsMonotonicAndCashAccumulates() {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	trades := []contracts.Trade{
		{ExitTS: t0, PnL: 100},
		{ExitTS: t0.Add(time.Hour), PnL: -50},
	}

	ledger := BuildLedger(1000, trades)
	require.Len(s.T(), ledger, 2)

	s.Equal(1, ledger[0].Seq)
	s.Equal(1100.0, ledger[0].Cash)
	s.Equal(2, ledger[1].Seq)
	s.Equal(1050.0, ledger[1].Cash)
}
