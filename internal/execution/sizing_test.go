package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SizingTestSuite struct {
	suite.Suite
}

func TestSizingSuite(t *testing.T) {
	suite.Run(t, new(SizingTestSuite))
}

func (s *SizingTestSuite) TestFixedModeRequiresQty() {
	_, err := NewPositionSizer(SizingConfig{Mode: SizingModeFixed})
	s.Error(err)
}

func (s *SizingTestSuite) TestFixedModeReturnsTickRoundedQty() {
	sizer, err := NewPositionSizer(SizingConfig{Mode: SizingModeFixed, FixedQty: decimal.NewFromFloat(10.7)})
	require.NoError(s.T(), err)

	qty, err := sizer.Calculate(decimal.NewFromInt(100), decimal.Zero)
	require.NoError(s.T(), err)
	s.True(decimal.NewFromInt(10).Equal(qty))
}

func (s *SizingTestSuite) TestPctEquityMode() {
	sizer, err := NewPositionSizer(SizingConfig{
		Mode:   SizingModePctEquity,
		Equity: decimal.NewFromInt(10000),
		PosPct: decimal.NewFromInt(10),
	})
	require.NoError(s.T(), err)

	qty, err := sizer.Calculate(decimal.NewFromInt(50), decimal.Zero)
	require.NoError(s.T(), err)
	// notional = 1000, qty = floor(1000/50) = 20
	s.True(decimal.NewFromInt(20).Equal(qty))
}

func (s *SizingTestSuite) TestRiskBasedModeRespectsMaxPosPct() {
	sizer, err := NewPositionSizer(SizingConfig{
		Mode:      SizingModeRiskBased,
		Equity:    decimal.NewFromInt(10000),
		RiskPct:   decimal.NewFromInt(50),
		MaxPosPct: decimal.NewFromInt(20),
	})
	require.NoError(s.T(), err)

	// risk_amount = 5000, stop_distance = 1, qty = 5000 uncapped
	// max_notional = 2000, max_qty = floor(2000/100) = 20
	qty, err := sizer.Calculate(decimal.NewFromInt(100), decimal.NewFromInt(99))
	require.NoError(s.T(), err)
	s.True(decimal.NewFromInt(20).Equal(qty))
}

func (s *SizingTestSuite) TestRiskBasedModeRequiresStopPrice() {
	sizer, err := NewPositionSizer(SizingConfig{
		Mode:      SizingModeRiskBased,
		Equity:    decimal.NewFromInt(10000),
		RiskPct:   decimal.NewFromInt(1),
		MaxPosPct: decimal.NewFromInt(20),
	})
	require.NoError(s.T(), err)

	_, err = sizer.Calculate(decimal.NewFromInt(100), decimal.Zero)
	s.Error(err)
}

func (s *SizingTestSuite) TestRiskBasedZeroStopDistanceFallsBackToMinQty() {
	sizer, err := NewPositionSizer(SizingConfig{
		Mode:      SizingModeRiskBased,
		Equity:    decimal.NewFromInt(10000),
		RiskPct:   decimal.NewFromInt(1),
		MaxPosPct: decimal.NewFromInt(20),
		MinQty:    decimal.NewFromInt(3),
	})
	require.NoError(s.T(), err)

	qty, err := sizer.Calculate(decimal.NewFromInt(100), decimal.NewFromInt(100))
	require.NoError(s.T(), err)
	s.True(decimal.NewFromInt(3).Equal(qty))
}

func (s *SizingTestSuite) TestTickSizeRounding() {
	sizer, err := NewPositionSizer(SizingConfig{
		Mode:     SizingModeFixed,
		FixedQty: decimal.NewFromInt(27),
		TickSize: decimal.NewFromInt(10),
	})
	require.NoError(s.T(), err)

	qty, err := sizer.Calculate(decimal.NewFromInt(1), decimal.Zero)
	require.NoError(s.T(), err)
	s.True(decimal.NewFromInt(20).Equal(qty))
}
