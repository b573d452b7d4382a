package execution

import (
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TradesTestSuite struct {
	suite.Suite
}

func TestTradesSuite(t *testing.T) {
	suite.Run(t, new(TradesTestSuite))
}

func (s *TradesTestSuite) fixedSizer() *PositionSizer {
	sizer, err := NewPositionSizer(SizingConfig{Mode: SizingModeFixed, FixedQty: decimal.NewFromInt(10)})
	require.NoError(s.T(), err)

	return sizer
}

func (s *TradesTestSuite) TestPairsEntryAndExitByOCOGroup() {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	intents := []contracts.Intent{
		{TemplateID: "entry", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideBuy, StopPrice: 95},
		{TemplateID: "exit", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideBuy},
	}
	fills := []contracts.Fill{
		{TemplateID: "entry", FillTS: t0, FillPrice: 100, Reason: contracts.FillReasonSignal},
		{TemplateID: "exit", FillTS: t1, FillPrice: 110, Reason: contracts.FillReasonTakeProfit},
	}

	trades, err := BuildTrades(intents, fills, s.fixedSizer())
	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)

	tr := trades[0]
	s.Equal("AAPL", tr.Symbol)
	s.Equal(10.0, tr.Qty)
	s.Equal(100.0, tr.PnL)
	s.Equal(contracts.FillReasonTakeProfit, tr.Reason)
}

func (s *TradesTestSuite) TestUnmatchedEntryIsExcluded() {
	intents := []contracts.Intent{
		{TemplateID: "entry", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideBuy},
	}

	trades, err := BuildTrades(intents, nil, s.fixedSizer())
	require.NoError(s.T(), err)
	s.Empty(trades)
}

func (s *TradesTestSuite) TestOpenPositionWithNoExitIsExcluded() {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	intents := []contracts.Intent{
		{TemplateID: "entry", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideBuy},
	}
	fills := []contracts.Fill{
		{TemplateID: "entry", FillTS: t0, FillPrice: 100, Reason: contracts.FillReasonSignal},
	}

	trades, err := BuildTrades(intents, fills, s.fixedSizer())
	require.NoError(s.T(), err)
	s.Empty(trades)
}

func (s *TradesTestSuite) TestShortSidePnLIsInverted() {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	intents := []contracts.Intent{
		{TemplateID: "entry", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideSell, StopPrice: 105},
		{TemplateID: "exit", OCOGroupID: "grp1", Symbol: "AAPL", Side: contracts.IntentSideSell},
	}
	fills := []contracts.Fill{
		{TemplateID: "entry", FillTS: t0, FillPrice: 100, Reason: contracts.FillReasonSignal},
		{TemplateID: "exit", FillTS: t1, FillPrice: 90, Reason: contracts.FillReasonStopHit},
	}

	trades, err := BuildTrades(intents, fills, s.fixedSizer())
	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 1)
	s.Equal(100.0, trades[0].PnL)
}

func (s *TradesTestSuite) TestTradesAreSortedByEntryTS() {
	tEarly := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	tLate := tEarly.Add(time.Hour)

	intents := []contracts.Intent{
		{TemplateID: "b_entry", OCOGroupID: "grpB", Symbol: "AAPL", Side: contracts.IntentSideBuy},
		{TemplateID: "b_exit", OCOGroupID: "grpB", Symbol: "AAPL", Side: contracts.IntentSideBuy},
		{TemplateID: "a_entry", OCOGroupID: "grpA", Symbol: "AAPL", Side: contracts.IntentSideBuy},
		{TemplateID: "a_exit", OCOGroupID: "grpA", Symbol: "AAPL", Side: contracts.IntentSideBuy},
	}
	fills := []contracts.Fill{
		{TemplateID: "b_entry", FillTS: tLate, FillPrice: 100},
		{TemplateID: "b_exit", FillTS: tLate.Add(time.Hour), FillPrice: 101},
		{TemplateID: "a_entry", FillTS: tEarly, FillPrice: 100},
		{TemplateID: "a_exit", FillTS: tEarly.Add(time.Hour), FillPrice: 101},
	}

	trades, err := BuildTrades(intents, fills, s.fixedSizer())
	require.NoError(s.T(), err)
	require.Len(s.T(), trades, 2)
	s.True(trades[0].EntryTS.Before(trades[1].EntryTS))
}
