package fill

import (
	"testing"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ModelTestSuite struct {
	suite.Suite
}

func TestModelSuite(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func barAt(ts time.Time, close float64) contracts.OHLCV {
	return contracts.OHLCV{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(close),
		Low:       decimal.NewFromFloat(close),
		Close:     decimal.NewFromFloat(close),
		Volume:    1000,
	}
}

func (s *ModelTestSuite) TestEmptyIntentsReturnsEmptyFills() {
	fills, err := GenerateFills(nil, []contracts.OHLCV{barAt(time.Now(), 100)}, nil)
	require.NoError(s.T(), err)
	s.Empty(fills)
}

func (s *ModelTestSuite) TestEmptyBarsWithIntentsIsFatal() {
	intents := []contracts.Intent{{TemplateID: "t1", SignalTS: time.Now()}}
	_, err := GenerateFills(intents, nil, nil)
	s.Error(err)

	var re *runerrors.Error
	s.True(runerrors.As(err, &re))
	s.Equal(runerrors.ErrCodeEmptyBarsForFill, re.Code)
}

func (s *ModelTestSuite) TestExactMatchFillsAtClose() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := []contracts.OHLCV{barAt(ts, 101.5)}
	intents := []contracts.Intent{{TemplateID: "t1", Symbol: "AAPL", SignalTS: ts}}

	fills, err := GenerateFills(intents, bars, nil)
	require.NoError(s.T(), err)
	require.Len(s.T(), fills, 1)
	s.Equal(101.5, fills[0].FillPrice)
	s.Equal(contracts.FillReasonSignal, fills[0].Reason)
	s.True(fills[0].FillTS.Equal(ts))
}

func (s *ModelTestSuite) TestNoExactMatchIsSilentlyDropped() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := []contracts.OHLCV{barAt(ts, 101.5)}
	intents := []contracts.Intent{
		{TemplateID: "t1", Symbol: "AAPL", SignalTS: ts.Add(time.Minute)},
	}

	fills, err := GenerateFills(intents, bars, nil)
	require.NoError(s.T(), err)
	s.Empty(fills)
}

func (s *ModelTestSuite) TestPreservesIntentOrder() {
	ts1 := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	ts2 := ts1.Add(time.Minute)
	bars := []contracts.OHLCV{barAt(ts1, 100), barAt(ts2, 102)}
	intents := []contracts.Intent{
		{TemplateID: "t2", Symbol: "AAPL", SignalTS: ts2},
		{TemplateID: "t1", Symbol: "AAPL", SignalTS: ts1},
	}

	fills, err := GenerateFills(intents, bars, nil)
	require.NoError(s.T(), err)
	require.Len(s.T(), fills, 2)
	s.Equal("t2", fills[0].TemplateID)
	s.Equal("t1", fills[1].TemplateID)
}

func (s *ModelTestSuite) TestCanonicalizeFillsIsDeterministic() {
	ts := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := []contracts.OHLCV{barAt(ts, 101.5)}
	intents := []contracts.Intent{{TemplateID: "t1", Symbol: "AAPL", SignalTS: ts}}

	fills, err := GenerateFills(intents, bars, nil)
	require.NoError(s.T(), err)

	_, hash1, err := contracts.CanonicalizeFills(fills)
	require.NoError(s.T(), err)
	_, hash2, err := contracts.CanonicalizeFills(fills)
	require.NoError(s.T(), err)
	s.Equal(hash1, hash2)
}
