// Package fill implements the deterministic fill model: matching order
// intents against bars to produce fills. Grounded on
// src/axiom_bt/pipeline/fill_model.py's generate_fills.
package fill

import (
	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
)

// MatchStrategy picks a fill for one intent against the bar series, or
// reports no match. Matchers are independent of the baseline exact-match
// rule so stop/take-profit/session-end matching can be added later without
// touching it.
type MatchStrategy interface {
	Match(in contracts.Intent, bars []contracts.OHLCV, byTS map[int64]int) (contracts.Fill, bool)
}

// ExactTimestampMatch is the baseline matcher: an intent fills only against
// the bar whose timestamp equals its signal_ts, at that bar's close, with
// reason signal_fill. Intents with no exact timestamp match are silently
// dropped, matching the original's deterministic-rejection behavior.
type ExactTimestampMatch struct{}

func (ExactTimestampMatch) Match(in contracts.Intent, bars []contracts.OHLCV, byTS map[int64]int) (contracts.Fill, bool) {
	idx, ok := byTS[in.SignalTS.UTC().Unix()]
	if !ok {
		return contracts.Fill{}, false
	}

	bar := bars[idx]
	price, _ := bar.Close.Float64()

	return contracts.Fill{
		TemplateID: in.TemplateID,
		Symbol:     in.Symbol,
		FillTS:     bar.Timestamp,
		FillPrice:  price,
		Reason:     contracts.FillReasonSignal,
	}, true
}

// GenerateFills matches each intent in order against bars using matcher
// (defaulting to ExactTimestampMatch when nil), preserving intent order in
// the returned fills so CanonicalizeFills's ordering contract holds.
func GenerateFills(intents []contracts.Intent, bars []contracts.OHLCV, matcher MatchStrategy) ([]contracts.Fill, error) {
	if len(intents) == 0 {
		return []contracts.Fill{}, nil
	}

	if len(bars) == 0 {
		return nil, runerrors.New(runerrors.ErrCodeEmptyBarsForFill, "bars empty; cannot generate fills")
	}

	if matcher == nil {
		matcher = ExactTimestampMatch{}
	}

	byTS := make(map[int64]int, len(bars))
	for i, b := range bars {
		byTS[b.Timestamp.UTC().Unix()] = i
	}

	fills := make([]contracts.Fill, 0, len(intents))

	for _, in := range intents {
		f, ok := matcher.Match(in, bars, byTS)
		if !ok {
			continue
		}

		fills = append(fills, f)
	}

	return fills, nil
}
