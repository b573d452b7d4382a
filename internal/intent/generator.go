// Package intent projects a validated SignalFrame into the canonical,
// content-hashed stream of order intents, grounded on
// src/axiom_bt/pipeline/signals.py and
// src/strategies/inside_bar/intent_generation.py's generate_intent.
package intent

import (
	"strings"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// OrderValidityPolicy controls how an intent's order_valid_to_ts is set.
type OrderValidityPolicy string

const (
	OrderValidityNone         OrderValidityPolicy = ""
	OrderValiditySessionEnd   OrderValidityPolicy = "session_end"
	OrderValidityFixedMinutes OrderValidityPolicy = "fixed_minutes"
	OrderValidityOneBar       OrderValidityPolicy = "one_bar"
)

// ValidFromPolicy controls how an intent's order_valid_from_ts is set.
type ValidFromPolicy string

const (
	ValidFromNone    ValidFromPolicy = ""
	ValidFromSignal  ValidFromPolicy = "signal_ts"
	ValidFromNextBar ValidFromPolicy = "next_bar"
)

// SessionWindow is one session boundary in SessionTimezone, expressed as
// "HH:MM" wall-clock times.
type SessionWindow struct {
	Start string
	End   string
}

// GenerateParams configures one GenerateIntents call.
type GenerateParams struct {
	OrderValidityPolicy OrderValidityPolicy
	ValidFromPolicy     ValidFromPolicy
	SessionTimezone     string
	SessionFilter       []SessionWindow
	TimeframeMinutes    int
	FixedValidMinutes   int
	Symbol              string
	StrategyID          string
	StrategyVersion     string
}

// GenerateIntents selects rows with a set signal_side, derives one Intent
// per row, applies the configured validity-window policies, and carries
// forward sig_/dbg_ context columns. It does not sort or hash; call
// contracts.CanonicalizeIntents on the result for that.
func GenerateIntents(frame contracts.SignalFrame, params GenerateParams) ([]contracts.Intent, error) {
	intents := make([]contracts.Intent, 0, len(frame.Rows))

	for _, row := range frame.Rows {
		if row.SignalSide.IsNone() {
			continue
		}

		if row.TemplateID.IsNone() {
			return nil, runerrors.New(runerrors.ErrCodeMissingOCOGroup, "missing oco_group_id: signal row has no template_id to derive it from")
		}

		templateID := row.TemplateID.Unwrap()

		side, err := intentSideOf(row.SignalSide.Unwrap())
		if err != nil {
			return nil, err
		}

		in := contracts.Intent{
			TemplateID:      templateID,
			SignalTS:        row.Timestamp,
			Symbol:          params.Symbol,
			Side:            side,
			OCOGroupID:      templateID,
			EntryPrice:      floatOf(row.EntryPrice),
			StopPrice:       floatOf(row.StopPrice),
			TakeProfitPrice: floatOf(row.TakeProfitPrice),
			ExitTS:          row.ExitTS,
			ExitReason:      row.ExitReason,
			StrategyID:      params.StrategyID,
			StrategyVersion: params.StrategyVersion,
			SigContext:      filterPrefix(row.SigContext, "sig_"),
			DbgContext:      filterPrefix(row.DbgContext, "dbg_"),
		}

		if err := applyValidityWindows(&in, row, params); err != nil {
			return nil, err
		}

		intents = append(intents, in)
	}

	return intents, nil
}

func intentSideOf(side contracts.SignalSide) (contracts.IntentSide, error) {
	switch side {
	case contracts.SignalSideLong:
		return contracts.IntentSideBuy, nil
	case contracts.SignalSideShort:
		return contracts.IntentSideSell, nil
	default:
		return "", runerrors.Newf(runerrors.ErrCodeIntentCanonicalizeFailed, "unknown signal side %q", side)
	}
}

func floatOf(o optional.Option[decimal.Decimal]) float64 {
	if o.IsNone() {
		return 0
	}

	f, _ := o.Unwrap().Float64()

	return f
}

func applyValidityWindows(in *contracts.Intent, row contracts.SignalRow, params GenerateParams) error {
	switch params.ValidFromPolicy {
	case ValidFromSignal:
		in.OrderValidFrom = optional.Some(row.Timestamp)
	case ValidFromNextBar:
		if params.TimeframeMinutes <= 0 {
			return runerrors.New(runerrors.ErrCodeIntentCanonicalizeFailed, "valid_from_policy=next_bar requires timeframe_minutes")
		}

		in.OrderValidFrom = optional.Some(row.Timestamp.Add(time.Duration(params.TimeframeMinutes) * time.Minute))
	}

	switch params.OrderValidityPolicy {
	case OrderValiditySessionEnd:
		if params.SessionTimezone == "" || len(params.SessionFilter) == 0 {
			return runerrors.New(runerrors.ErrCodeIntentCanonicalizeFailed, "order_validity_policy=session_end requires session_timezone and session_filter")
		}

		end, err := sessionWindowEnd(row.Timestamp, params.SessionFilter, params.SessionTimezone)
		if err != nil {
			return err
		}

		in.OrderValidTo = optional.Some(end)
	case OrderValidityFixedMinutes:
		if params.FixedValidMinutes <= 0 {
			return runerrors.New(runerrors.ErrCodeIntentCanonicalizeFailed, "order_validity_policy=fixed_minutes requires a positive duration")
		}

		in.OrderValidTo = optional.Some(row.Timestamp.Add(time.Duration(params.FixedValidMinutes) * time.Minute))
	case OrderValidityOneBar:
		if params.TimeframeMinutes <= 0 {
			return runerrors.New(runerrors.ErrCodeIntentCanonicalizeFailed, "order_validity_policy=one_bar requires timeframe_minutes")
		}

		in.OrderValidTo = optional.Some(row.Timestamp.Add(time.Duration(params.TimeframeMinutes) * time.Minute))
	}

	return nil
}

// sessionWindowEnd finds the first session filter window whose end-of-day
// in loc is >= ts, and returns that end instant converted to UTC.
func sessionWindowEnd(ts time.Time, windows []SessionWindow, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, runerrors.Wrapf(runerrors.ErrCodeIntentCanonicalizeFailed, err, "unknown session_timezone %q", tz)
	}

	local := ts.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for _, w := range windows {
		end, err := parseWallClock(day, w.End)
		if err != nil {
			return time.Time{}, err
		}

		if !end.Before(local) {
			return end.UTC(), nil
		}
	}

	// No window ends today at or after ts; fall back to the last window's
	// end on the next calendar day.
	if len(windows) == 0 {
		return time.Time{}, runerrors.New(runerrors.ErrCodeIntentCanonicalizeFailed, "empty session_filter")
	}

	last := windows[len(windows)-1]
	end, err := parseWallClock(day.AddDate(0, 0, 1), last.End)
	if err != nil {
		return time.Time{}, err
	}

	return end.UTC(), nil
}

func parseWallClock(day time.Time, hhmm string) (time.Time, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, runerrors.Newf(runerrors.ErrCodeIntentCanonicalizeFailed, "malformed session window time %q", hhmm)
	}

	t, err := time.ParseInLocation("15:04", hhmm, day.Location())
	if err != nil {
		return time.Time{}, runerrors.Wrapf(runerrors.ErrCodeIntentCanonicalizeFailed, err, "malformed session window time %q", hhmm)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func filterPrefix(m map[string]string, prefix string) map[string]string {
	if len(m) == 0 {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}

	return out
}
