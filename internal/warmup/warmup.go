// Package warmup converts an indicator's warmup in bars to warmup in
// calendar days, session-aware, per spec §4.2.
package warmup

import (
	"math"

	"github.com/quantforge/backtest-core/pkg/runerrors"
)

// SessionMode selects the minutes-per-session constant used to convert
// bars to days.
type SessionMode string

const (
	SessionRTH SessionMode = "rth"
	SessionRaw SessionMode = "raw"
)

const (
	minutesPerSessionRTH = 390
	minutesPerSessionRaw = 1440
)

// CalculateWarmupDays returns ceil(requiredWarmupBars / bars_per_day) where
// bars_per_day = max(1, floor(minutes_per_session / timeframeMinutes)).
func CalculateWarmupDays(requiredWarmupBars int, timeframeMinutes int, mode SessionMode) (int, error) {
	if timeframeMinutes <= 0 {
		return 0, runerrors.Newf(runerrors.ErrCodeUnsupportedTimeframe, "timeframe_minutes must be > 0, got %d", timeframeMinutes)
	}

	if requiredWarmupBars < 0 {
		return 0, runerrors.Newf(runerrors.ErrCodeConfigMalformed, "required_warmup_bars must be >= 0, got %d", requiredWarmupBars)
	}

	var minutesPerSession int

	switch mode {
	case SessionRTH:
		minutesPerSession = minutesPerSessionRTH
	case SessionRaw:
		minutesPerSession = minutesPerSessionRaw
	default:
		return 0, runerrors.Newf(runerrors.ErrCodeConfigMalformed, "unknown session mode %q", mode)
	}

	barsPerDay := minutesPerSession / timeframeMinutes
	if barsPerDay < 1 {
		barsPerDay = 1
	}

	if requiredWarmupBars == 0 {
		return 0, nil
	}

	days := int(math.Ceil(float64(requiredWarmupBars) / float64(barsPerDay)))

	return days, nil
}
