package artifact

import (
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
)

// SLASeverity is the severity of a single SLA violation.
type SLASeverity string

const (
	SLASeverityFatal   SLASeverity = "fatal"
	SLASeverityWarning SLASeverity = "warning"
)

// SLAViolation records one failed SLA check, grounded on
// src/backtest/services/data_sla.py's SLAViolation.
type SLAViolation struct {
	Name          string      `json:"sla_name"`
	Severity      SLASeverity `json:"severity"`
	MeasuredValue float64     `json:"measured_value"`
	Threshold     float64     `json:"threshold"`
	Message       string      `json:"message"`
}

// SLAResult is written to sla_check.json, never raised. Passed is true iff
// no FATAL violation exists.
type SLAResult struct {
	Passed        bool           `json:"passed"`
	Violations    []SLAViolation `json:"violations"`
	BaseTimeframe string         `json:"base_timeframe"`
}

// WriteSLACheck writes sla_check.json, always, regardless of Passed.
func WriteSLACheck(run contracts.RunContext, result SLAResult) error {
	return writeJSON(run.Path("sla_check.json"), result)
}

// FatalViolations returns only the FATAL-severity violations.
func (r SLAResult) FatalViolations() []SLAViolation {
	out := make([]SLAViolation, 0, len(r.Violations))

	for _, v := range r.Violations {
		if v.Severity == SLASeverityFatal {
			out = append(out, v)
		}
	}

	return out
}

// timeframeMinutes maps a base timeframe label to its bar spacing, used for
// gap detection across the RTH grid.
var timeframeMinutes = map[string]int{
	"M1": 1, "M5": 5, "M15": 15, "H1": 60,
}

// barsPerRTHDay is the number of bars a full 09:30-16:00 regular trading
// session contains at each timeframe (6.5 hours).
var barsPerRTHDay = map[string]int{
	"M1": 390, "M5": 78, "M15": 26, "H1": 7,
}

// CheckDataSLA validates bars before strategy execution: no_nan_ohlc and
// no_dupe_index are always FATAL; gap-based RTH-grid completeness is FATAL
// only for strategies declaring requiresConsecutiveBars (the inside-bar
// builtin does); ratio-based completeness is a secondary WARNING at a 0.99
// threshold, approximated via a fixed business-day ratio (see DESIGN.md).
// marketTZ resolves the regular-trading-session window (09:30-16:00) the
// gap check builds its expected grid against; an empty or unresolvable zone
// falls back to UTC.
func CheckDataSLA(bars []contracts.OHLCV, baseTimeframe string, requiresConsecutiveBars bool, lookbackBars int, marketTZ string) SLAResult {
	var violations []SLAViolation

	violations = append(violations, checkNaNOHLC(bars)...)
	violations = append(violations, checkDupeIndex(bars)...)

	if requiresConsecutiveBars {
		violations = append(violations, checkGapCompleteness(bars, baseTimeframe, lookbackBars, marketTZ)...)
		violations = append(violations, checkRatioCompleteness(bars, baseTimeframe)...)
	}

	passed := true

	for _, v := range violations {
		if v.Severity == SLASeverityFatal {
			passed = false
			break
		}
	}

	return SLAResult{Passed: passed, Violations: violations, BaseTimeframe: baseTimeframe}
}

func checkNaNOHLC(bars []contracts.OHLCV) []SLAViolation {
	invalid := 0

	for _, b := range bars {
		if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero() {
			invalid++
		}
	}

	if invalid == 0 {
		return nil
	}

	return []SLAViolation{{
		Name:          "no_nan_ohlc",
		Severity:      SLASeverityFatal,
		MeasuredValue: float64(invalid),
		Threshold:     0,
		Message:       "OHLC contains all-zero bars",
	}}
}

func checkDupeIndex(bars []contracts.OHLCV) []SLAViolation {
	seen := make(map[int64]struct{}, len(bars))

	dupes := 0

	for _, b := range bars {
		key := b.Timestamp.UTC().Unix()
		if _, ok := seen[key]; ok {
			dupes++
			continue
		}

		seen[key] = struct{}{}
	}

	if dupes == 0 {
		return nil
	}

	return []SLAViolation{{
		Name:          "no_dupe_index",
		Severity:      SLASeverityFatal,
		MeasuredValue: float64(dupes),
		Threshold:     0,
		Message:       "found duplicate bar timestamps",
	}}
}

// rthStartMinutes/rthEndMinutes bound the regular trading session
// (09:30 up to, but not including, 16:00), in minutes since local midnight.
const (
	rthStartMinutes = 9*60 + 30
	rthEndMinutes   = 16 * 60
)

func checkGapCompleteness(bars []contracts.OHLCV, tf string, lookbackBars int, marketTZ string) []SLAViolation {
	name := tfSLAName(tf) + "_completeness"

	if len(bars) < lookbackBars {
		return []SLAViolation{{
			Name:          name,
			Severity:      SLASeverityFatal,
			MeasuredValue: float64(len(bars)),
			Threshold:     float64(lookbackBars),
			Message:       "insufficient bars for the required lookback window",
		}}
	}

	window := bars[len(bars)-lookbackBars:]

	step, ok := timeframeMinutes[tf]
	if !ok {
		return nil
	}

	gaps := len(missingRTHTimestamps(window, step, marketTZ))
	if gaps == 0 {
		return nil
	}

	return []SLAViolation{{
		Name:          name,
		Severity:      SLASeverityFatal,
		MeasuredValue: float64(gaps),
		Threshold:     0,
		Message:       "found gaps in the regular-trading-session grid for the lookback window; consecutive bars are required for pattern detection",
	}}
}

// missingRTHTimestamps builds the expected regular-trading-session grid
// between window's first and last bar (inclusive, at the given step, in
// marketTZ) and returns the expected timestamps absent from window. A
// session boundary (e.g. one session's last bar to the next session's
// first) is never itself a gap: only weekday RTH slots are ever expected. Grounded
// on data_sla.py's _detect_gaps_in_window, which builds the same
// RTH-filtered pd.date_range and diffs it against the present index.
func missingRTHTimestamps(window []contracts.OHLCV, stepMinutes int, marketTZ string) []time.Time {
	if len(window) == 0 {
		return nil
	}

	loc, err := time.LoadLocation(marketTZ)
	if err != nil {
		loc = time.UTC
	}

	present := make(map[int64]struct{}, len(window))
	for _, b := range window {
		present[b.Timestamp.UTC().Unix()] = struct{}{}
	}

	step := time.Duration(stepMinutes) * time.Minute
	start := window[0].Timestamp.In(loc)
	end := window[len(window)-1].Timestamp.In(loc)

	var missing []time.Time

	for t := start; !t.After(end); t = t.Add(step) {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		minutesOfDay := t.Hour()*60 + t.Minute()
		if minutesOfDay < rthStartMinutes || minutesOfDay >= rthEndMinutes {
			continue
		}

		if _, ok := present[t.UTC().Unix()]; !ok {
			missing = append(missing, t)
		}
	}

	return missing
}

// checkRatioCompleteness approximates expected bar count from the
// calendar-day span using a fixed 0.7 trading-day ratio (252/365), the same
// business-day approximation the original uses — a deliberate
// approximation, not an exact trading calendar (see SPEC_FULL.md §9).
func checkRatioCompleteness(bars []contracts.OHLCV, tf string) []SLAViolation {
	if len(bars) == 0 {
		return nil
	}

	perDay, ok := barsPerRTHDay[tf]
	if !ok {
		return nil
	}

	daysSpan := bars[len(bars)-1].Timestamp.Sub(bars[0].Timestamp).Hours()/24 + 1
	tradingDays := int(daysSpan * 0.7)
	expected := tradingDays * perDay

	if expected <= 0 {
		return nil
	}

	ratio := float64(len(bars)) / float64(expected)
	if ratio >= 0.99 {
		return nil
	}

	return []SLAViolation{{
		Name:          tfSLAName(tf) + "_completeness_ratio",
		Severity:      SLASeverityWarning,
		MeasuredValue: ratio,
		Threshold:     0.99,
		Message:       "completeness ratio below threshold against the approximated trading-day expectation",
	}}
}

func tfSLAName(tf string) string {
	switch tf {
	case "M1":
		return "m1"
	case "M5":
		return "m5"
	case "M15":
		return "m15"
	case "H1":
		return "h1"
	default:
		return "base"
	}
}
