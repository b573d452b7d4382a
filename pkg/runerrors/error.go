package runerrors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: nil}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: nil}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// MissingHistoricalDataError is raised when the data fetcher cannot locate
// the producer's derived-timeframe parquet, or the requested window slices
// to zero rows. Distinguished from *Error so callers (and the UI) can
// surface targeted remediation instead of a generic failure.
type MissingHistoricalDataError struct {
	Symbol    string
	Timeframe string
	// Remediation names the expected file and the producer endpoint that
	// would materialize it.
	Remediation string
}

func (e *MissingHistoricalDataError) Error() string {
	return fmt.Sprintf("missing historical bars for %s/%s: %s", e.Symbol, e.Timeframe, e.Remediation)
}

// SignalFrameContractError is raised when a strategy's extended signal
// frame fails schema validation: missing columns, nullability violations,
// or mutually-exclusive signal invariant breaches.
type SignalFrameContractError struct {
	StrategyID string
	Version    string
	Violations []string
}

func (e *SignalFrameContractError) Error() string {
	return fmt.Sprintf("signal frame contract violated for %s@%s: %v", e.StrategyID, e.Version, e.Violations)
}

// GateReason enumerates the FAILED_PRECONDITION reasons a gate can surface.
type GateReason string

const (
	GateReasonCoverageGap     GateReason = "DATA_COVERAGE_GAP"
	GateReasonSLAFailed       GateReason = "DATA_SLA_FAILED"
	GateReasonHistoryDegraded GateReason = "HISTORY_DEGRADED"
)

// GateFailureError represents a first-class run outcome rather than an
// exceptional condition: a gate determined the run cannot proceed.
type GateFailureError struct {
	Reason  GateReason
	Details map[string]any
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("gate failure: %s %v", e.Reason, e.Details)
}
