// Package runerrors provides structured error handling with typed error codes
// for the backtest pipeline.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Configuration errors (100-199): Missing paths, malformed config
//   - Data/Resource errors (200-299): Missing bars, unreadable snapshots, query failures
//   - Strategy contract errors (300-399): Unknown strategy, schema violations
//   - Intent/Fill errors (400-499): Canonicalization and matching failures
//   - Execution errors (500-599): Sizing and trade construction failures
//   - Gate errors (600-699): Coverage and SLA gate failures
//   - Artifact errors (700-799): Run directory, manifest, and result writing
//   - Pre-paper history errors (800-899): Runtime history store failures
//   - Paper-trading adapter errors (900-999): External order-intent failures
//
// Usage:
//
//	err := runerrors.New(runerrors.ErrCodeDataNotFound, "bars not found")
//	err := runerrors.Newf(runerrors.ErrCodeDataNotFound, "bars not found for %s", symbol)
//	err := runerrors.Wrap(runerrors.ErrCodeQueryFailed, "query failed", cause)
package runerrors

// ErrorCode is a stable, typed identifier for a category of failure.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeGeneral
)

const (
	ErrCodeConfigMissingPath ErrorCode = iota + 100
	ErrCodeConfigNotAbsolute
	ErrCodeConfigMalformed
	ErrCodeConfigRequiredMissing
)

const (
	ErrCodeDataNotFound ErrorCode = iota + 200
	ErrCodeQueryFailed
	ErrCodeUnsupportedTimeframe
	ErrCodeUnreadableSnapshot
	ErrCodeEmptyWindow
	ErrCodeMissingColumns
	ErrCodeInvalidBar
)

const (
	ErrCodeUnknownStrategy ErrorCode = iota + 300
	ErrCodeMissingStrategyVersion
	ErrCodeSchemaViolation
	ErrCodeStrategyRuntimeFailed
	ErrCodeVersionMismatch
)

const (
	ErrCodeMissingOCOGroup ErrorCode = iota + 400
	ErrCodeIntentCanonicalizeFailed
	ErrCodeFillMatchFailed
	ErrCodeEmptyBarsForFill
)

const (
	ErrCodeInvalidSizingConfig ErrorCode = iota + 500
	ErrCodeTradeConstructionFailed
)

const (
	ErrCodeCoverageGapDetected ErrorCode = iota + 600
	ErrCodeCoverageFetchFailed
	ErrCodeSLAFatalViolation
)

const (
	ErrCodeRunDirExists ErrorCode = iota + 700
	ErrCodeRunDirCreateFailed
	ErrCodeManifestWriteFailed
	ErrCodeResultWriteFailed
)

const (
	ErrCodeHistoryDegraded ErrorCode = iota + 800
	ErrCodeHistoryStoreBoundaryViolation
	ErrCodeHistoryWriteFailed
)

const (
	ErrCodeAdapterValidationFailed ErrorCode = iota + 900
	ErrCodeAdapterNetworkError
	ErrCodeAdapterDuplicateOrder
)

// errorCodeTokens names each code as a short uppercase token, used for
// run_result.json's error_id (spec §3): a stable correlation handle between
// run_result.json and error_stacktrace.txt, distinct from the full
// human-readable error string.
var errorCodeTokens = map[ErrorCode]string{
	ErrCodeUnknown: "UNKNOWN",
	ErrCodeGeneral: "GENERAL",

	ErrCodeConfigMissingPath:    "CONFIG_MISSING_PATH",
	ErrCodeConfigNotAbsolute:    "CONFIG_NOT_ABSOLUTE",
	ErrCodeConfigMalformed:      "CONFIG_MALFORMED",
	ErrCodeConfigRequiredMissing: "CONFIG_REQUIRED_MISSING",

	ErrCodeDataNotFound:         "DATA_NOT_FOUND",
	ErrCodeQueryFailed:          "QUERY_FAILED",
	ErrCodeUnsupportedTimeframe: "UNSUPPORTED_TIMEFRAME",
	ErrCodeUnreadableSnapshot:   "UNREADABLE_SNAPSHOT",
	ErrCodeEmptyWindow:          "EMPTY_WINDOW",
	ErrCodeMissingColumns:       "MISSING_COLUMNS",
	ErrCodeInvalidBar:           "INVALID_BAR",

	ErrCodeUnknownStrategy:        "UNKNOWN_STRATEGY",
	ErrCodeMissingStrategyVersion: "MISSING_STRATEGY_VERSION",
	ErrCodeSchemaViolation:        "SCHEMA_VIOLATION",
	ErrCodeStrategyRuntimeFailed:  "STRATEGY_RUNTIME_FAILED",
	ErrCodeVersionMismatch:        "VERSION_MISMATCH",

	ErrCodeMissingOCOGroup:          "MISSING_OCO_GROUP",
	ErrCodeIntentCanonicalizeFailed: "INTENT_CANONICALIZE_FAILED",
	ErrCodeFillMatchFailed:          "FILL_MATCH_FAILED",
	ErrCodeEmptyBarsForFill:         "EMPTY_BARS_FOR_FILL",

	ErrCodeInvalidSizingConfig:     "INVALID_SIZING_CONFIG",
	ErrCodeTradeConstructionFailed: "TRADE_CONSTRUCTION_FAILED",

	ErrCodeCoverageGapDetected: "COVERAGE_GAP_DETECTED",
	ErrCodeCoverageFetchFailed: "COVERAGE_FETCH_FAILED",
	ErrCodeSLAFatalViolation:   "SLA_FATAL_VIOLATION",

	ErrCodeRunDirExists:        "RUN_DIR_EXISTS",
	ErrCodeRunDirCreateFailed:  "RUN_DIR_CREATE_FAILED",
	ErrCodeManifestWriteFailed: "MANIFEST_WRITE_FAILED",
	ErrCodeResultWriteFailed:   "RESULT_WRITE_FAILED",

	ErrCodeHistoryDegraded:               "HISTORY_DEGRADED",
	ErrCodeHistoryStoreBoundaryViolation: "HISTORY_STORE_BOUNDARY_VIOLATION",
	ErrCodeHistoryWriteFailed:            "HISTORY_WRITE_FAILED",

	ErrCodeAdapterValidationFailed: "ADAPTER_VALIDATION_FAILED",
	ErrCodeAdapterNetworkError:     "ADAPTER_NETWORK_ERROR",
	ErrCodeAdapterDuplicateOrder:   "ADAPTER_DUPLICATE_ORDER",
}

// String returns code's short uppercase token, or "UNKNOWN" for any code
// missing from the table (never the case for a code defined above).
func (c ErrorCode) String() string {
	if tok, ok := errorCodeTokens[c]; ok {
		return tok
	}

	return "UNKNOWN"
}
