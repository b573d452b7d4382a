package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"go.uber.org/zap"
)

// requiredColumnSet returns the full set of columns every plugin's schema
// must carry, keyed by name, regardless of its own strategy-specific
// additions.
func requiredColumnSet(symbol, timeframe string) map[string]contracts.ColumnSpec {
	set := make(map[string]contracts.ColumnSpec)

	for _, c := range contracts.RequiredBaseColumns(symbol, timeframe) {
		set[c.Name] = c
	}

	for _, c := range contracts.RequiredGenericColumns() {
		set[c.Name] = c
	}

	return set
}

// BuildSignalFrame resolves a plugin's schema, checks it against the
// mandatory base+generic columns, invokes ExtendSignalFrame, and validates
// the result's invariants — raising runerrors.SignalFrameContractError on
// any violation instead of letting a malformed frame flow downstream.
func BuildSignalFrame(plugin Plugin, strategyID, version, symbol, timeframe string, bars []contracts.OHLCV, params json.RawMessage, logger *logging.Logger) (contracts.SignalFrame, error) {
	schema, err := plugin.GetSchema(version)
	if err != nil {
		return contracts.SignalFrame{}, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "GetSchema failed for %s@%s", strategyID, version)
	}

	if violations := missingRequiredColumns(schema, symbol, timeframe); len(violations) > 0 {
		return contracts.SignalFrame{}, &runerrors.SignalFrameContractError{
			StrategyID: strategyID,
			Version:    version,
			Violations: violations,
		}
	}

	frame, err := plugin.ExtendSignalFrame(bars, params)
	if err != nil {
		return contracts.SignalFrame{}, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "ExtendSignalFrame failed for %s@%s", strategyID, version)
	}

	if frame.Schema.Fingerprint() != schema.Fingerprint() {
		return contracts.SignalFrame{}, fingerprintMismatchErr(strategyID, version, frame.Schema, schema)
	}

	if err := frame.Validate(); err != nil {
		return contracts.SignalFrame{}, &runerrors.SignalFrameContractError{
			StrategyID: strategyID,
			Version:    version,
			Violations: []string{err.Error()},
		}
	}

	if logger != nil {
		logger.Info("signal frame schema accepted",
			zap.String("strategy_id", strategyID),
			zap.String("version", version),
			zap.String("fingerprint", schema.Fingerprint()),
			zap.Int("rows", len(frame.Rows)),
		)
	}

	return frame, nil
}

func missingRequiredColumns(schema contracts.SignalFrameSchema, symbol, timeframe string) []string {
	present := make(map[string]contracts.ColumnSpec, len(schema.Columns))
	for _, c := range schema.Columns {
		present[c.Name] = c
	}

	var violations []string

	for name, want := range requiredColumnSet(symbol, timeframe) {
		got, ok := present[name]
		if !ok {
			violations = append(violations, fmt.Sprintf("missing required column %q", name))
			continue
		}

		if got.DType != want.DType {
			violations = append(violations, fmt.Sprintf("column %q has dtype %q, expected %q", name, got.DType, want.DType))
		}

		if want.Nullable == false && got.Nullable {
			violations = append(violations, fmt.Sprintf("column %q must not be nullable", name))
		}
	}

	return violations
}
