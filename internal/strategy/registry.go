// Package strategy provides the capability-set registry strategies plug
// into, generalizing the teacher's StrategyRuntime + go-plugin/wazero wiring
// (internal/runtime, internal/runtime/wasm) from a fixed trading-strategy
// ABI into a schema/signal-frame contract.
package strategy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
)

// Plugin is the capability set every strategy — native or WASM-hosted —
// must implement.
type Plugin interface {
	// GetSchema returns the SignalFrameSchema this plugin produces for the
	// given version.
	GetSchema(version string) (contracts.SignalFrameSchema, error)
	// ExtendSignalFrame projects params over bars and returns the
	// strategy-owned signal frame.
	ExtendSignalFrame(bars []contracts.OHLCV, params json.RawMessage) (contracts.SignalFrame, error)
}

// Registry resolves a (strategyID, version) pair to a loaded Plugin.
// Plugins register themselves — native strategies via an init()-driven
// entry exactly like a WASM plugin would, proving the capability boundary
// holds even for in-process code.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]Plugin)}
}

// global is the process-wide registry native strategies self-register into.
var global = NewRegistry()

// Global returns the process-wide registry used by builtin strategies'
// init() functions and the CLI's default wiring.
func Global() *Registry {
	return global
}

// Register adds a plugin under (id, version). Re-registering the same pair
// overwrites the previous entry, which lets tests substitute fakes.
func (r *Registry) Register(id, version string, plugin Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[id] == nil {
		r.plugins[id] = make(map[string]Plugin)
	}

	r.plugins[id][version] = plugin
}

// Resolve looks up a registered plugin by (id, version).
func (r *Registry) Resolve(id, version string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.plugins[id]
	if !ok {
		return nil, runerrors.Newf(runerrors.ErrCodeUnknownStrategy, "unknown strategy id %q", id)
	}

	plugin, ok := versions[version]
	if !ok {
		return nil, runerrors.Newf(runerrors.ErrCodeMissingStrategyVersion, "strategy %q has no registered version %q", id, version)
	}

	return plugin, nil
}

// ResolveConstraint resolves (id, constraint) to the highest registered
// version satisfying a semver constraint (e.g. "^1.2.0", ">=1.0.0 <2.0.0"),
// for callers that pin a strategy loosely rather than to one exact
// version string. Versions that do not parse as semver are skipped rather
// than failing the whole lookup, since a registry may mix strict semver
// plugin versions with ad-hoc ones resolved only via Resolve.
func (r *Registry) ResolveConstraint(id, constraint string) (Plugin, string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, "", runerrors.Wrapf(runerrors.ErrCodeConfigMalformed, err, "invalid version constraint %q", constraint)
	}

	r.mu.RLock()
	versions, ok := r.plugins[id]
	if !ok {
		r.mu.RUnlock()
		return nil, "", runerrors.Newf(runerrors.ErrCodeUnknownStrategy, "unknown strategy id %q", id)
	}

	var (
		best    *semver.Version
		bestRaw string
	)

	for raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}

		if !c.Check(v) {
			continue
		}

		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}

	if best == nil {
		r.mu.RUnlock()
		return nil, "", runerrors.Newf(runerrors.ErrCodeMissingStrategyVersion, "strategy %q has no registered version satisfying %q", id, constraint)
	}

	plugin := versions[bestRaw]
	r.mu.RUnlock()

	return plugin, bestRaw, nil
}

// IDs returns the registered strategy identifiers, for diagnostics/listing.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}

	return ids
}

func fingerprintMismatchErr(strategyID, version string, got, want contracts.SignalFrameSchema) error {
	return &runerrors.SignalFrameContractError{
		StrategyID: strategyID,
		Version:    version,
		Violations: []string{fmt.Sprintf("schema fingerprint mismatch: got %q, expected %q", got.Fingerprint(), want.Fingerprint())},
	}
}
