// Package config resolves the runtime configuration record from an explicit
// path, an environment pointer, well-known file locations, or individual
// environment variables, in that precedence order. It generalizes the
// teacher's cached-singleton BacktestEngineV1Config into the three-section
// record spec.md §4.1 describes.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quantforge/backtest-core/pkg/runerrors"
	"gopkg.in/yaml.v3"
)

// Paths holds the two absolute filesystem roots the pipeline reads/writes.
type Paths struct {
	MarketDataDataRoot   string `yaml:"marketdata_data_root"`
	TradingArtifactsRoot string `yaml:"trading_artifacts_root"`
}

// Services holds the URL of the external market-data producer.
type Services struct {
	MarketDataStreamURL string `yaml:"marketdata_stream_url"`
}

// Runtime holds process behavior flags.
type Runtime struct {
	PipelineConsumerOnly    bool `yaml:"pipeline_consumer_only"`
	PipelineAutoEnsureBars  bool `yaml:"pipeline_auto_ensure_bars"`
}

// Config is the immutable, fully-resolved runtime configuration.
type Config struct {
	Paths    Paths    `yaml:"paths"`
	Services Services `yaml:"services"`
	Runtime  Runtime  `yaml:"runtime"`
}

var (
	cached     *Config
	cacheOnce  sync.Once
	cacheMu    sync.Mutex
)

// wellKnownPaths are searched, in order, when no explicit path or env
// pointer is given.
func wellKnownPaths() []string {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()

	return []string{
		"/etc/trading/trading.yaml",
		filepath.Join(home, ".config", "trading", "trading.yaml"),
		filepath.Join(cwd, "config", "trading.yaml"),
	}
}

// Load resolves the configuration using the precedence chain described in
// spec §4.1: explicit path > env pointer (TRADING_CONFIG) > well-known
// locations > individual environment variables. The result is cached for
// the process; use Get() after the first Load(), or ResetForTest() in
// tests that need to reload.
func Load(explicitPath string, strict bool) (*Config, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	cfg, err := load(explicitPath, strict)
	if err != nil {
		return nil, err
	}

	cached = cfg

	return cfg, nil
}

// Get returns the cached config loaded by a prior call to Load. Panics if
// Load has never succeeded — callers must initialize config once at
// process start, per the "never a hidden global" design note.
func Get() *Config {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached == nil {
		panic("config: Get() called before a successful Load()")
	}

	return cached
}

// ResetForTest clears the cached config so tests can exercise Load again
// with different inputs.
func ResetForTest() {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	cached = nil
	cacheOnce = sync.Once{}
}

func load(explicitPath string, strict bool) (*Config, error) {
	path := resolvePath(explicitPath)

	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeConfigMalformed, err, "failed to read config file %q", path)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeConfigMalformed, err, "failed to parse config file %q", path)
		}
	}

	applyEnvOverrides(&cfg, path != "")

	if err := validate(&cfg, strict); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if envPath := strings.TrimSpace(os.Getenv("TRADING_CONFIG")); envPath != "" {
		return envPath
	}

	for _, p := range wellKnownPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnvOverrides fills cfg from individual environment variables, the
// lowest-precedence source: a value already set by a config file is kept,
// and the boolean flags are read from the environment only when no file
// was loaded.
func applyEnvOverrides(cfg *Config, fromFile bool) {
	if v := os.Getenv("MARKETDATA_DATA_ROOT"); v != "" && cfg.Paths.MarketDataDataRoot == "" {
		cfg.Paths.MarketDataDataRoot = v
	}

	if cfg.Paths.TradingArtifactsRoot == "" {
		if v := os.Getenv("TRADING_ARTIFACTS_ROOT"); v != "" {
			cfg.Paths.TradingArtifactsRoot = v
		} else if v := os.Getenv("TRADING_OUTPUT_ROOT"); v != "" {
			// legacy alias, per spec §6.
			cfg.Paths.TradingArtifactsRoot = v
		}
	}

	if v := os.Getenv("MARKETDATA_STREAM_URL"); v != "" && cfg.Services.MarketDataStreamURL == "" {
		cfg.Services.MarketDataStreamURL = v
	}

	if fromFile {
		return
	}

	if v, ok := parseBoolEnv("PIPELINE_AUTO_ENSURE_BARS"); ok {
		cfg.Runtime.PipelineAutoEnsureBars = v
	}

	if v, ok := parseBoolEnv("PIPELINE_CONSUMER_ONLY"); ok {
		cfg.Runtime.PipelineConsumerOnly = v
	}
}

func parseBoolEnv(key string) (bool, bool) {
	raw, set := os.LookupEnv(key)
	if !set {
		return false, false
	}

	return AsBool(raw), true
}

// AsBool accepts {1, true, yes, y, on} case-insensitively, per spec §4.1.
func AsBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func validate(cfg *Config, strict bool) error {
	if cfg.Paths.MarketDataDataRoot != "" && !filepath.IsAbs(cfg.Paths.MarketDataDataRoot) {
		return runerrors.Newf(runerrors.ErrCodeConfigNotAbsolute, "paths.marketdata_data_root must be absolute, got %q", cfg.Paths.MarketDataDataRoot)
	}

	if cfg.Paths.TradingArtifactsRoot != "" && !filepath.IsAbs(cfg.Paths.TradingArtifactsRoot) {
		return runerrors.Newf(runerrors.ErrCodeConfigNotAbsolute, "paths.trading_artifacts_root must be absolute, got %q", cfg.Paths.TradingArtifactsRoot)
	}

	if strict {
		if cfg.Paths.MarketDataDataRoot == "" {
			return runerrors.New(runerrors.ErrCodeConfigRequiredMissing, "paths.marketdata_data_root is required in strict mode")
		}

		if cfg.Paths.TradingArtifactsRoot == "" {
			return runerrors.New(runerrors.ErrCodeConfigRequiredMissing, "paths.trading_artifacts_root is required in strict mode")
		}
	}

	return nil
}
