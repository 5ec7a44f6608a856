// Package config loads kprof's global settings from ~/.kprof/config.yaml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds global kprof settings.
type GlobalConfig struct {
	Trace TraceConfig `yaml:"trace"`
	Build BuildConfig `yaml:"build"`
	Debug DebugConfig `yaml:"debug"`
}

// TraceConfig holds tracing orchestrator settings.
type TraceConfig struct {
	// LTTngPath is the control tool, either a bare name resolved on PATH or
	// an absolute path.
	LTTngPath string `yaml:"lttng_path"`
	// OutputDir is the default trace output root. Empty means
	// <cwd>/lttng-traces.
	OutputDir string `yaml:"output_dir"`
	// ControlTimeout bounds each control tool invocation.
	ControlTimeout time.Duration `yaml:"control_timeout"`
}

// BuildConfig holds build pipeline settings.
type BuildConfig struct {
	BaseDir     string        `yaml:"base_dir"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DebugConfig holds debug log settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Trace: TraceConfig{
			LTTngPath:      "lttng",
			ControlTimeout: 30 * time.Second,
		},
		Build: BuildConfig{
			BaseDir:     filepath.Join("..", "programs"),
			HTTPTimeout: 10 * time.Minute,
		},
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads config.yaml from GlobalConfigDir and applies environment
// overrides. A missing or malformed file leaves the defaults in place.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	configPath := filepath.Join(GlobalConfigDir(), "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		var file GlobalConfig
		if yaml.Unmarshal(data, &file) == nil {
			cfg.merge(&file)
		}
	}

	if v := os.Getenv("KPROF_LTTNG"); v != "" {
		cfg.Trace.LTTngPath = v
	}
	if v := os.Getenv("KPROF_OUTPUT_DIR"); v != "" {
		cfg.Trace.OutputDir = v
	}
	if v := os.Getenv("KPROF_BUILD_BASE"); v != "" {
		cfg.Build.BaseDir = v
	}

	return cfg, nil
}

// merge copies the non-zero fields of f over c.
func (c *GlobalConfig) merge(f *GlobalConfig) {
	if f.Trace.LTTngPath != "" {
		c.Trace.LTTngPath = f.Trace.LTTngPath
	}
	if f.Trace.OutputDir != "" {
		c.Trace.OutputDir = f.Trace.OutputDir
	}
	if f.Trace.ControlTimeout > 0 {
		c.Trace.ControlTimeout = f.Trace.ControlTimeout
	}
	if f.Build.BaseDir != "" {
		c.Build.BaseDir = f.Build.BaseDir
	}
	if f.Build.HTTPTimeout > 0 {
		c.Build.HTTPTimeout = f.Build.HTTPTimeout
	}
	if f.Debug.RetentionDays > 0 {
		c.Debug.RetentionDays = f.Debug.RetentionDays
	}
}

// GlobalConfigDir returns the kprof state directory: $KPROF_HOME, or
// ~/.kprof.
func GlobalConfigDir() string {
	if dir := os.Getenv("KPROF_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".kprof")
	}
	return filepath.Join(homeDir, ".kprof")
}

// SessionsDir is where live session records are kept.
func SessionsDir() string { return filepath.Join(GlobalConfigDir(), "sessions") }

// HistoryPath is the SQLite history database.
func HistoryPath() string { return filepath.Join(GlobalConfigDir(), "history.db") }

// DebugDir holds the daily JSON debug logs.
func DebugDir() string { return filepath.Join(GlobalConfigDir(), "debug") }
