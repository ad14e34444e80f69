// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `pcap-analyser:` root key in YAML.
type GlobalConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Output   OutputConfig   `mapstructure:"output"`
}

// ─── Log ───

// LogConfig contains diagnostic sink settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // trace / debug / info / warn / error
	Pattern string           `mapstructure:"pattern"` // %time %level %field %msg %caller
	Time    string           `mapstructure:"time"`    // Go time layout for %time
	Output  string           `mapstructure:"output"`  // stdout / stderr / none
	File    FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Analysis ───

// AnalysisConfig selects and tunes the analysis engines.
type AnalysisConfig struct {
	Latency LatencyConfig `mapstructure:"latency"`
	Time    TimeConfig    `mapstructure:"time"`
	Burst   BurstConfig   `mapstructure:"burst"`
}

// LatencyConfig tunes the latency engine. Range values are milliseconds.
type LatencyConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Min       float64 `mapstructure:"min"`
	Max       float64 `mapstructure:"max"`
	BinsPerMs int     `mapstructure:"bins_per_ms"`
	Histogram bool    `mapstructure:"histogram"`
	DebugCSV  bool    `mapstructure:"debug_csv"`
}

// TimeConfig tunes the clock-drift engine. Values are milliseconds.
type TimeConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MinDifference      float64 `mapstructure:"min_difference"`
	ExpectedDifference float64 `mapstructure:"expected_difference"`
	Range              float64 `mapstructure:"range"`
	BinsPerMs          int     `mapstructure:"bins_per_ms"`
	Histogram          bool    `mapstructure:"histogram"`
	DebugCSV           bool    `mapstructure:"debug_csv"`
}

// BurstConfig tunes the burst engine. Range values are milliseconds.
type BurstConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Min       float64 `mapstructure:"min"`
	Max       float64 `mapstructure:"max"`
	BinsPerMs int     `mapstructure:"bins_per_ms"`
	Histogram bool    `mapstructure:"histogram"`
	DebugCSV  bool    `mapstructure:"debug_csv"`
}

// ─── Decoder ───

// DecoderConfig configures the per-source-port message dispatch table.
type DecoderConfig struct {
	Dispatch []DispatchConfig `mapstructure:"dispatch"`
}

// DispatchConfig binds one message decoder to a transport and source port.
type DispatchConfig struct {
	Transport string         `mapstructure:"transport"` // tcp / udp
	Port      uint16         `mapstructure:"port"`
	Decoder   string         `mapstructure:"decoder"`
	Options   map[string]any `mapstructure:"options"`
}

// ─── Metrics & Output ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"` // node_exporter textfile collector target
}

// OutputConfig controls how results are rendered.
type OutputConfig struct {
	Format string `mapstructure:"format"` // text / yaml
	Path   string `mapstructure:"path"`   // empty = stdout
	Jobs   int    `mapstructure:"jobs"`   // concurrent capture files
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pcap-analyser: ...`.
type configRoot struct {
	Analyser GlobalConfig `mapstructure:"pcap-analyser"`
}

// Load loads configuration from file.
// The YAML file uses `pcap-analyser:` as root key; env vars use PCAP_ANALYSER_ prefix
// (e.g., PCAP_ANALYSER_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// Default returns the configuration used when no file is given.
// Environment overrides still apply.
func Default() (*GlobalConfig, error) {
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()

	// key "pcap-analyser.log.level" -> env "PCAP_ANALYSER_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*GlobalConfig, error) {
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Analyser

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "pcap-analyser." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("pcap-analyser.log.level", "info")
	v.SetDefault("pcap-analyser.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("pcap-analyser.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("pcap-analyser.log.output", "stderr")
	v.SetDefault("pcap-analyser.log.file.enabled", false)
	v.SetDefault("pcap-analyser.log.file.path", "pcap-analyser.log")
	v.SetDefault("pcap-analyser.log.file.rotation.max_size_mb", 100)
	v.SetDefault("pcap-analyser.log.file.rotation.max_age_days", 30)
	v.SetDefault("pcap-analyser.log.file.rotation.max_backups", 5)
	v.SetDefault("pcap-analyser.log.file.rotation.compress", true)

	// Latency analysis defaults
	v.SetDefault("pcap-analyser.analysis.latency.enabled", true)
	v.SetDefault("pcap-analyser.analysis.latency.min", 0.0)
	v.SetDefault("pcap-analyser.analysis.latency.max", 50.0)
	v.SetDefault("pcap-analyser.analysis.latency.bins_per_ms", 10)
	v.SetDefault("pcap-analyser.analysis.latency.histogram", true)
	v.SetDefault("pcap-analyser.analysis.latency.debug_csv", false)

	// Time analysis defaults
	v.SetDefault("pcap-analyser.analysis.time.enabled", true)
	v.SetDefault("pcap-analyser.analysis.time.min_difference", 0.03)
	v.SetDefault("pcap-analyser.analysis.time.expected_difference", 1000.0)
	v.SetDefault("pcap-analyser.analysis.time.range", 2.0)
	v.SetDefault("pcap-analyser.analysis.time.bins_per_ms", 40)
	v.SetDefault("pcap-analyser.analysis.time.histogram", true)
	v.SetDefault("pcap-analyser.analysis.time.debug_csv", false)

	// Burst analysis defaults
	v.SetDefault("pcap-analyser.analysis.burst.enabled", false)
	v.SetDefault("pcap-analyser.analysis.burst.min", 0.0)
	v.SetDefault("pcap-analyser.analysis.burst.max", 15000.0)
	v.SetDefault("pcap-analyser.analysis.burst.bins_per_ms", 10)
	v.SetDefault("pcap-analyser.analysis.burst.histogram", true)
	v.SetDefault("pcap-analyser.analysis.burst.debug_csv", false)

	// Metrics defaults
	v.SetDefault("pcap-analyser.metrics.enabled", true)
	v.SetDefault("pcap-analyser.metrics.textfile", "")

	// Output defaults
	v.SetDefault("pcap-analyser.output.format", "text")
	v.SetDefault("pcap-analyser.output.path", "")
	v.SetDefault("pcap-analyser.output.jobs", 1)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Output {
	case "stdout", "stderr", "none":
	default:
		return fmt.Errorf("invalid log output: %s (must be stdout/stderr/none)", cfg.Log.Output)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	// ── Analysis validation ──
	a := &cfg.Analysis
	if a.Latency.BinsPerMs < 1 || a.Time.BinsPerMs < 1 || a.Burst.BinsPerMs < 1 {
		return fmt.Errorf("analysis bins_per_ms must be at least 1")
	}
	if a.Latency.Min == a.Latency.Max {
		return fmt.Errorf("analysis.latency.min and max must differ")
	}
	if a.Burst.Min == a.Burst.Max {
		return fmt.Errorf("analysis.burst.min and max must differ")
	}
	if a.Time.Range <= 0 {
		return fmt.Errorf("analysis.time.range must be positive, got %v", a.Time.Range)
	}
	if a.Time.MinDifference < 0 {
		return fmt.Errorf("analysis.time.min_difference must not be negative")
	}

	// ── Decoder dispatch validation ──
	seen := make(map[string]bool)
	for i, d := range cfg.Decoder.Dispatch {
		if d.Transport != "tcp" && d.Transport != "udp" {
			return fmt.Errorf("decoder.dispatch[%d].transport: %q (must be tcp/udp)", i, d.Transport)
		}
		if d.Decoder == "" {
			return fmt.Errorf("decoder.dispatch[%d].decoder is required", i)
		}
		key := fmt.Sprintf("%s/%d", d.Transport, d.Port)
		if seen[key] {
			return fmt.Errorf("decoder.dispatch[%d]: duplicate binding for %s", i, key)
		}
		seen[key] = true
	}

	// ── Output validation ──
	if cfg.Output.Format != "text" && cfg.Output.Format != "yaml" {
		return fmt.Errorf("invalid output format: %s (must be text/yaml)", cfg.Output.Format)
	}
	if cfg.Output.Jobs < 1 {
		cfg.Output.Jobs = 1
	}

	return nil
}
