// Package config provides configuration handling for the RTT-measurement simulator.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/logging"
	"github.com/irctrakz/p4rtt/pkg/sim"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "P4RTT_"

// Config represents the complete simulator configuration.
type Config struct {
	// Simulation contains run-wide settings.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// FlowTable is the flow table and its handshake policy.
	FlowTable core.FlowTableConfig `json:"flow_table" yaml:"flowTable"`

	// PacketTable is the packet table.
	PacketTable core.TableConfig `json:"packet_table" yaml:"packetTable"`

	// ApproxFlowTable is the approximate flow table, used when
	// Simulation.EnableApprox is set.
	ApproxFlowTable core.TableConfig `json:"approx_flow_table" yaml:"approxFlowTable"`

	// Output contains result file settings.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig contains run-wide settings.
type SimulationConfig struct {
	// EnableApprox turns on the approximate flow table.
	EnableApprox bool `json:"enable_approx" yaml:"enableApprox"`

	// LogIntervalMs is the snapshot period in trace milliseconds; 0 disables
	// periodic snapshots.
	LogIntervalMs int `json:"log_interval_ms" yaml:"logIntervalMs"`

	// SamplingRate is the fraction of flows measured, in (0, 1].
	SamplingRate float64 `json:"sampling_rate" yaml:"samplingRate"`

	// Monitored is the address space whose outbound traffic is measured.
	Monitored MonitoredConfig `json:"monitored" yaml:"monitored"`
}

// MonitoredConfig is a set of CIDR prefixes.
type MonitoredConfig struct {
	Include []string `json:"include" yaml:"include"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// OutputConfig contains result file settings.
type OutputConfig struct {
	// Dir receives the result files of a run.
	Dir string `json:"dir" yaml:"dir"`

	// Samples enables samples.csv.
	Samples bool `json:"samples" yaml:"samples"`

	// Snapshots enables the per-table snapshot time series.
	Snapshots bool `json:"snapshots" yaml:"snapshots"`

	// Prometheus enables metrics.prom in the text exposition format.
	Prometheus bool `json:"prometheus" yaml:"prometheus"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is the log format (text, json).
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`

	// Quiet keeps file logging off stdout.
	Quiet bool `json:"quiet" yaml:"quiet"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			EnableApprox:  false,
			LogIntervalMs: 5000,
			SamplingRate:  1.0,
			Monitored: MonitoredConfig{
				Include: append([]string(nil), sim.DefaultMonitored...),
			},
		},
		FlowTable: core.FlowTableConfig{
			TableConfig: core.TableConfig{
				NumStages:      1,
				MaxSize:        65536,
				Recirculations: 3,
				PreferNew:      true,
				EvictionStage:  core.EvictAtStart,
			},
			SynAction: core.SynIgnore,
			SynStaging: core.TableConfig{
				NumStages:      4,
				MaxSize:        20000,
				Recirculations: 1,
				PreferNew:      true,
				EvictionStage:  core.EvictAtStart,
				EntryTimeoutMs: core.IntPtr(500),
			},
		},
		PacketTable: core.TableConfig{
			NumStages:      1,
			MaxSize:        65536,
			Recirculations: 8,
			PreferNew:      true,
			EvictionStage:  core.EvictAtStart,
		},
		ApproxFlowTable: core.TableConfig{
			NumStages:      4,
			MaxSize:        1024,
			Recirculations: 1,
			PreferNew:      true,
			EvictionStage:  core.EvictAtStart,
		},
		Output: OutputConfig{
			Dir:       "results",
			Samples:   true,
			Snapshots: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Load builds the effective configuration: defaults, then the file at
// path (if any), then environment overrides, normalised and validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Values that
// do not parse are ignored.
func LoadFromEnv(config *Config) {
	// Simulation config
	if val := getenv("ENABLE_APPROX"); val != "" {
		config.Simulation.EnableApprox = parseBool(val)
	}
	if val := getenv("LOG_INTERVAL_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Simulation.LogIntervalMs = ms
		}
	}
	if val := getenv("SAMPLING_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			config.Simulation.SamplingRate = rate
		}
	}
	if val := getenv("MONITORED"); val != "" {
		config.Simulation.Monitored.Include = splitList(val)
	}
	if val := getenv("EXCLUDED"); val != "" {
		config.Simulation.Monitored.Exclude = splitList(val)
	}

	// Table configs
	tableFromEnv("FT_", &config.FlowTable.TableConfig)
	tableFromEnv("PT_", &config.PacketTable)
	tableFromEnv("AFT_", &config.ApproxFlowTable)
	tableFromEnv("SYN_STAGING_", &config.FlowTable.SynStaging)
	if val := getenv("SYN_ACTION"); val != "" {
		if a, err := core.ParseSynAction(val); err == nil {
			config.FlowTable.SynAction = a
		}
	}
	if val := getenv("SYN_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.FlowTable.SynTimeoutMs = core.IntPtr(ms)
		}
	}

	// Output config
	if val := getenv("OUTPUT_DIR"); val != "" {
		config.Output.Dir = val
	}
	if val := getenv("OUTPUT_PROMETHEUS"); val != "" {
		config.Output.Prometheus = parseBool(val)
	}

	// Logging config
	if val := getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := getenv("LOGGING_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := getenv("LOGGING_MAX_SIZE"); val != "" {
		if maxSize, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = maxSize
		}
	}
	if val := getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if maxBackups, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = maxBackups
		}
	}
	if val := getenv("LOGGING_MAX_AGE"); val != "" {
		if maxAge, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = maxAge
		}
	}
}

func tableFromEnv(prefix string, tc *core.TableConfig) {
	if val := getenv(prefix + "NUM_STAGES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			tc.NumStages = n
		}
	}
	if val := getenv(prefix + "MAX_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			tc.MaxSize = n
		}
	}
	if val := getenv(prefix + "RECIRCULATIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			tc.Recirculations = n
		}
	}
	if val := getenv(prefix + "PREFER_NEW"); val != "" {
		tc.PreferNew = parseBool(val)
	}
	if val := getenv(prefix + "EVICTION_STAGE"); val != "" {
		if e, err := core.ParseEvictionTiming(val); err == nil {
			tc.EvictionStage = e
		}
	}
	if val := getenv(prefix + "ENTRY_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			tc.EntryTimeoutMs = core.IntPtr(ms)
		}
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func parseBool(val string) bool {
	return val == "true" || val == "1"
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Normalize clamps out-of-range settings to usable values, logging a
// warning for each correction.
func (c *Config) Normalize() {
	normalizeTable("flow_table", &c.FlowTable.TableConfig)
	normalizeTable("packet_table", &c.PacketTable)
	if c.Simulation.EnableApprox {
		normalizeTable("approx_flow_table", &c.ApproxFlowTable)
	}

	ft := &c.FlowTable
	if !ft.SynAction.Valid() {
		logging.WarnWithFields(logrus.Fields{"table": "flow_table"}, "Invalid SYN action, using %s", core.SynIgnore)
		ft.SynAction = core.SynIgnore
	}
	if ft.SynTimeoutMs != nil && *ft.SynTimeoutMs < 0 {
		logging.WarnWithFields(logrus.Fields{"table": "flow_table", "syn_timeout_ms": *ft.SynTimeoutMs}, "Negative SYN timeout, disabling it")
		ft.SynTimeoutMs = nil
	}
	if ft.SynAction == core.SynTimeout && ft.SynTimeoutMs == nil {
		logging.WarnWithFields(logrus.Fields{"table": "flow_table"}, "SYN action is timeout but no SYN timeout is set")
	}
	if ft.SynAction == core.SynStaging {
		normalizeTable("syn_staging", &ft.SynStaging)
	}

	rate := c.Simulation.SamplingRate
	if math.IsNaN(rate) || rate <= 0 || rate > 1 {
		logging.WarnWithFields(logrus.Fields{"sampling_rate": rate}, "Sampling rate outside (0, 1], using 1.0")
		c.Simulation.SamplingRate = 1.0
	}
	if c.Simulation.LogIntervalMs < 0 {
		logging.WarnWithFields(logrus.Fields{"log_interval_ms": c.Simulation.LogIntervalMs}, "Negative log interval, disabling periodic snapshots")
		c.Simulation.LogIntervalMs = 0
	}
}

func normalizeTable(name string, tc *core.TableConfig) {
	warn := func(field string, from, to interface{}, msg string) {
		logging.WarnWithFields(logrus.Fields{"table": name, field: from, "using": to}, "%s", msg)
	}

	if tc.NumStages < 1 {
		warn("num_stages", tc.NumStages, 1, "Table needs at least one stage")
		tc.NumStages = 1
	}
	if tc.MaxSize < tc.NumStages {
		warn("max_size", tc.MaxSize, tc.NumStages, "Table needs at least one slot per stage")
		tc.MaxSize = tc.NumStages
	}
	if rem := tc.MaxSize % tc.NumStages; rem != 0 {
		warn("max_size", tc.MaxSize, tc.MaxSize-rem, "Table size is not a multiple of the stage count")
		tc.MaxSize -= rem
	}
	if tc.Recirculations < 0 {
		warn("recirculations", tc.Recirculations, 0, "Negative recirculation count")
		tc.Recirculations = 0
	}
	if !tc.EvictionStage.Valid() {
		warn("eviction_stage", int(tc.EvictionStage), core.EvictAtStart.String(), "Invalid eviction stage")
		tc.EvictionStage = core.EvictAtStart
	}
	if tc.EntryTimeoutMs != nil && *tc.EntryTimeoutMs < 0 {
		warn("entry_timeout_ms", *tc.EntryTimeoutMs, "none", "Negative entry timeout")
		tc.EntryTimeoutMs = nil
	}
}

// Validate validates the configuration. It reports the errors Normalize
// cannot correct.
func (c *Config) Validate() error {
	if len(c.Simulation.Monitored.Include) == 0 {
		return fmt.Errorf("monitored network cannot be empty")
	}
	if _, err := sim.ParseNetwork(c.Simulation.Monitored.Include, c.Simulation.Monitored.Exclude); err != nil {
		return fmt.Errorf("invalid monitored network: %w", err)
	}

	// Validate Logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// Sim resolves the configuration into simulation settings.
func (c *Config) Sim() (sim.Config, error) {
	network, err := sim.ParseNetwork(c.Simulation.Monitored.Include, c.Simulation.Monitored.Exclude)
	if err != nil {
		return sim.Config{}, err
	}
	out := sim.Config{
		FlowTable:    c.FlowTable,
		PacketTable:  c.PacketTable,
		Network:      network,
		LogInterval:  time.Duration(c.Simulation.LogIntervalMs) * time.Millisecond,
		SamplingRate: c.Simulation.SamplingRate,
	}
	if c.Simulation.EnableApprox {
		aft := c.ApproxFlowTable
		out.ApproxFlowTable = &aft
	}
	return out, nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if err := logging.SetFormat(c.Logging.Format); err != nil {
		return err
	}

	// Enable file logging if configured
	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
			c.Logging.Quiet,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
