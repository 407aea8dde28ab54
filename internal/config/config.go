// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"serene.dev/tdmesh/internal/mesh"
)

// GlobalConfig represents the top-level node configuration.
// Maps to the `tdmesh:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node"`
	Control   ControlConfig   `mapstructure:"control"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	Ingress   IngressConfig   `mapstructure:"ingress"`
	Egress    EgressConfig    `mapstructure:"egress"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	ID       uint32            `mapstructure:"id"`       // Sender id this node uses on the mesh
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Mesh Engine ───

// MeshConfig configures the TDM engine and the topology.
type MeshConfig struct {
	CyclePeriod       string       `mapstructure:"cycle_period"`       // e.g. "20ms"
	VibrationPolicy   string       `mapstructure:"vibration_policy"`   // zero | hold
	UnknownEscalation int          `mapstructure:"unknown_escalation"` // 0 = never escalate
	Slots             []SlotConfig `mapstructure:"slots"`
}

// SlotConfig assigns one sender to one TDM slot.
type SlotConfig struct {
	Sender uint32 `mapstructure:"sender"`
	Slot   int    `mapstructure:"slot"`
}

// ─── Ingress / Egress ───

// IngressConfig configures the sample receive socket.
type IngressConfig struct {
	Listen          string `mapstructure:"listen"`
	ReadBufferBytes int    `mapstructure:"read_buffer_bytes"`
	AcceptVibration bool   `mapstructure:"accept_vibration"` // allow networked vibration sensors
	WarnInterval    string `mapstructure:"warn_interval"`    // rate limit for rejected-sender warnings
}

// EgressConfig configures where the published frame goes every cycle.
type EgressConfig struct {
	UDP   UDPEgressConfig   `mapstructure:"udp"`
	Kafka KafkaEgressConfig `mapstructure:"kafka"`
}

// UDPEgressConfig sends frame datagrams to fixed peers.
type UDPEgressConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Destinations []string `mapstructure:"destinations"`
}

// KafkaEgressConfig exports frames as JSON records.
type KafkaEgressConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchSize    int      `mapstructure:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout"`
	Compression  string   `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
}

// ─── Sensor ───

// SensorConfig selects the vibration/battery source.
type SensorConfig struct {
	Type      string          `mapstructure:"type"` // none | serial | simulator
	Serial    SerialConfig    `mapstructure:"serial"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// SerialConfig configures the sensor bridge serial port.
type SerialConfig struct {
	Port        string `mapstructure:"port"`
	BaudRate    int    `mapstructure:"baud_rate"`
	ReadTimeout string `mapstructure:"read_timeout"` // rounded up to 100ms steps by the driver
}

// SimulatorConfig configures the synthetic vibration source.
type SimulatorConfig struct {
	Amplitude    int `mapstructure:"amplitude"`
	PeriodCycles int `mapstructure:"period_cycles"`
}

// ─── Telemetry ───

// TelemetryConfig configures time-series export.
type TelemetryConfig struct {
	Influx InfluxConfig `mapstructure:"influx"`
}

// InfluxConfig configures the InfluxDB v2 writer.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket"`
	Interval string `mapstructure:"interval"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"` // e.g. "5s"
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

type configRoot struct {
	TDMesh GlobalConfig `mapstructure:"tdmesh"`
}

// Load loads configuration from file.
// The YAML file uses `tdmesh:` as root key; env vars use the TDMESH_ prefix
// (e.g., TDMESH_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// key "tdmesh.log.level" → env "TDMESH_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.TDMesh

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tdmesh.control.pid_file", "")

	v.SetDefault("tdmesh.mesh.cycle_period", "20ms")
	v.SetDefault("tdmesh.mesh.vibration_policy", "zero")
	v.SetDefault("tdmesh.mesh.unknown_escalation", 32)

	v.SetDefault("tdmesh.ingress.listen", ":5004")
	v.SetDefault("tdmesh.ingress.read_buffer_bytes", 1<<20)
	v.SetDefault("tdmesh.ingress.accept_vibration", false)
	v.SetDefault("tdmesh.ingress.warn_interval", "10s")

	v.SetDefault("tdmesh.egress.udp.enabled", false)
	v.SetDefault("tdmesh.egress.kafka.enabled", false)
	v.SetDefault("tdmesh.egress.kafka.topic", "tdmesh-frames")
	v.SetDefault("tdmesh.egress.kafka.batch_size", 100)
	v.SetDefault("tdmesh.egress.kafka.batch_timeout", "100ms")
	v.SetDefault("tdmesh.egress.kafka.compression", "snappy")

	v.SetDefault("tdmesh.sensor.type", "none")
	v.SetDefault("tdmesh.sensor.serial.baud_rate", 115200)
	v.SetDefault("tdmesh.sensor.serial.read_timeout", "100ms")
	v.SetDefault("tdmesh.sensor.simulator.amplitude", 1000)
	v.SetDefault("tdmesh.sensor.simulator.period_cycles", 50)

	v.SetDefault("tdmesh.telemetry.influx.enabled", false)
	v.SetDefault("tdmesh.telemetry.influx.interval", "10s")

	v.SetDefault("tdmesh.log.level", "info")
	v.SetDefault("tdmesh.log.format", "json")
	v.SetDefault("tdmesh.log.outputs.file.enabled", false)
	v.SetDefault("tdmesh.log.outputs.file.path", "/var/log/tdmesh/tdmesh.log")
	v.SetDefault("tdmesh.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tdmesh.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tdmesh.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tdmesh.log.outputs.file.rotation.compress", true)

	v.SetDefault("tdmesh.metrics.enabled", true)
	v.SetDefault("tdmesh.metrics.listen", ":9092")
	v.SetDefault("tdmesh.metrics.path", "/metrics")
	v.SetDefault("tdmesh.metrics.collect_interval", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Mesh ──
	period, err := time.ParseDuration(cfg.Mesh.CyclePeriod)
	if err != nil {
		return fmt.Errorf("invalid mesh.cycle_period %q: %w", cfg.Mesh.CyclePeriod, err)
	}
	if period <= 0 {
		return fmt.Errorf("mesh.cycle_period must be positive, got %s", period)
	}
	if _, err := mesh.ParseVibrationPolicy(cfg.Mesh.VibrationPolicy); err != nil {
		return fmt.Errorf("invalid mesh.vibration_policy: %w", err)
	}
	if cfg.Mesh.UnknownEscalation < 0 || int64(cfg.Mesh.UnknownEscalation) > math.MaxUint32 {
		return fmt.Errorf("mesh.unknown_escalation must be in [0, %d], got %d", uint32(math.MaxUint32), cfg.Mesh.UnknownEscalation)
	}
	if _, err := cfg.SlotTable(); err != nil {
		return fmt.Errorf("invalid mesh.slots: %w", err)
	}

	// ── Durations ──
	for key, val := range map[string]string{
		"ingress.warn_interval":      cfg.Ingress.WarnInterval,
		"sensor.serial.read_timeout": cfg.Sensor.Serial.ReadTimeout,
		"metrics.collect_interval":   cfg.Metrics.CollectInterval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
	}

	// ── Egress ──
	if cfg.Egress.UDP.Enabled && len(cfg.Egress.UDP.Destinations) == 0 {
		return fmt.Errorf("egress.udp.destinations is required when egress.udp.enabled=true")
	}
	if cfg.Egress.Kafka.Enabled {
		if len(cfg.Egress.Kafka.Brokers) == 0 {
			return fmt.Errorf("egress.kafka.brokers is required when egress.kafka.enabled=true")
		}
		if cfg.Egress.Kafka.Topic == "" {
			return fmt.Errorf("egress.kafka.topic is required when egress.kafka.enabled=true")
		}
		if _, err := time.ParseDuration(cfg.Egress.Kafka.BatchTimeout); err != nil {
			return fmt.Errorf("invalid egress.kafka.batch_timeout %q: %w", cfg.Egress.Kafka.BatchTimeout, err)
		}
	}

	// ── Sensor ──
	switch cfg.Sensor.Type {
	case "none", "simulator":
	case "serial":
		if cfg.Sensor.Serial.Port == "" {
			return fmt.Errorf("sensor.serial.port is required when sensor.type=serial")
		}
	default:
		return fmt.Errorf("unsupported sensor.type: %s (must be none/serial/simulator)", cfg.Sensor.Type)
	}

	// ── Telemetry ──
	if cfg.Telemetry.Influx.Enabled {
		if cfg.Telemetry.Influx.URL == "" || cfg.Telemetry.Influx.Bucket == "" {
			return fmt.Errorf("telemetry.influx.url and telemetry.influx.bucket are required when telemetry.influx.enabled=true")
		}
		if _, err := time.ParseDuration(cfg.Telemetry.Influx.Interval); err != nil {
			return fmt.Errorf("invalid telemetry.influx.interval %q: %w", cfg.Telemetry.Influx.Interval, err)
		}
	}

	return nil
}

// SlotTable builds the mesh slot table from mesh.slots.
func (cfg *GlobalConfig) SlotTable() (*mesh.SlotTable, error) {
	assignments := make(map[mesh.SenderID]mesh.Slot, len(cfg.Mesh.Slots))
	for _, s := range cfg.Mesh.Slots {
		id := mesh.SenderID(s.Sender)
		if _, dup := assignments[id]; dup {
			return nil, fmt.Errorf("sender %d listed more than once", s.Sender)
		}
		assignments[id] = mesh.Slot(s.Slot)
	}
	return mesh.NewSlotTable(assignments)
}

// Engine returns the mesh engine configuration.
func (cfg *GlobalConfig) Engine() mesh.Config {
	policy, _ := mesh.ParseVibrationPolicy(cfg.Mesh.VibrationPolicy)
	return mesh.Config{
		VibrationPolicy:   policy,
		UnknownEscalation: uint32(cfg.Mesh.UnknownEscalation),
	}
}

// CyclePeriod returns the parsed mesh.cycle_period.
func (cfg *GlobalConfig) CyclePeriod() time.Duration {
	return Duration(cfg.Mesh.CyclePeriod, 20*time.Millisecond)
}

// Duration parses a duration field, returning def for empty, invalid or
// non-positive values. Fields are validated at load time, so def only
// matters for configs built by hand.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
