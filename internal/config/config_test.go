package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene.dev/tdmesh/internal/mesh"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
tdmesh:
  node:
    id: 3
    hostname: "node-3"
  mesh:
    cycle_period: "10ms"
    vibration_policy: "hold"
    unknown_escalation: 8
    slots:
      - sender: 1
        slot: 0
      - sender: 2
        slot: 1
  egress:
    udp:
      enabled: true
      destinations: ["10.0.0.2:5005"]
  log:
    level: "debug"
    format: "text"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), cfg.Node.ID)
	assert.Equal(t, "node-3", cfg.Node.Hostname)
	assert.Equal(t, 10*time.Millisecond, cfg.CyclePeriod())
	assert.Equal(t, mesh.Config{VibrationPolicy: mesh.VibrationHold, UnknownEscalation: 8}, cfg.Engine())
	assert.Equal(t, []string{"10.0.0.2:5005"}, cfg.Egress.UDP.Destinations)
	assert.Equal(t, "debug", cfg.Log.Level)

	table, err := cfg.SlotTable()
	require.NoError(t, err)
	slot, ok := table.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, mesh.Slot(1), slot)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
tdmesh:
  node:
    id: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.CyclePeriod())
	assert.Equal(t, "zero", cfg.Mesh.VibrationPolicy)
	assert.Equal(t, 32, cfg.Mesh.UnknownEscalation)
	assert.Equal(t, ":5004", cfg.Ingress.Listen)
	assert.Equal(t, "none", cfg.Sensor.Type)
	assert.Equal(t, "100ms", cfg.Sensor.Serial.ReadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NotEmpty(t, cfg.Node.Hostname)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
tdmesh:
  log:
    level: "info"
`)
	t.Setenv("TDMESH_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "log level",
			content: `
tdmesh:
  log:
    level: "loud"
`,
			wantErr: "invalid log level",
		},
		{
			name: "reserved slot",
			content: `
tdmesh:
  mesh:
    slots:
      - sender: 1
        slot: 15
`,
			wantErr: "reserved vibration slot",
		},
		{
			name: "duplicate slot",
			content: `
tdmesh:
  mesh:
    slots:
      - sender: 1
        slot: 2
      - sender: 4
        slot: 2
`,
			wantErr: "more than one sender",
		},
		{
			name: "duplicate sender",
			content: `
tdmesh:
  mesh:
    slots:
      - sender: 1
        slot: 2
      - sender: 1
        slot: 3
`,
			wantErr: "listed more than once",
		},
		{
			name: "cycle period",
			content: `
tdmesh:
  mesh:
    cycle_period: "soon"
`,
			wantErr: "mesh.cycle_period",
		},
		{
			name: "vibration policy",
			content: `
tdmesh:
  mesh:
    vibration_policy: "latch"
`,
			wantErr: "vibration_policy",
		},
		{
			name: "negative escalation",
			content: `
tdmesh:
  mesh:
    unknown_escalation: -1
`,
			wantErr: "mesh.unknown_escalation",
		},
		{
			name: "escalation above uint32",
			content: `
tdmesh:
  mesh:
    unknown_escalation: 4294967296
`,
			wantErr: "mesh.unknown_escalation",
		},
		{
			name: "udp without destinations",
			content: `
tdmesh:
  egress:
    udp:
      enabled: true
`,
			wantErr: "egress.udp.destinations",
		},
		{
			name: "kafka without brokers",
			content: `
tdmesh:
  egress:
    kafka:
      enabled: true
`,
			wantErr: "egress.kafka.brokers",
		},
		{
			name: "serial without port",
			content: `
tdmesh:
  sensor:
    type: serial
`,
			wantErr: "sensor.serial.port",
		},
		{
			name: "unknown sensor",
			content: `
tdmesh:
  sensor:
    type: lidar
`,
			wantErr: "unsupported sensor.type",
		},
		{
			name: "influx without url",
			content: `
tdmesh:
  telemetry:
    influx:
      enabled: true
`,
			wantErr: "telemetry.influx.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEscalationUpperBound(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tdmesh:
  mesh:
    unknown_escalation: 4294967295
`))
	require.NoError(t, err)
	assert.Equal(t, uint32(4294967295), cfg.Engine().UnknownEscalation)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("-1s", time.Second))
}
