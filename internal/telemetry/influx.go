// Package telemetry exports engine and sensor state to InfluxDB.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/sensor"
)

// Measurement names.
const (
	MeasurementStats     = "mesh_stats"
	MeasurementVibration = "vibration"
	MeasurementBattery   = "battery"
)

// StatsSource is the part of the mesh engine the reporter reads.
type StatsSource interface {
	Stats() mesh.Stats
	Cycle() uint64
}

// ReadingSource returns the latest sensor values. *sensor.Feeder implements it.
type ReadingSource interface {
	Last() sensor.Reading
}

type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Reporter periodically writes mesh counters and sensor readings.
type Reporter struct {
	client   influxdb2.Client // nil when constructed with a custom writer
	writer   pointWriter
	interval time.Duration
	tags     map[string]string

	stats   StatsSource
	reading ReadingSource // may be nil
	now     func() time.Time
}

// NewReporter creates a reporter writing through the non-blocking write API.
// reading may be nil when no sensor is configured.
func NewReporter(cfg config.InfluxConfig, node config.NodeConfig, stats StatsSource, reading ReadingSource) *Reporter {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	go func() {
		for err := range writeAPI.Errors() {
			slog.Warn("influx write failed", "error", err)
		}
	}()

	r := newReporter(writeAPI, node, stats, reading, config.Duration(cfg.Interval, 10*time.Second))
	r.client = client
	slog.Info("influx reporter started", "url", cfg.URL, "bucket", cfg.Bucket, "interval", r.interval)
	return r
}

func newReporter(w pointWriter, node config.NodeConfig, stats StatsSource, reading ReadingSource, interval time.Duration) *Reporter {
	tags := map[string]string{
		"host": node.Hostname,
		"node": strconv.FormatUint(uint64(node.ID), 10),
	}
	for k, v := range node.Tags {
		tags[k] = v
	}
	return &Reporter{
		writer:   w,
		interval: interval,
		tags:     tags,
		stats:    stats,
		reading:  reading,
		now:      time.Now,
	}
}

// Run reports every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report writes one set of points.
func (r *Reporter) Report() {
	ts := r.now()
	st := r.stats.Stats()

	r.writer.WritePoint(influxdb2.NewPoint(MeasurementStats, r.tags, map[string]interface{}{
		"accepted":             st.Accepted,
		"unknown_sender":       st.UnknownSender,
		"reserved_violation":   st.ReservedViolation,
		"uninitialized":        st.Uninitialized,
		"topology_errors":      st.TopologyErrors,
		"vibration_writes":     st.VibrationWrites,
		"boundaries":           st.Boundaries,
		"boundaries_coalesced": st.BoundariesCoalesced,
		"cycle":                r.stats.Cycle(),
	}, ts))

	if r.reading == nil {
		return
	}
	last := r.reading.Last()
	if last.HasVibration {
		r.writer.WritePoint(influxdb2.NewPoint(MeasurementVibration, r.tags, map[string]interface{}{
			"magnitude": int32(last.Vibration),
		}, ts))
	}
	if last.HasBattery {
		r.writer.WritePoint(influxdb2.NewPoint(MeasurementBattery, r.tags, map[string]interface{}{
			"millivolts": last.BatteryMillivolts,
			"percent":    last.BatteryPercent,
			"charging":   last.Charging,
		}, ts))
	}
}

// Close flushes buffered points and closes the client.
func (r *Reporter) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}
