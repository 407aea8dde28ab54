package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
)

// VibrationSink receives vibration readings. *mesh.Mesh implements it.
type VibrationSink interface {
	SetVibration(sample mesh.Sample) error
}

// Feeder polls a Source and writes vibration readings into the mesh. A
// failed poll writes nothing, so the slot keeps whatever the boundary seeded.
type Feeder struct {
	src  Source
	sink VibrationSink

	mu   sync.Mutex
	last Reading // latest vibration and battery values, merged
}

// NewFeeder creates a feeder.
func NewFeeder(src Source, sink VibrationSink) *Feeder {
	return &Feeder{src: src, sink: sink}
}

// Run polls every period until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Poll(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("sensor poll failed", "error", err)
			}
		}
	}
}

// Poll reads the source once and applies the reading.
func (f *Feeder) Poll(ctx context.Context) error {
	r, err := f.src.Read(ctx)
	switch {
	case errors.Is(err, ErrNoData):
		metrics.SensorReadingsTotal.WithLabelValues("empty").Inc()
		return nil
	case err != nil:
		metrics.SensorReadingsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SensorReadingsTotal.WithLabelValues("ok").Inc()

	if r.HasVibration {
		if err := f.sink.SetVibration(r.Vibration); err != nil {
			return err
		}
	}
	if r.HasBattery {
		metrics.BatteryPercent.Set(float64(r.BatteryPercent))
	}

	f.mu.Lock()
	if r.HasVibration {
		f.last.HasVibration = true
		f.last.Vibration = r.Vibration
	}
	if r.HasBattery {
		f.last.HasBattery = true
		f.last.BatteryMillivolts = r.BatteryMillivolts
		f.last.BatteryPercent = r.BatteryPercent
		f.last.Charging = r.Charging
	}
	f.mu.Unlock()
	return nil
}

// Last returns the most recent vibration and battery values seen.
func (f *Feeder) Last() Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
