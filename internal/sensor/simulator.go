package sensor

import (
	"context"
	"math"
	"sync"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
)

// Simulator is a deterministic source for lab setups without a sensor
// bridge: vibration follows a sine of the configured amplitude and period,
// and the battery drains by one millivolt per period from full.
type Simulator struct {
	amplitude float64
	period    int

	mu   sync.Mutex
	step int
	mv   uint16
}

// NewSimulator creates a simulator.
func NewSimulator(cfg config.SimulatorConfig) *Simulator {
	period := cfg.PeriodCycles
	if period <= 0 {
		period = 50
	}
	return &Simulator{
		amplitude: float64(cfg.Amplitude),
		period:    period,
		mv:        batteryFullMillivolts,
	}
}

// Read returns the next simulated reading.
func (s *Simulator) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phase := 2 * math.Pi * float64(s.step%s.period) / float64(s.period)
	r := Reading{
		HasVibration: true,
		Vibration:    mesh.Sample(math.Round(s.amplitude * math.Sin(phase))),
	}
	if s.step%s.period == 0 {
		if s.step > 0 && s.mv > batteryEmptyMillivolts {
			s.mv--
		}
		r.HasBattery = true
		r.BatteryMillivolts = s.mv
		r.BatteryPercent = BatteryPercent(s.mv)
	}
	s.step++
	return r, nil
}

// Close implements Source.
func (s *Simulator) Close() error { return nil }
