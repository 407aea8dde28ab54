// Package sensor reads the vibration accelerometer and battery gauge and
// feeds the reserved vibration slot.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
)

// ErrNoData is returned when a poll produced no reading.
var ErrNoData = errors.New("sensor: no data")

// Reading is one poll of the sensor bridge. A reading may carry vibration,
// battery status or both.
type Reading struct {
	HasVibration bool
	Vibration    mesh.Sample // acceleration magnitude, mg

	HasBattery        bool
	BatteryMillivolts uint16
	BatteryPercent    uint8
	Charging          bool
}

// Source produces sensor readings.
type Source interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// Magnitude returns the acceleration vector length in mg, rounded.
func Magnitude(x, y, z int16) mesh.Sample {
	fx, fy, fz := float64(x), float64(y), float64(z)
	return mesh.Sample(math.Round(math.Sqrt(fx*fx + fy*fy + fz*fz)))
}

// Battery voltage window mapped linearly onto 0-100 %.
const (
	batteryEmptyMillivolts = 3300
	batteryFullMillivolts  = 4200
)

// BatteryPercent maps a battery voltage to a state of charge, clamped to
// 0-100 and truncated.
func BatteryPercent(mv uint16) uint8 {
	switch {
	case mv <= batteryEmptyMillivolts:
		return 0
	case mv >= batteryFullMillivolts:
		return 100
	default:
		return uint8(uint32(mv-batteryEmptyMillivolts) * 100 / (batteryFullMillivolts - batteryEmptyMillivolts))
	}
}

// Open creates the source selected by cfg, or nil for type "none".
func Open(cfg config.SensorConfig) (Source, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "serial":
		s, err := OpenSerial(cfg.Serial)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "simulator":
		return NewSimulator(cfg.Simulator), nil
	default:
		return nil, fmt.Errorf("unsupported sensor type: %s", cfg.Type)
	}
}
