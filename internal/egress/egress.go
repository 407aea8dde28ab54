// Package egress sends each published frame to its downstream consumers.
package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
)

// Transmitter delivers published frames.
type Transmitter interface {
	Name() string
	Transmit(ctx context.Context, seq uint64, f mesh.Frame) error
	Close() error
}

// Fanout sends every frame to all of its transmitters concurrently.
type Fanout struct {
	ts []Transmitter
}

// NewFanout creates a fanout over ts.
func NewFanout(ts ...Transmitter) *Fanout {
	return &Fanout{ts: ts}
}

// Len returns the number of transmitters.
func (f *Fanout) Len() int { return len(f.ts) }

// Name implements Transmitter.
func (f *Fanout) Name() string { return "fanout" }

// Transmit sends the frame to every transmitter and joins their errors.
// One failing transmitter does not stop the others.
func (f *Fanout) Transmit(ctx context.Context, seq uint64, frame mesh.Frame) error {
	switch len(f.ts) {
	case 0:
		return nil
	case 1:
		return transmit(ctx, f.ts[0], seq, frame)
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, t := range f.ts {
		t := t
		p.Go(func(ctx context.Context) error {
			return transmit(ctx, t, seq, frame)
		})
	}
	return p.Wait()
}

// Close closes every transmitter.
func (f *Fanout) Close() error {
	var errs []error
	for _, t := range f.ts {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func transmit(ctx context.Context, t Transmitter, seq uint64, frame mesh.Frame) error {
	if err := t.Transmit(ctx, seq, frame); err != nil {
		metrics.EgressErrorsTotal.WithLabelValues(t.Name()).Inc()
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	metrics.EgressFramesTotal.WithLabelValues(t.Name()).Inc()
	return nil
}

// Build creates the transmitters enabled in cfg. On error, transmitters
// already opened are closed.
func Build(cfg config.EgressConfig, node config.NodeConfig, vibration bool) (*Fanout, error) {
	var ts []Transmitter

	if cfg.UDP.Enabled {
		u, err := NewUDPTransmitter(node.ID, cfg.UDP.Destinations, vibration)
		if err != nil {
			return nil, err
		}
		ts = append(ts, u)
	}

	if cfg.Kafka.Enabled {
		k, err := NewKafkaTransmitter(cfg.Kafka, node)
		if err != nil {
			_ = NewFanout(ts...).Close()
			return nil, err
		}
		ts = append(ts, k)
	}

	if len(ts) == 0 {
		slog.Warn("no egress transmitter enabled, published frames stay local")
	}
	return NewFanout(ts...), nil
}
