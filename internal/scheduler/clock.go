// Package scheduler drives the TDM cycle: boundary, then transmit of the
// frame just published.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"serene.dev/tdmesh/internal/egress"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
)

// Engine is the part of the mesh engine the clock drives.
type Engine interface {
	Boundary() bool
	Published() (mesh.Frame, uint64)
}

type published struct {
	seq   uint64
	frame mesh.Frame
}

// Stats are the clock counters.
type Stats struct {
	Ticks          uint64
	Published      uint64
	Skipped        uint64 // frames not handed to egress because it was busy
	TransmitErrors uint64
}

// Clock fires a boundary every period and hands each published frame to
// a transmitter. Transmits run on their own goroutine so a slow transmitter
// never delays the next boundary; if it is still busy when the next frame
// is ready, that frame is skipped.
type Clock struct {
	engine Engine
	tx     egress.Transmitter
	period time.Duration

	out chan published

	ticks          atomic.Uint64
	published      atomic.Uint64
	skipped        atomic.Uint64
	transmitErrors atomic.Uint64
}

// New creates a clock. tx may be nil, in which case frames stay local.
func New(engine Engine, tx egress.Transmitter, period time.Duration) *Clock {
	return &Clock{
		engine: engine,
		tx:     tx,
		period: period,
		out:    make(chan published, 1),
	}
}

// Run ticks until ctx is cancelled and waits for the transmit goroutine.
func (c *Clock) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if c.tx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.transmitLoop(ctx)
		}()
	}

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	slog.Info("cycle clock started", "period", c.period)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("cycle clock stopped",
				"ticks", c.ticks.Load(),
				"skipped", c.skipped.Load(),
			)
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs one boundary and queues the published frame for transmit.
func (c *Clock) Tick() {
	c.ticks.Add(1)
	start := time.Now()

	if !c.engine.Boundary() {
		return
	}
	frame, seq := c.engine.Published()
	c.published.Add(1)
	metrics.BoundaryLatencySeconds.Observe(time.Since(start).Seconds())

	if c.tx == nil {
		return
	}
	select {
	case c.out <- published{seq: seq, frame: frame}:
	default:
		c.skipped.Add(1)
		metrics.EgressSkippedTotal.Inc()
	}
}

// Stats returns a snapshot of the clock counters.
func (c *Clock) Stats() Stats {
	return Stats{
		Ticks:          c.ticks.Load(),
		Published:      c.published.Load(),
		Skipped:        c.skipped.Load(),
		TransmitErrors: c.transmitErrors.Load(),
	}
}

func (c *Clock) transmitLoop(ctx context.Context) {
	var lastWarn time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.out:
			tctx, cancel := context.WithTimeout(ctx, c.period)
			err := c.tx.Transmit(tctx, p.seq, p.frame)
			cancel()
			if err == nil {
				continue
			}
			c.transmitErrors.Add(1)
			if time.Since(lastWarn) >= time.Second {
				lastWarn = time.Now()
				slog.Warn("frame transmit failed", "seq", p.seq, "error", err,
					"errors_total", c.transmitErrors.Load())
			}
		}
	}
}
