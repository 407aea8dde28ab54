package metrics

import (
	"context"
	"sync"
	"time"

	"serene.dev/tdmesh/internal/mesh"
)

// StatsSource is the part of the mesh engine the collector reads.
type StatsSource interface {
	Stats() mesh.Stats
	Cycle() uint64
}

// Collector copies mesh counters into the Prometheus metrics. The engine keeps
// its own counters so the ingress path never touches a Prometheus vector.
type Collector struct {
	src StatsSource

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
	last     mesh.Stats
}

// NewCollector creates a collector that polls src every interval.
func NewCollector(src StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		src:      src,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// Run collects until ctx is cancelled, with a final collection on exit.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Collect()
			return
		case <-c.reset:
			ticker.Reset(c.Interval())
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Interval returns the current collection interval.
func (c *Collector) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetInterval changes the collection interval of a running collector.
func (c *Collector) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()

	select {
	case c.reset <- struct{}{}:
	default:
	}
}

// Collect adds the counter deltas since the previous call.
func (c *Collector) Collect() {
	st := c.src.Stats()

	c.mu.Lock()
	prev := c.last
	c.last = st
	c.mu.Unlock()

	SamplesTotal.WithLabelValues(ResultAccepted).Add(delta(st.Accepted, prev.Accepted))
	SamplesTotal.WithLabelValues(ResultUnknownSender).Add(delta(st.UnknownSender, prev.UnknownSender))
	SamplesTotal.WithLabelValues(ResultReservedViolation).Add(delta(st.ReservedViolation, prev.ReservedViolation))
	SamplesTotal.WithLabelValues(ResultUninitialized).Add(delta(st.Uninitialized, prev.Uninitialized))
	TopologyErrorsTotal.Add(delta(st.TopologyErrors, prev.TopologyErrors))
	VibrationWritesTotal.Add(delta(st.VibrationWrites, prev.VibrationWrites))
	BoundariesTotal.WithLabelValues("published").Add(delta(st.Boundaries, prev.Boundaries))
	BoundariesTotal.WithLabelValues("coalesced").Add(delta(st.BoundariesCoalesced, prev.BoundariesCoalesced))
	Cycle.Set(float64(c.src.Cycle()))
}

// delta treats a counter that went backwards as restarted from zero.
func delta(cur, prev uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}
