package mesh

import "sync/atomic"

// Stats is a point-in-time copy of the mesh counters.
//
// Counters are cumulative for the lifetime of the Mesh; Init does not reset
// them so that delta-based exporters stay monotonic.
type Stats struct {
	Accepted            uint64
	UnknownSender       uint64
	ReservedViolation   uint64
	Uninitialized       uint64
	TopologyErrors      uint64
	VibrationWrites     uint64
	Boundaries          uint64
	BoundariesCoalesced uint64
}

// Dropped returns the number of ingress samples that never reached a frame.
func (s Stats) Dropped() uint64 {
	return s.UnknownSender + s.ReservedViolation + s.Uninitialized
}

type counters struct {
	accepted            atomic.Uint64
	unknownSender       atomic.Uint64
	reservedViolation   atomic.Uint64
	uninitialized       atomic.Uint64
	topologyErrors      atomic.Uint64
	vibrationWrites     atomic.Uint64
	boundaries          atomic.Uint64
	boundariesCoalesced atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:            c.accepted.Load(),
		UnknownSender:       c.unknownSender.Load(),
		ReservedViolation:   c.reservedViolation.Load(),
		Uninitialized:       c.uninitialized.Load(),
		TopologyErrors:      c.topologyErrors.Load(),
		VibrationWrites:     c.vibrationWrites.Load(),
		Boundaries:          c.boundaries.Load(),
		BoundariesCoalesced: c.boundariesCoalesced.Load(),
	}
}
