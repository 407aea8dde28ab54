// Package mesh implements the TDM slot-scheduling and sample-aggregation engine.
//
// A Mesh owns two frame buffers. Ingress (ProcessIncomingAudio, SetVibration)
// writes into the active one; the cycle boundary (Boundary) exchanges the
// roles and egress (GetTransmitBuffer, Published) copies the published one.
//
// Ingress never blocks, allocates or takes a lock, so it is safe to call
// from the goroutine that drains the receive socket at sample rate. The
// boundary is the only critical section; a boundary that fires while
// another one is still in progress is coalesced.
package mesh

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// VibrationPolicy decides what the reserved slot holds at the start of a cycle.
type VibrationPolicy int

const (
	// VibrationZero clears the reserved slot at every boundary.
	VibrationZero VibrationPolicy = iota
	// VibrationHold seeds the reserved slot with the last reading.
	VibrationHold
)

func (p VibrationPolicy) String() string {
	switch p {
	case VibrationZero:
		return "zero"
	case VibrationHold:
		return "hold"
	default:
		return fmt.Sprintf("VibrationPolicy(%d)", int(p))
	}
}

// ParseVibrationPolicy parses "zero" or "hold".
func ParseVibrationPolicy(s string) (VibrationPolicy, error) {
	switch strings.ToLower(s) {
	case "", "zero":
		return VibrationZero, nil
	case "hold":
		return VibrationHold, nil
	default:
		return VibrationZero, fmt.Errorf("unknown vibration policy: %q (must be zero or hold)", s)
	}
}

// Config contains mesh engine configuration.
type Config struct {
	VibrationPolicy VibrationPolicy
	// UnknownEscalation is the number of consecutive unknown-sender samples
	// after which ingress reports ErrTopology. 0 disables escalation.
	UnknownEscalation uint32
}

// errUnknownTopology is preallocated so the ingress path stays allocation free.
var errUnknownTopology = fmt.Errorf("%w: %w", ErrTopology, ErrUnknownSender)

// Mesh is the per-device TDM state. The zero value is not usable; create one
// with New and call Init before feeding samples.
type Mesh struct {
	cfg Config

	bufs      [2]buffer
	active    atomic.Uint32 // index of the buffer being filled
	published atomic.Uint32 // index of the last completed buffer

	// gen is odd while the standby buffer is being recycled or reset.
	gen   atomic.Uint64
	cycle atomic.Uint64 // frames published since Init

	table   atomic.Pointer[SlotTable]
	resolve func(SenderID) (Slot, bool) // overrides table lookups in tests

	swapMu sync.Mutex

	unknownStreak atomic.Uint32
	lastVibration atomic.Int32

	stats counters
}

// New creates an uninitialised Mesh.
func New(cfg Config) *Mesh {
	return &Mesh{cfg: cfg}
}

// Init zeroes both frames and installs the slot table. It must be called
// before any ingress or egress activity; calling it again resets the frame
// state. Init is serialised against Boundary but is not meant to overlap
// with ingress.
func (m *Mesh) Init(table *SlotTable) {
	if table == nil {
		table = &SlotTable{}
	}

	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.gen.Add(1)
	for i := range m.bufs {
		m.bufs[i].reset(0)
	}
	m.active.Store(0)
	m.published.Store(1)
	m.cycle.Store(0)
	m.unknownStreak.Store(0)
	m.lastVibration.Store(0)
	m.table.Store(table)
	m.gen.Add(1)
}

// Initialized reports whether Init has been called.
func (m *Mesh) Initialized() bool {
	return m.table.Load() != nil
}

// Table returns the installed slot table, or nil before Init.
func (m *Mesh) Table() *SlotTable {
	return m.table.Load()
}

// ProcessIncomingAudio stores sample in the sender's slot of the active
// frame. A later sample for the same slot in the same cycle overwrites the
// earlier one. Rejected samples leave frame memory untouched and are counted.
func (m *Mesh) ProcessIncomingAudio(sender SenderID, sample Sample) error {
	t := m.table.Load()
	if t == nil {
		m.stats.uninitialized.Add(1)
		return ErrNotInitialized
	}

	slot, ok := m.lookup(t, sender)
	if !ok || slot < 0 || slot >= TDMSlots {
		return m.unknownSender()
	}
	if slot == ReservedSlot {
		m.stats.reservedViolation.Add(1)
		return ErrReservedSlot
	}

	m.unknownStreak.Store(0)
	m.store(slot, sample)
	m.stats.accepted.Add(1)
	return nil
}

// SetVibration writes the sensor reading into the reserved slot of the
// active frame, last write wins. If the sensor misses a cycle the slot keeps
// the value seeded at the boundary.
func (m *Mesh) SetVibration(sample Sample) error {
	if m.table.Load() == nil {
		m.stats.uninitialized.Add(1)
		return ErrNotInitialized
	}
	m.lastVibration.Store(int32(sample))
	m.store(ReservedSlot, sample)
	m.stats.vibrationWrites.Add(1)
	return nil
}

// GetTransmitBuffer returns a copy of the most recently published frame.
// Before the first boundary the frame is all zero.
func (m *Mesh) GetTransmitBuffer() Frame {
	f, _ := m.Published()
	return f
}

// Published returns the most recently published frame and its cycle number
// (1 for the first published frame, 0 before any boundary).
func (m *Mesh) Published() (Frame, uint64) {
	var f Frame
	if m.table.Load() == nil {
		return f, 0
	}
	for {
		g := m.gen.Load()
		if g&1 == 1 {
			runtime.Gosched()
			continue
		}
		m.bufs[m.published.Load()].load(&f)
		cycle := m.cycle.Load()
		if m.gen.Load() == g {
			return f, cycle
		}
	}
}

// Boundary completes the active frame and starts the next cycle. It returns
// false if the mesh is not initialised or another boundary is in progress.
func (m *Mesh) Boundary() bool {
	if m.table.Load() == nil {
		return false
	}
	if !m.swapMu.TryLock() {
		m.stats.boundariesCoalesced.Add(1)
		return false
	}
	defer m.swapMu.Unlock()

	cur := m.active.Load()
	next := cur ^ 1

	m.gen.Add(1)
	m.bufs[next].reset(m.seed())
	m.active.Store(next)

	// Stores that passed their active-index check before the flip may still
	// be landing in the old buffer.
	old := &m.bufs[cur]
	for old.writers.Load() != 0 {
		runtime.Gosched()
	}

	m.published.Store(cur)
	m.cycle.Add(1)
	m.gen.Add(1)

	m.stats.boundaries.Add(1)
	return true
}

// Cycle returns the number of frames published since Init.
func (m *Mesh) Cycle() uint64 {
	return m.cycle.Load()
}

// Stats returns a snapshot of the ingress and boundary counters.
func (m *Mesh) Stats() Stats {
	return m.stats.snapshot()
}

// Config returns the engine configuration.
func (m *Mesh) Config() Config {
	return m.cfg
}

func (m *Mesh) lookup(t *SlotTable, sender SenderID) (Slot, bool) {
	if m.resolve != nil {
		return m.resolve(sender)
	}
	return t.Lookup(sender)
}

func (m *Mesh) unknownSender() error {
	m.stats.unknownSender.Add(1)
	n := m.unknownStreak.Add(1)
	limit := m.cfg.UnknownEscalation
	if limit == 0 || n < limit {
		return ErrUnknownSender
	}
	if n == limit {
		m.stats.topologyErrors.Add(1)
	}
	return errUnknownTopology
}

// store writes into whichever buffer is active, retrying if a boundary flips
// the roles between choosing the buffer and registering as a writer.
func (m *Mesh) store(slot Slot, v Sample) {
	for {
		idx := m.active.Load()
		b := &m.bufs[idx]
		b.writers.Add(1)
		if m.active.Load() == idx {
			b.samples[slot].Store(int32(v))
			b.writers.Add(-1)
			return
		}
		b.writers.Add(-1)
	}
}

func (m *Mesh) seed() Sample {
	if m.cfg.VibrationPolicy == VibrationHold {
		return Sample(m.lastVibration.Load())
	}
	return 0
}
