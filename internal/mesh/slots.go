package mesh

import (
	"fmt"
	"sort"
)

const (
	// TDMSlots is the number of slots in one TDM frame.
	TDMSlots = 16
	// ReservedSlot carries the vibration magnitude instead of audio.
	ReservedSlot Slot = TDMSlots - 1
)

// SenderID identifies a mesh node.
type SenderID uint32

// Slot is a position within a TDM frame, in [0, TDMSlots).
type Slot int

// Sample is one PCM value, or the vibration reading in ReservedSlot.
type Sample int32

// Assignment binds one sender to one slot.
type Assignment struct {
	Sender SenderID `yaml:"sender"`
	Slot   Slot     `yaml:"slot"`
}

// SlotTable is the static sender→slot mapping that defines the mesh topology.
//
// Entries live in a fixed array sorted by sender so Lookup is a bounded
// binary search that never allocates. A SlotTable is immutable once built.
type SlotTable struct {
	entries [TDMSlots]Assignment
	n       int
}

// NewSlotTable validates assignments and builds a table.
func NewSlotTable(assignments map[SenderID]Slot) (*SlotTable, error) {
	if len(assignments) > TDMSlots-1 {
		return nil, fmt.Errorf("%w: %d senders for %d audio slots", ErrSlotRange, len(assignments), TDMSlots-1)
	}

	t := &SlotTable{}
	var owner [TDMSlots]SenderID
	var used [TDMSlots]bool
	for sender, slot := range assignments {
		if slot < 0 || slot >= TDMSlots {
			return nil, fmt.Errorf("%w: sender %d -> slot %d", ErrSlotRange, sender, slot)
		}
		if slot == ReservedSlot {
			return nil, fmt.Errorf("%w: sender %d", ErrReservedAssignment, sender)
		}
		if used[slot] {
			return nil, fmt.Errorf("%w: slot %d (senders %d and %d)", ErrDuplicateSlot, slot, owner[slot], sender)
		}
		used[slot] = true
		owner[slot] = sender
		t.entries[t.n] = Assignment{Sender: sender, Slot: slot}
		t.n++
	}

	sort.Slice(t.entries[:t.n], func(i, j int) bool {
		return t.entries[i].Sender < t.entries[j].Sender
	})
	return t, nil
}

// Lookup resolves a sender to its slot.
func (t *SlotTable) Lookup(sender SenderID) (Slot, bool) {
	lo, hi := 0, t.n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.entries[mid].Sender < sender {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < t.n && t.entries[lo].Sender == sender {
		return t.entries[lo].Slot, true
	}
	return 0, false
}

// Len returns the number of assigned senders.
func (t *SlotTable) Len() int { return t.n }

// Senders returns the assignments ordered by slot.
func (t *SlotTable) Senders() []Assignment {
	out := make([]Assignment, t.n)
	copy(out, t.entries[:t.n])
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
