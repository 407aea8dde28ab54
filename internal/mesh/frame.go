package mesh

import "sync/atomic"

// Frame is one full TDM cycle: one sample per slot, ReservedSlot last.
type Frame [TDMSlots]Sample

// Vibration returns the reading carried in the reserved slot.
func (f Frame) Vibration() Sample { return f[ReservedSlot] }

// Audio returns the audio slots, in slot order.
func (f Frame) Audio() []Sample { return f[:ReservedSlot] }

// buffer is one half of the double-buffered frame.
//
// Samples are atomics so that a reader copying the published buffer and the
// boundary recycling it never race at the memory-model level; torn copies
// are ruled out separately by the publication sequence in Mesh.
type buffer struct {
	samples [TDMSlots]atomic.Int32
	// writers counts ingress stores that may still land in this buffer.
	writers atomic.Int32
}

// reset zeroes the audio slots and seeds the reserved slot.
func (b *buffer) reset(reserved Sample) {
	for i := Slot(0); i < ReservedSlot; i++ {
		b.samples[i].Store(0)
	}
	b.samples[ReservedSlot].Store(int32(reserved))
}

func (b *buffer) load(f *Frame) {
	for i := range f {
		f[i] = Sample(b.samples[i].Load())
	}
}
