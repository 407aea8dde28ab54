package mesh

import "errors"

var (
	// Ingress conditions. None of them is fatal; each is counted in Stats.
	ErrUnknownSender  = errors.New("mesh: unknown sender")
	ErrReservedSlot   = errors.New("mesh: audio sample addressed to the vibration slot")
	ErrNotInitialized = errors.New("mesh: not initialized")
	ErrTopology       = errors.New("mesh: topology error")

	// Slot table construction.
	ErrReservedAssignment = errors.New("mesh: sender assigned to the reserved vibration slot")
	ErrDuplicateSlot      = errors.New("mesh: slot assigned to more than one sender")
	ErrSlotRange          = errors.New("mesh: slot out of range")
)
