package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotTable(t *testing.T) {
	tests := []struct {
		name        string
		assignments map[SenderID]Slot
		wantErr     error
	}{
		{name: "empty", assignments: map[SenderID]Slot{}},
		{name: "two senders", assignments: map[SenderID]Slot{1: 0, 2: 1}},
		{name: "reserved slot", assignments: map[SenderID]Slot{1: ReservedSlot}, wantErr: ErrReservedAssignment},
		{name: "duplicate slot", assignments: map[SenderID]Slot{1: 4, 2: 4}, wantErr: ErrDuplicateSlot},
		{name: "negative slot", assignments: map[SenderID]Slot{1: -1}, wantErr: ErrSlotRange},
		{name: "slot past frame", assignments: map[SenderID]Slot{1: TDMSlots}, wantErr: ErrSlotRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewSlotTable(tt.assignments)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, table)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.assignments), table.Len())
		})
	}
}

func TestSlotTableTooManySenders(t *testing.T) {
	assignments := map[SenderID]Slot{}
	for i := 0; i < TDMSlots; i++ {
		assignments[SenderID(i)] = Slot(i % int(ReservedSlot))
	}
	_, err := NewSlotTable(assignments)
	assert.ErrorIs(t, err, ErrSlotRange)
}

func TestSlotTableLookup(t *testing.T) {
	table, err := NewSlotTable(map[SenderID]Slot{
		0xCAFE:     2,
		1:          0,
		0xFFFFFFFF: 14,
		500:        7,
	})
	require.NoError(t, err)

	for sender, want := range map[SenderID]Slot{0xCAFE: 2, 1: 0, 0xFFFFFFFF: 14, 500: 7} {
		got, ok := table.Lookup(sender)
		assert.True(t, ok, "sender %d", sender)
		assert.Equal(t, want, got, "sender %d", sender)
	}

	for _, sender := range []SenderID{0, 2, 499, 501, 0xFFFFFFFE} {
		_, ok := table.Lookup(sender)
		assert.False(t, ok, "sender %d", sender)
	}
}

func TestSlotTableSendersOrderedBySlot(t *testing.T) {
	table, err := NewSlotTable(map[SenderID]Slot{9: 3, 4: 1, 7: 0})
	require.NoError(t, err)

	assert.Equal(t, []Assignment{
		{Sender: 7, Slot: 0},
		{Sender: 4, Slot: 1},
		{Sender: 9, Slot: 3},
	}, table.Senders())
}

func TestParseVibrationPolicy(t *testing.T) {
	for in, want := range map[string]VibrationPolicy{"": VibrationZero, "zero": VibrationZero, "HOLD": VibrationHold} {
		got, err := ParseVibrationPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseVibrationPolicy("latch")
	assert.Error(t, err)
	assert.Equal(t, "hold", VibrationHold.String())
}
