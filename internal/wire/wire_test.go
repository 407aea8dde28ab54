package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene.dev/tdmesh/internal/mesh"
)

func TestSampleEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		sample MeshSample
	}{
		{name: "positive", sample: MeshSample{Kind: KindAudio, Sender: 0xCAFE, Position: 7, Sample: 1000}},
		{name: "negative", sample: MeshSample{Kind: KindAudio, Sender: 1, Position: 0, Sample: -500}},
		{name: "vibration", sample: MeshSample{Kind: KindVibration, Sender: 9, Position: 1 << 31, Sample: 2048}},
	}

	d := NewDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeSample(&tt.sample)
			require.NoError(t, err)
			require.Len(t, data, SampleSize)

			typ, err := d.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, LayerTypeMeshSample, typ)

			want := tt.sample
			want.Version = Version
			if diff := cmp.Diff(want, d.Sample, cmpopts.IgnoreTypes(layers.BaseLayer{})); diff != "" {
				t.Errorf("decoded sample mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSampleDefaultsToAudio(t *testing.T) {
	data, err := EncodeSample(&MeshSample{Sender: 1, Sample: 3})
	require.NoError(t, err)
	assert.Equal(t, byte(KindAudio), data[3])
}

func TestFrameEncodeDecode(t *testing.T) {
	in := MeshFrame{
		Flags:   FlagVibrationValid,
		Node:    42,
		Seq:     1 << 40,
		Samples: mesh.Frame{1000, -500, mesh.ReservedSlot: 77},
	}
	data, err := EncodeFrame(&in)
	require.NoError(t, err)
	require.Len(t, data, FrameSize)

	d := NewDecoder()
	typ, err := d.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, LayerTypeMeshFrame, typ)
	assert.Equal(t, in.Samples, d.Frame.Samples)
	assert.Equal(t, in.Node, d.Frame.Node)
	assert.Equal(t, in.Seq, d.Frame.Seq)
	assert.Equal(t, in.CRC, d.Frame.CRC)
	assert.Equal(t, uint8(FlagVibrationValid), d.Frame.Flags)
}

func TestFrameChecksumMismatch(t *testing.T) {
	data, err := EncodeFrame(&MeshFrame{Node: 1, Seq: 2})
	require.NoError(t, err)
	data[frameHeaderSize] ^= 0xFF

	_, err = NewDecoder().Decode(data)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := EncodeSample(&MeshSample{Sender: 1, Sample: 1})
	require.NoError(t, err)

	badVersion := append([]byte(nil), valid...)
	badVersion[2] = 9
	badKind := append([]byte(nil), valid...)
	badKind[3] = 0x7F

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrShortPacket},
		{name: "magic", data: []byte{'X', 'S', 1, 1}, want: ErrBadMagic},
		{name: "unknown type", data: []byte{'T', 'Q', 1, 1}, want: ErrBadMagic},
		{name: "truncated sample", data: valid[:SampleSize-1], want: ErrShortPacket},
		{name: "version", data: badVersion, want: ErrBadVersion},
		{name: "kind", data: badKind, want: ErrBadKind},
	}

	d := NewDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewPacketDecodesSample(t *testing.T) {
	data, err := EncodeSample(&MeshSample{Sender: 5, Position: 3, Sample: -7})
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, LayerTypeMeshSample, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	layer := pkt.Layer(LayerTypeMeshSample)
	require.NotNil(t, layer)

	s := layer.(*MeshSample)
	assert.Equal(t, mesh.SenderID(5), s.Sender)
	assert.Equal(t, mesh.Sample(-7), s.Sample)
}
