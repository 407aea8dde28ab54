// Package wire implements the mesh sample and frame datagrams as gopacket layers.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"serene.dev/tdmesh/internal/mesh"
)

var (
	LayerTypeMeshSample = gopacket.RegisterLayerType(2101, gopacket.LayerTypeMetadata{
		Name:    "MeshSample",
		Decoder: gopacket.DecodeFunc(decodeMeshSample),
	})
	LayerTypeMeshFrame = gopacket.RegisterLayerType(2102, gopacket.LayerTypeMetadata{
		Name:    "MeshFrame",
		Decoder: gopacket.DecodeFunc(decodeMeshFrame),
	})
)

// MeshSample is one sample sent by a mesh node for its slot.
type MeshSample struct {
	layers.BaseLayer
	Version  uint8
	Kind     uint8
	Sender   mesh.SenderID
	Position uint32 // sender's frame sequence
	Sample   mesh.Sample
}

func (s *MeshSample) LayerType() gopacket.LayerType { return LayerTypeMeshSample }

func (s *MeshSample) CanDecode() gopacket.LayerClass { return LayerTypeMeshSample }

func (s *MeshSample) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (s *MeshSample) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < SampleSize {
		df.SetTruncated()
		return fmt.Errorf("%w: sample needs %d bytes, got %d", ErrShortPacket, SampleSize, len(data))
	}
	if data[0] != Magic0 || data[1] != MagicSample {
		return ErrBadMagic
	}
	if data[2] != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, data[2])
	}
	kind := data[3]
	if kind != KindAudio && kind != KindVibration {
		return fmt.Errorf("%w: 0x%02x", ErrBadKind, kind)
	}

	s.Version = data[2]
	s.Kind = kind
	s.Sender = mesh.SenderID(binary.LittleEndian.Uint32(data[4:8]))
	s.Position = binary.LittleEndian.Uint32(data[8:12])
	s.Sample = mesh.Sample(int32(binary.LittleEndian.Uint32(data[12:16])))
	s.BaseLayer = layers.BaseLayer{Contents: data[:SampleSize], Payload: data[SampleSize:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (s *MeshSample) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(SampleSize)
	if err != nil {
		return err
	}
	kind := s.Kind
	if kind == 0 {
		kind = KindAudio
	}
	bytes[0] = Magic0
	bytes[1] = MagicSample
	bytes[2] = Version
	bytes[3] = kind
	binary.LittleEndian.PutUint32(bytes[4:8], uint32(s.Sender))
	binary.LittleEndian.PutUint32(bytes[8:12], s.Position)
	binary.LittleEndian.PutUint32(bytes[12:16], uint32(int32(s.Sample)))
	return nil
}

func decodeMeshSample(data []byte, p gopacket.PacketBuilder) error {
	s := &MeshSample{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	p.SetApplicationLayer(s)
	return nil
}

// Payload implements gopacket.ApplicationLayer.
func (s *MeshSample) Payload() []byte { return s.LayerContents() }

// MeshFrame is a node's published TDM frame.
type MeshFrame struct {
	layers.BaseLayer
	Version uint8
	Flags   uint8
	Node    uint32
	Seq     uint64
	Samples mesh.Frame
	CRC     uint32 // decoded frames only; computed by SerializeTo
}

func (f *MeshFrame) LayerType() gopacket.LayerType { return LayerTypeMeshFrame }

func (f *MeshFrame) CanDecode() gopacket.LayerClass { return LayerTypeMeshFrame }

func (f *MeshFrame) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (f *MeshFrame) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < FrameSize {
		df.SetTruncated()
		return fmt.Errorf("%w: frame needs %d bytes, got %d", ErrShortPacket, FrameSize, len(data))
	}
	if data[0] != Magic0 || data[1] != MagicFrame {
		return ErrBadMagic
	}
	if data[2] != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, data[2])
	}

	crcOffset := FrameSize - CRCSize
	recv := binary.LittleEndian.Uint32(data[crcOffset:FrameSize])
	if calc := crc32.ChecksumIEEE(data[:crcOffset]); calc != recv {
		return fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrBadChecksum, recv, calc)
	}

	f.Version = data[2]
	f.Flags = data[3]
	f.Node = binary.LittleEndian.Uint32(data[4:8])
	f.Seq = binary.LittleEndian.Uint64(data[8:16])
	for i := range f.Samples {
		off := frameHeaderSize + 4*i
		f.Samples[i] = mesh.Sample(int32(binary.LittleEndian.Uint32(data[off : off+4])))
	}
	f.CRC = recv
	f.BaseLayer = layers.BaseLayer{Contents: data[:FrameSize], Payload: data[FrameSize:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (f *MeshFrame) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(FrameSize)
	if err != nil {
		return err
	}
	bytes[0] = Magic0
	bytes[1] = MagicFrame
	bytes[2] = Version
	bytes[3] = f.Flags
	binary.LittleEndian.PutUint32(bytes[4:8], f.Node)
	binary.LittleEndian.PutUint64(bytes[8:16], f.Seq)
	for i, v := range f.Samples {
		off := frameHeaderSize + 4*i
		binary.LittleEndian.PutUint32(bytes[off:off+4], uint32(int32(v)))
	}
	crcOffset := FrameSize - CRCSize
	f.CRC = crc32.ChecksumIEEE(bytes[:crcOffset])
	binary.LittleEndian.PutUint32(bytes[crcOffset:FrameSize], f.CRC)
	return nil
}

func decodeMeshFrame(data []byte, p gopacket.PacketBuilder) error {
	f := &MeshFrame{}
	if err := f.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(f)
	p.SetApplicationLayer(f)
	return nil
}

// Payload implements gopacket.ApplicationLayer.
func (f *MeshFrame) Payload() []byte { return f.LayerContents() }
