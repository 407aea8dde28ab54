package wire

import (
	"fmt"

	"github.com/google/gopacket"
)

// Decoder decodes datagrams into reused layers. It is not safe for
// concurrent use; each receive loop owns one.
type Decoder struct {
	sampleParser *gopacket.DecodingLayerParser
	frameParser  *gopacket.DecodingLayerParser

	Sample MeshSample
	Frame  MeshFrame

	decoded []gopacket.LayerType
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 1)}
	d.sampleParser = gopacket.NewDecodingLayerParser(LayerTypeMeshSample, &d.Sample)
	d.frameParser = gopacket.NewDecodingLayerParser(LayerTypeMeshFrame, &d.Frame)
	d.sampleParser.IgnoreUnsupported = true
	d.frameParser.IgnoreUnsupported = true
	return d
}

// Decode decodes data into d.Sample or d.Frame and reports which one.
func (d *Decoder) Decode(data []byte) (gopacket.LayerType, error) {
	if len(data) < 2 {
		return gopacket.LayerTypeZero, ErrShortPacket
	}
	if data[0] != Magic0 {
		return gopacket.LayerTypeZero, ErrBadMagic
	}

	var parser *gopacket.DecodingLayerParser
	switch data[1] {
	case MagicSample:
		parser = d.sampleParser
	case MagicFrame:
		parser = d.frameParser
	default:
		return gopacket.LayerTypeZero, ErrBadMagic
	}

	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		return gopacket.LayerTypeZero, err
	}
	if len(d.decoded) == 0 {
		return gopacket.LayerTypeZero, fmt.Errorf("wire: nothing decoded")
	}
	return d.decoded[0], nil
}

// EncodeSample serialises a sample datagram.
func EncodeSample(s *MeshSample) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeFrame serialises a frame datagram.
func EncodeFrame(f *MeshFrame) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
