package wire

import "errors"

// Wire layout constants shared by sample and frame datagrams.
// All multi-byte fields are little endian.
//
//	sample: 'T' 'S' | version(1) | kind(1) | sender(4) | position(4) | sample(4)
//	frame:  'T' 'F' | version(1) | flags(1) | node(4) | seq(8) | 16 x sample(4) | crc32(4)
const (
	Magic0      = 'T'
	MagicSample = 'S'
	MagicFrame  = 'F'

	Version = 1

	SampleSize = 16

	frameHeaderSize = 16
	FrameSize       = frameHeaderSize + 16*4 + CRCSize
	CRCSize         = 4

	// Sample kinds
	KindAudio     = 0x01
	KindVibration = 0x02

	// Frame flags
	FlagVibrationValid = 0x01
)

var (
	ErrShortPacket = errors.New("wire: packet too short")
	ErrBadMagic    = errors.New("wire: bad magic")
	ErrBadVersion  = errors.New("wire: unsupported version")
	ErrBadKind     = errors.New("wire: unknown sample kind")
	ErrBadChecksum = errors.New("wire: checksum mismatch")
)
