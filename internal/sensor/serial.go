package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tarm/serial"

	"serene.dev/tdmesh/internal/config"
)

// Bridge protocol bytes sent by the host.
const (
	cmdRequest byte = 0x25
	cmdAck     byte = 0x07
	cmdResend  byte = 0x19
)

// Body record tags.
const (
	recordAccel   byte = 0x01 // x, y, z int16 mg
	recordBattery byte = 0x02 // millivolts uint16, flags uint8
)

const (
	headerSize   = 4 // len(2) | crc16(2)
	accelSize    = 1 + 6
	batterySize  = 1 + 3
	maxBodySize  = 256
	flagCharging = 0x01
)

var (
	ErrChecksum = errors.New("sensor: checksum mismatch")
	ErrRecord   = errors.New("sensor: malformed record")
)

// Serial polls the sensor bridge MCU over a serial line. Each poll sends a
// request byte and reads one framed response:
//
//	len(2, LE) | crc16-ccitt(2, LE) | body
//
// A valid frame is acknowledged, a corrupted one is answered with a resend
// request and reported as ErrChecksum.
type Serial struct {
	port io.ReadWriteCloser
	buf  []byte
}

// OpenSerial opens the configured serial port.
func OpenSerial(cfg config.SerialConfig) (*Serial, error) {
	want := config.Duration(cfg.ReadTimeout, readTimeoutStep)
	timeout := portReadTimeout(want)
	if want != timeout {
		slog.Warn("sensor: serial read_timeout rounded up", "configured", want, "effective", timeout)
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sensor: open %s: %w", cfg.Port, err)
	}
	slog.Info("sensor bridge opened", "port", cfg.Port, "baud", cfg.BaudRate, "read_timeout", timeout)
	return newSerial(port), nil
}

// readTimeoutStep is the granularity of the POSIX VTIME inter-byte timer.
const readTimeoutStep = 100 * time.Millisecond

// portReadTimeout returns the timeout the serial driver actually applies:
// d rounded up to whole tenths of a second, at least one tenth.
func portReadTimeout(d time.Duration) time.Duration {
	if d <= readTimeoutStep {
		return readTimeoutStep
	}
	return (d + readTimeoutStep - 1) / readTimeoutStep * readTimeoutStep
}

func newSerial(port io.ReadWriteCloser) *Serial {
	return &Serial{port: port, buf: make([]byte, 0, headerSize+maxBodySize)}
}

// Read requests and decodes one frame from the bridge.
func (s *Serial) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if _, err := s.port.Write([]byte{cmdRequest}); err != nil {
		return Reading{}, fmt.Errorf("sensor: send request: %w", err)
	}

	body, err := s.readFrame()
	if err != nil {
		if errors.Is(err, ErrChecksum) {
			if _, werr := s.port.Write([]byte{cmdResend}); werr != nil {
				slog.Debug("sensor: failed to send resend byte", "error", werr)
			}
		}
		return Reading{}, err
	}
	if _, err := s.port.Write([]byte{cmdAck}); err != nil {
		slog.Debug("sensor: failed to send ack byte", "error", err)
	}
	return ParseBody(body)
}

// Close closes the serial port.
func (s *Serial) Close() error {
	return s.port.Close()
}

// readFrame reads until a whole frame has arrived. A read that returns no
// bytes is the port's read timeout.
func (s *Serial) readFrame() ([]byte, error) {
	s.buf = s.buf[:0]
	chunk := make([]byte, 64)
	want := headerSize

	for len(s.buf) < want {
		n, err := s.port.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if len(s.buf) >= headerSize && want == headerSize {
			length := int(binary.LittleEndian.Uint16(s.buf[0:2]))
			if length > maxBodySize {
				return nil, fmt.Errorf("%w: body length %d", ErrRecord, length)
			}
			want = headerSize + length
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sensor: read: %w", err)
		}
		if n == 0 && len(s.buf) < want {
			if len(s.buf) == 0 {
				return nil, ErrNoData
			}
			return nil, fmt.Errorf("%w: truncated frame (%d of %d bytes)", ErrRecord, len(s.buf), want)
		}
	}

	body := s.buf[headerSize:want]
	expected := binary.LittleEndian.Uint16(s.buf[2:4])
	if calc := CRC16(body); calc != expected {
		return nil, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrChecksum, expected, calc)
	}
	return body, nil
}

// ParseBody decodes the records of a frame body. Later records of the same
// kind replace earlier ones.
func ParseBody(body []byte) (Reading, error) {
	var r Reading
	for len(body) > 0 {
		switch body[0] {
		case recordAccel:
			if len(body) < accelSize {
				return Reading{}, fmt.Errorf("%w: accel record needs %d bytes", ErrRecord, accelSize)
			}
			x := int16(binary.LittleEndian.Uint16(body[1:3]))
			y := int16(binary.LittleEndian.Uint16(body[3:5]))
			z := int16(binary.LittleEndian.Uint16(body[5:7]))
			r.HasVibration = true
			r.Vibration = Magnitude(x, y, z)
			body = body[accelSize:]
		case recordBattery:
			if len(body) < batterySize {
				return Reading{}, fmt.Errorf("%w: battery record needs %d bytes", ErrRecord, batterySize)
			}
			mv := binary.LittleEndian.Uint16(body[1:3])
			r.HasBattery = true
			r.BatteryMillivolts = mv
			r.BatteryPercent = BatteryPercent(mv)
			r.Charging = body[3]&flagCharging != 0
			body = body[batterySize:]
		default:
			return Reading{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrRecord, body[0])
		}
	}
	if !r.HasVibration && !r.HasBattery {
		return Reading{}, ErrNoData
	}
	return r, nil
}

// EncodeFrame builds a bridge frame around body.
func EncodeFrame(body []byte) []byte {
	out := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(body)))
	binary.LittleEndian.PutUint16(out[2:4], CRC16(body))
	copy(out[headerSize:], body)
	return out
}

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
