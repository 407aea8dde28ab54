package egress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/wire"
)

// UDPTransmitter sends each frame as a frame datagram to fixed peers.
type UDPTransmitter struct {
	node  uint32
	flags uint8

	// One pre-dialed connection per destination.
	conns []*net.UDPConn

	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

// NewUDPTransmitter dials every destination. vibration marks frames as
// carrying a sensor reading in the reserved slot.
func NewUDPTransmitter(node uint32, destinations []string, vibration bool) (*UDPTransmitter, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("udp transmitter: at least one destination is required")
	}

	u := &UDPTransmitter{node: node}
	if vibration {
		u.flags |= wire.FlagVibrationValid
	}
	for _, dst := range destinations {
		addr, err := net.ResolveUDPAddr("udp", dst)
		if err != nil {
			u.closeConns()
			return nil, fmt.Errorf("udp transmitter: resolve %q: %w", dst, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			u.closeConns()
			return nil, fmt.Errorf("udp transmitter: dial %q: %w", dst, err)
		}
		u.conns = append(u.conns, conn)
	}

	slog.Info("udp transmitter started", "destinations", destinations, "node", node)
	return u, nil
}

// Name implements Transmitter.
func (u *UDPTransmitter) Name() string { return "udp" }

// Transmit encodes the frame once and writes it to every destination.
func (u *UDPTransmitter) Transmit(_ context.Context, seq uint64, f mesh.Frame) error {
	data, err := wire.EncodeFrame(&wire.MeshFrame{Flags: u.flags, Node: u.node, Seq: seq, Samples: f})
	if err != nil {
		u.errorCount.Add(1)
		return fmt.Errorf("udp transmitter: encode: %w", err)
	}

	for _, c := range u.conns {
		if _, err := c.Write(data); err != nil {
			u.errorCount.Add(1)
			return fmt.Errorf("udp transmitter: send to %s: %w", c.RemoteAddr(), err)
		}
	}
	u.sentCount.Add(1)
	return nil
}

// Close closes all connections and logs final statistics.
func (u *UDPTransmitter) Close() error {
	u.closeConns()
	slog.Info("udp transmitter stopped",
		"sent", u.sentCount.Load(),
		"errors", u.errorCount.Load(),
	)
	return nil
}

func (u *UDPTransmitter) closeConns() {
	for _, c := range u.conns {
		if c != nil {
			_ = c.Close()
		}
	}
	u.conns = nil
}
