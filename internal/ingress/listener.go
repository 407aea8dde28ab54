// Package ingress receives mesh sample datagrams and feeds them to the engine.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
	"serene.dev/tdmesh/internal/wire"
)

const maxDatagram = 1500

// Sink receives decoded samples. *mesh.Mesh implements it.
type Sink interface {
	ProcessIncomingAudio(sender mesh.SenderID, sample mesh.Sample) error
	SetVibration(sample mesh.Sample) error
}

// Stats are the listener's own counters. Sample outcomes are counted by the
// engine.
type Stats struct {
	Packets      uint64
	DecodeErrors uint64
	Frames       uint64 // frame datagrams, which ingress ignores
	Vibration    uint64 // vibration samples dropped because accept_vibration is off
}

// Listener reads sample datagrams from a UDP socket.
type Listener struct {
	cfg  config.IngressConfig
	sink Sink
	dec  *wire.Decoder

	conn *net.UDPConn

	// warned suppresses repeated warnings per sender for warn_interval.
	warned *cache.Cache

	packets      atomic.Uint64
	decodeErrors atomic.Uint64
	frames       atomic.Uint64
	vibration    atomic.Uint64
}

// New creates a listener. Call Start to bind the socket.
func New(cfg config.IngressConfig, sink Sink) *Listener {
	interval := config.Duration(cfg.WarnInterval, 10*time.Second)
	return &Listener{
		cfg:    cfg,
		sink:   sink,
		dec:    wire.NewDecoder(),
		warned: cache.New(interval, 2*interval),
	}
}

// Start binds the listen address.
func (l *Listener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Listen)
	if err != nil {
		return fmt.Errorf("ingress: resolve %q: %w", l.cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("ingress: listen %q: %w", l.cfg.Listen, err)
	}
	if l.cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(l.cfg.ReadBufferBytes); err != nil {
			slog.Warn("ingress: failed to set read buffer", "bytes", l.cfg.ReadBufferBytes, "error", err)
		}
	}
	l.conn = conn
	slog.Info("ingress listener started", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run reads datagrams until ctx is cancelled or the socket is closed.
func (l *Listener) Run(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("ingress: listener not started")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ingress: read: %w", err)
		}
		l.handle(buf[:n])
	}
}

// Close closes the socket; Run returns afterwards.
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	slog.Info("ingress listener stopped",
		"packets", l.packets.Load(),
		"decode_errors", l.decodeErrors.Load(),
	)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Stats returns a snapshot of the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Packets:      l.packets.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		Frames:       l.frames.Load(),
		Vibration:    l.vibration.Load(),
	}
}

// handle decodes one datagram and hands its sample to the sink. It is only
// called from the Run goroutine, which owns the decoder.
func (l *Listener) handle(data []byte) {
	l.packets.Add(1)

	lt, err := l.dec.Decode(data)
	if err != nil {
		l.decodeErrors.Add(1)
		metrics.IngressDecodeErrorsTotal.WithLabelValues(decodeReason(err)).Inc()
		slog.Debug("ingress: dropping datagram", "len", len(data), "error", err)
		return
	}

	if lt == wire.LayerTypeMeshFrame {
		// Frames are egress traffic from peers; a node only consumes samples.
		l.frames.Add(1)
		metrics.IngressPacketsTotal.WithLabelValues("frame").Inc()
		return
	}

	s := &l.dec.Sample
	switch s.Kind {
	case wire.KindVibration:
		metrics.IngressPacketsTotal.WithLabelValues("vibration").Inc()
		if !l.cfg.AcceptVibration {
			l.vibration.Add(1)
			l.warnOnce("vibration:"+strconv.FormatUint(uint64(s.Sender), 10),
				"ingress: networked vibration sample ignored", "sender", s.Sender)
			return
		}
		if err := l.sink.SetVibration(s.Sample); err != nil {
			l.reject(s.Sender, err)
		}
	default:
		metrics.IngressPacketsTotal.WithLabelValues("audio").Inc()
		if err := l.sink.ProcessIncomingAudio(s.Sender, s.Sample); err != nil {
			l.reject(s.Sender, err)
		}
	}
}

func (l *Listener) reject(sender mesh.SenderID, err error) {
	switch {
	case errors.Is(err, mesh.ErrTopology):
		l.warnOnce("topology", "ingress: mesh topology mismatch", "sender", sender, "error", err)
	case errors.Is(err, mesh.ErrUnknownSender), errors.Is(err, mesh.ErrReservedSlot):
		l.warnOnce(strconv.FormatUint(uint64(sender), 10), "ingress: sample rejected", "sender", sender, "error", err)
	default:
		slog.Debug("ingress: sample rejected", "sender", sender, "error", err)
	}
}

// warnOnce logs at most one warning per key per warn_interval.
func (l *Listener) warnOnce(key, msg string, args ...any) {
	if err := l.warned.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		return
	}
	slog.Warn(msg, args...)
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrShortPacket):
		return "short"
	case errors.Is(err, wire.ErrBadMagic):
		return "magic"
	case errors.Is(err, wire.ErrBadVersion):
		return "version"
	case errors.Is(err, wire.ErrBadKind):
		return "kind"
	case errors.Is(err, wire.ErrBadChecksum):
		return "checksum"
	default:
		return "other"
	}
}
