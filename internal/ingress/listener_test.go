package ingress

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/wire"
)

func newMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	table, err := mesh.NewSlotTable(map[mesh.SenderID]mesh.Slot{1: 0, 2: 1})
	require.NoError(t, err)
	m := mesh.New(mesh.Config{})
	m.Init(table)
	return m
}

func encodeSample(t *testing.T, s wire.MeshSample) []byte {
	t.Helper()
	data, err := wire.EncodeSample(&s)
	require.NoError(t, err)
	return data
}

func TestHandleFeedsMesh(t *testing.T) {
	m := newMesh(t)
	l := New(config.IngressConfig{}, m)

	l.handle(encodeSample(t, wire.MeshSample{Sender: 1, Sample: 1000}))
	l.handle(encodeSample(t, wire.MeshSample{Sender: 2, Sample: -500}))
	l.handle(encodeSample(t, wire.MeshSample{Sender: 9, Sample: 7}))
	require.True(t, m.Boundary())

	assert.Equal(t, mesh.Frame{1000, -500}, m.GetTransmitBuffer())
	assert.Equal(t, uint64(2), m.Stats().Accepted)
	assert.Equal(t, uint64(1), m.Stats().UnknownSender)
	assert.Equal(t, Stats{Packets: 3}, l.Stats())
}

func TestHandleDecodeErrors(t *testing.T) {
	m := newMesh(t)
	l := New(config.IngressConfig{}, m)

	l.handle([]byte{'T'})
	l.handle([]byte("XS0123456789abcd"))
	frame, err := wire.EncodeFrame(&wire.MeshFrame{Node: 1})
	require.NoError(t, err)
	frame[20] ^= 0xff
	l.handle(frame)

	st := l.Stats()
	assert.Equal(t, uint64(3), st.Packets)
	assert.Equal(t, uint64(3), st.DecodeErrors)
	assert.Equal(t, uint64(0), m.Stats().Accepted)
}

func TestHandleIgnoresFrames(t *testing.T) {
	m := newMesh(t)
	l := New(config.IngressConfig{}, m)

	frame, err := wire.EncodeFrame(&wire.MeshFrame{Node: 4, Samples: mesh.Frame{1, 2, 3}})
	require.NoError(t, err)
	l.handle(frame)

	assert.Equal(t, uint64(1), l.Stats().Frames)
	assert.Equal(t, uint64(0), m.Stats().Accepted)
}

func TestHandleVibration(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
		want   mesh.Sample
	}{
		{"ignored by default", false, 0},
		{"accepted when enabled", true, 321},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMesh(t)
			l := New(config.IngressConfig{AcceptVibration: tt.accept}, m)

			l.handle(encodeSample(t, wire.MeshSample{Kind: wire.KindVibration, Sender: 50, Sample: 321}))
			m.Boundary()

			assert.Equal(t, tt.want, m.GetTransmitBuffer().Vibration())
			if !tt.accept {
				assert.Equal(t, uint64(1), l.Stats().Vibration)
			}
		})
	}
}

func TestWarnOnceSuppressesRepeats(t *testing.T) {
	l := New(config.IngressConfig{WarnInterval: "1h"}, newMesh(t))

	l.warnOnce("9", "first")
	l.warnOnce("9", "second")
	l.warnOnce("10", "other sender")

	assert.Equal(t, 2, l.warned.ItemCount())
}

func TestRunOverUDP(t *testing.T) {
	m := newMesh(t)
	l := New(config.IngressConfig{Listen: "127.0.0.1:0"}, m)
	require.NoError(t, l.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(encodeSample(t, wire.MeshSample{Sender: 2, Sample: 77}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Stats().Accepted == 1 }, 2*time.Second, 5*time.Millisecond)
	m.Boundary()
	assert.Equal(t, mesh.Sample(77), m.GetTransmitBuffer()[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunBeforeStart(t *testing.T) {
	l := New(config.IngressConfig{}, newMesh(t))
	assert.Error(t, l.Run(context.Background()))
	assert.NoError(t, l.Close())
}
