package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene.dev/tdmesh/internal/mesh"
)

type recorder struct {
	mu     sync.Mutex
	seqs   []uint64
	frames []mesh.Frame
	block  chan struct{}
	err    error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Transmit(_ context.Context, seq uint64, f mesh.Frame) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) sent() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func newMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	table, err := mesh.NewSlotTable(map[mesh.SenderID]mesh.Slot{1: 0})
	require.NoError(t, err)
	m := mesh.New(mesh.Config{})
	m.Init(table)
	return m
}

func TestTickPublishesAndTransmits(t *testing.T) {
	m := newMesh(t)
	rec := &recorder{}
	c := New(m, rec, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.NoError(t, m.ProcessIncomingAudio(1, 900))
	c.Tick()
	require.Eventually(t, func() bool { return len(rec.sent()) == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, m.ProcessIncomingAudio(1, 901))
	c.Tick()
	require.Eventually(t, func() bool { return len(rec.sent()) == 2 }, 2*time.Second, time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []uint64{1, 2}, rec.sent())
	assert.Equal(t, mesh.Sample(900), rec.frames[0][0])
	assert.Equal(t, mesh.Sample(901), rec.frames[1][0])
	assert.Equal(t, Stats{Ticks: 2, Published: 2}, c.Stats())
}

func TestTickSkipsWhenTransmitterBusy(t *testing.T) {
	m := newMesh(t)
	rec := &recorder{block: make(chan struct{})}
	c := New(m, rec, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.Tick() // picked up by the transmit goroutine, which blocks
	require.Eventually(t, func() bool { return len(c.out) == 0 }, 2*time.Second, time.Millisecond)
	c.Tick() // queued
	c.Tick() // skipped

	close(rec.block)
	require.Eventually(t, func() bool { return len(rec.sent()) == 2 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []uint64{1, 2}, rec.sent())
	assert.Equal(t, uint64(1), c.Stats().Skipped)
}

func TestTickUninitializedMesh(t *testing.T) {
	c := New(mesh.New(mesh.Config{}), nil, time.Hour)
	c.Tick()
	assert.Equal(t, Stats{Ticks: 1}, c.Stats())
}

func TestTransmitErrorsCounted(t *testing.T) {
	m := newMesh(t)
	rec := &recorder{err: errors.New("unreachable")}
	c := New(m, rec, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.Tick()
	require.Eventually(t, func() bool { return c.Stats().TransmitErrors == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestRunTicksOnPeriod(t *testing.T) {
	m := newMesh(t)
	c := New(m, nil, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Cycle() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}
