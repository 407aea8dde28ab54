package metrics

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene.dev/tdmesh/internal/mesh"
)

type fakeSource struct {
	stats mesh.Stats
	cycle uint64
}

func (f *fakeSource) Stats() mesh.Stats { return f.stats }
func (f *fakeSource) Cycle() uint64     { return f.cycle }

func TestCollectorAddsDeltas(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(src, time.Hour)

	accepted := SamplesTotal.WithLabelValues(ResultAccepted)
	coalesced := BoundariesTotal.WithLabelValues("coalesced")
	baseAccepted := testutil.ToFloat64(accepted)
	baseCoalesced := testutil.ToFloat64(coalesced)

	src.stats = mesh.Stats{Accepted: 100, BoundariesCoalesced: 2}
	src.cycle = 5
	c.Collect()
	assert.Equal(t, baseAccepted+100, testutil.ToFloat64(accepted))
	assert.Equal(t, baseCoalesced+2, testutil.ToFloat64(coalesced))
	assert.Equal(t, float64(5), testutil.ToFloat64(Cycle))

	src.stats.Accepted = 150
	c.Collect()
	assert.Equal(t, baseAccepted+150, testutil.ToFloat64(accepted))
	assert.Equal(t, baseCoalesced+2, testutil.ToFloat64(coalesced))
}

func TestDeltaCounterReset(t *testing.T) {
	assert.Equal(t, float64(50), delta(150, 100))
	assert.Equal(t, float64(0), delta(100, 100))
	// counter restarted: treat the current value as the delta
	assert.Equal(t, float64(42), delta(42, 10000))
}

func TestCollectorRunFinalCollect(t *testing.T) {
	src := &fakeSource{stats: mesh.Stats{VibrationWrites: 3}}
	c := NewCollector(src, time.Hour)
	base := testutil.ToFloat64(VibrationWritesTotal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	c.SetInterval(time.Minute)
	cancel()
	<-done

	assert.Equal(t, base+3, testutil.ToFloat64(VibrationWritesTotal))
	assert.Equal(t, time.Minute, c.Interval())
}

func TestSetIntervalIgnoresNonPositive(t *testing.T) {
	c := NewCollector(&fakeSource{}, 0)
	assert.Equal(t, 5*time.Second, c.Interval())
	c.SetInterval(-time.Second)
	assert.Equal(t, 5*time.Second, c.Interval())
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	var ready atomic.Bool
	s := NewServer("127.0.0.1:0", "", ready.Load)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	Cycle.Set(9)
	body := get(t, "http://"+s.Addr()+"/metrics", http.StatusOK)
	assert.Contains(t, body, "tdmesh_cycle 9")

	get(t, "http://"+s.Addr()+"/healthz", http.StatusServiceUnavailable)
	ready.Store(true)
	assert.Equal(t, "ok\n", get(t, "http://"+s.Addr()+"/healthz", http.StatusOK))
}

func TestServerStartBindError(t *testing.T) {
	s := NewServer("256.0.0.1:bad", "/metrics", nil)
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, wantStatus, resp.StatusCode)
	return string(data)
}
