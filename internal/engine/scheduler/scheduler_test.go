package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/engine/pipeline"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/shared/types"
)

type fakeInstances map[string]*types.ServiceInstance

func (f fakeInstances) Get(instanceID string) (*types.ServiceInstance, bool) {
	inst, ok := f[instanceID]
	return inst, ok
}

func runningInstance(instanceID string, streams ...string) *types.ServiceInstance {
	cfg := types.ServiceConfig{Name: "orders", Type: "api"}
	for _, sid := range streams {
		cfg.DataStreams = append(cfg.DataStreams, types.DataStreamConfig{
			ID:          sid,
			Name:        sid,
			Source:      "gateway",
			Destination: "orders",
			Format:      "json",
		})
	}
	inst := types.NewServiceInstance(instanceID, cfg)
	inst.Status = types.StatusRunning
	return inst
}

func newTestScheduler(instances fakeInstances) (*Scheduler, *bus.Bus) {
	b := bus.New()
	s := New(instances, pipeline.New(), b, logging.NewNop(), nil)
	return s, b
}

func simConfig(durationMs int64, rate float64) types.SimulationConfig {
	return types.SimulationConfig{Duration: &durationMs, DataRate: &rate}
}

func waitComplete(t *testing.T, ch <-chan types.SimulationComplete) types.SimulationComplete {
	t.Helper()
	select {
	case done := <-ch:
		return done
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not complete")
		return types.SimulationComplete{}
	}
}

func TestRunCompletesAfterDuration(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	runID, err := s.Start("inst_1", simConfig(525, 20))
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.True(t, s.Active("inst_1"))

	done := waitComplete(t, completed)

	assert.Equal(t, "inst_1", done.InstanceID)
	assert.GreaterOrEqual(t, done.MessageCount, int64(5), "expected roughly 10 ticks at 20/s over 525ms")
	assert.LessOrEqual(t, done.MessageCount, int64(12))
	require.NotNil(t, done.Recordings)
	assert.Len(t, done.Recordings, int(done.MessageCount), "one stream records one entry per tick")
	assert.False(t, s.Active("inst_1"))

	inst.RLock()
	defer inst.RUnlock()
	assert.Equal(t, done.MessageCount, inst.Metrics.RequestCount)
	assert.Positive(t, inst.Metrics.DataProcessed)
	assert.Positive(t, inst.Streams["in"].Metrics.MessagesProcessed)
}

func TestTickCountTracksRate(t *testing.T) {
	if testing.Short() {
		t.Skip("2s simulation")
	}
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	_, err := s.Start("inst_1", simConfig(2000, 10))
	require.NoError(t, err)
	done := waitComplete(t, completed)

	// 2000ms at 10/s is 20 ticks; allow slack for timer jitter.
	assert.GreaterOrEqual(t, done.MessageCount, int64(18))
	assert.LessOrEqual(t, done.MessageCount, int64(21))
}

func TestRecordingsRetainedAfterRun(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	_, err := s.Start("inst_1", simConfig(150, 20))
	require.NoError(t, err)
	done := waitComplete(t, completed)

	recs, err := s.LastRecordings("inst_1")
	require.NoError(t, err)
	assert.Len(t, recs, len(done.Recordings))
	for _, rec := range recs {
		assert.Equal(t, "inst_1", rec.InstanceID)
		assert.Equal(t, "in", rec.StreamID)
	}
}

func TestRecordingDisabled(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	off := false
	cfg := simConfig(150, 20)
	cfg.EnableRecording = &off

	_, err := s.Start("inst_1", cfg)
	require.NoError(t, err)
	done := waitComplete(t, completed)

	assert.Nil(t, done.Recordings)
	_, err = s.LastRecordings("inst_1")
	assert.ErrorIs(t, err, ErrNoRecordings)
}

func TestStartUnknownInstance(t *testing.T) {
	s, _ := newTestScheduler(fakeInstances{})
	_, err := s.Start("inst_missing", types.SimulationConfig{})
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestSecondRunRejected(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, _ := newTestScheduler(fakeInstances{"inst_1": inst})

	_, err := s.Start("inst_1", simConfig(60000, 10))
	require.NoError(t, err)

	_, err = s.Start("inst_1", simConfig(60000, 10))
	assert.ErrorIs(t, err, ErrSimulationActive)
	assert.True(t, s.Active("inst_1"), "first run unaffected by the rejection")

	s.Stop("inst_1")
}

func TestStopIsIdempotentAndSilent(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	_, err := s.Start("inst_1", simConfig(60000, 20))
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	assert.True(t, s.Stop("inst_1"))
	assert.False(t, s.Stop("inst_1"), "second stop is a no-op")
	assert.False(t, s.Active("inst_1"))

	select {
	case <-completed:
		t.Fatal("explicit stop must not publish simulation:complete")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNoTicksAfterStopReturns(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, _ := newTestScheduler(fakeInstances{"inst_1": inst})

	_, err := s.Start("inst_1", simConfig(60000, 100))
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	s.Stop("inst_1")

	inst.RLock()
	count := inst.Metrics.RequestCount
	inst.RUnlock()

	time.Sleep(100 * time.Millisecond)

	inst.RLock()
	defer inst.RUnlock()
	assert.Equal(t, count, inst.Metrics.RequestCount)
}

// brokenGenerator returns a value sonic cannot serialize, so every tick
// fails inside the pipeline.
type brokenGenerator struct{}

func (brokenGenerator) Generate(serviceName, serviceType string) interface{} {
	return map[string]interface{}{"fn": func() {}}
}

func TestTickErrorContainment(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})
	s.WithGenerator(brokenGenerator{})

	errored := make(chan types.SimulationError, 64)
	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		switch payload := ev.Payload.(type) {
		case types.SimulationError:
			errored <- payload
		case types.SimulationComplete:
			completed <- payload
		}
	}, bus.SimulationError, bus.SimulationComplete)

	_, err := s.Start("inst_1", simConfig(275, 20))
	require.NoError(t, err)
	done := waitComplete(t, completed)

	assert.Positive(t, done.MessageCount, "failing ticks still count")
	assert.Empty(t, done.Recordings, "failed ticks record nothing")

	select {
	case ev := <-errored:
		assert.Equal(t, "inst_1", ev.InstanceID)
		assert.NotEmpty(t, ev.Error)
	default:
		t.Fatal("expected at least one simulation:error event")
	}

	inst.RLock()
	defer inst.RUnlock()
	assert.Equal(t, done.MessageCount, inst.Metrics.ErrorCount)
	assert.Zero(t, inst.Metrics.RequestCount)
	assert.Empty(t, inst.Streams["in"].Buffer, "failed serialization leaves the buffer untouched")
}

// selectiveGenerator fails for one service name and delegates otherwise
type selectiveGenerator struct {
	failFor string
	inner   Generator
}

func (g selectiveGenerator) Generate(serviceName, serviceType string) interface{} {
	if serviceName == g.failFor {
		return brokenGenerator{}.Generate(serviceName, serviceType)
	}
	return g.inner.Generate(serviceName, serviceType)
}

func TestRunsAreIsolated(t *testing.T) {
	healthy := runningInstance("inst_ok", "in")
	broken := runningInstance("inst_bad", "in")
	broken.Name = "billing"
	s, b := newTestScheduler(fakeInstances{"inst_ok": healthy, "inst_bad": broken})
	s.WithGenerator(selectiveGenerator{failFor: "billing", inner: newSyntheticGenerator()})

	completed := make(chan types.SimulationComplete, 2)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	_, err := s.Start("inst_bad", simConfig(275, 20))
	require.NoError(t, err)
	_, err = s.Start("inst_ok", simConfig(275, 20))
	require.NoError(t, err)

	_ = waitComplete(t, completed)
	_ = waitComplete(t, completed)

	healthy.RLock()
	assert.Zero(t, healthy.Metrics.ErrorCount)
	assert.Positive(t, healthy.Metrics.RequestCount)
	healthy.RUnlock()

	healthy.RLock()
	for _, rec := range healthy.Streams["in"].Buffer {
		record, ok := rec.Payload.(MockRecord)
		require.True(t, ok)
		assert.Equal(t, "orders", record.Service, "no cross-instance record leakage")
	}
	healthy.RUnlock()

	broken.RLock()
	defer broken.RUnlock()
	assert.Positive(t, broken.Metrics.ErrorCount)
	assert.Zero(t, broken.Metrics.RequestCount)
}

// failOnceGenerator fails exactly one tick and is healthy afterwards
type failOnceGenerator struct {
	failed atomic.Bool
	inner  Generator
}

func (g *failOnceGenerator) Generate(serviceName, serviceType string) interface{} {
	if g.failed.CompareAndSwap(false, true) {
		return brokenGenerator{}.Generate(serviceName, serviceType)
	}
	return g.inner.Generate(serviceName, serviceType)
}

func TestSingleTickFailureDoesNotStopRun(t *testing.T) {
	inst := runningInstance("inst_1", "in")
	s, b := newTestScheduler(fakeInstances{"inst_1": inst})
	s.WithGenerator(&failOnceGenerator{inner: newSyntheticGenerator()})

	completed := make(chan types.SimulationComplete, 1)
	b.Subscribe(func(ev bus.Event) {
		completed <- ev.Payload.(types.SimulationComplete)
	}, bus.SimulationComplete)

	_, err := s.Start("inst_1", simConfig(275, 20))
	require.NoError(t, err)
	done := waitComplete(t, completed)

	inst.RLock()
	defer inst.RUnlock()
	assert.EqualValues(t, 1, inst.Metrics.ErrorCount, "only the injected failure counts")
	assert.Positive(t, inst.Metrics.RequestCount, "ticks after the failure proceed normally")
	assert.Equal(t, done.MessageCount, inst.Metrics.RequestCount+1)
}

func TestStopAll(t *testing.T) {
	first := runningInstance("inst_1", "in")
	second := runningInstance("inst_2", "in")
	s, _ := newTestScheduler(fakeInstances{"inst_1": first, "inst_2": second})

	_, err := s.Start("inst_1", simConfig(60000, 10))
	require.NoError(t, err)
	_, err = s.Start("inst_2", simConfig(60000, 10))
	require.NoError(t, err)

	s.StopAll()

	assert.False(t, s.Active("inst_1"))
	assert.False(t, s.Active("inst_2"))
}
