// Package scheduler runs simulation ticks against service instances: one
// goroutine per active run, producing synthetic records, pushing them
// through each active stream's pipeline, and publishing the results.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/engine/pipeline"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/infrastructure/monitoring"
	"github.com/mocklab/backend/internal/shared/id"
	"github.com/mocklab/backend/internal/shared/types"
)

var (
	// ErrInstanceNotFound is returned when a run targets an unknown instance
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrSimulationActive is returned when the instance already has a run
	ErrSimulationActive = errors.New("simulation already active")

	// ErrNoRecordings is returned when no completed run left recordings
	ErrNoRecordings = errors.New("no recordings available")
)

// Instances resolves instance ids; satisfied by the registry
type Instances interface {
	Get(instanceID string) (*types.ServiceInstance, bool)
}

// Generator produces the synthetic record for one tick
type Generator interface {
	Generate(serviceName, serviceType string) interface{}
}

// run is the state of one active simulation. Only its own goroutine
// mutates ticks and recordings.
type run struct {
	id         string
	instanceID string
	params     types.SimulationParams
	cancel     chan struct{}
	done       chan struct{}
	ticks      int64
	recordings []types.Recording
}

// Scheduler owns at most one run per instance id
type Scheduler struct {
	mu   sync.Mutex
	runs map[string]*run
	last map[string][]types.Recording

	instances Instances
	pipe      *pipeline.Pipeline
	bus       *bus.Bus
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	gen       Generator
}

// New creates a scheduler with the default synthetic generator
func New(instances Instances, pipe *pipeline.Pipeline, b *bus.Bus, logger *logging.Logger, metrics *monitoring.Metrics) *Scheduler {
	return &Scheduler{
		runs:      make(map[string]*run),
		last:      make(map[string][]types.Recording),
		instances: instances,
		pipe:      pipe,
		bus:       b,
		logger:    logger,
		metrics:   metrics,
		gen:       newSyntheticGenerator(),
	}
}

// WithGenerator replaces the synthetic record generator
func (s *Scheduler) WithGenerator(g Generator) *Scheduler {
	s.gen = g
	return s
}

// Start begins a simulation run for the instance. Completion is signaled
// through simulation:complete on the bus, not through a return value. A
// second Start while a run is active fails with ErrSimulationActive.
func (s *Scheduler) Start(instanceID string, cfg types.SimulationConfig) (string, error) {
	inst, ok := s.instances.Get(instanceID)
	if !ok {
		return "", fmt.Errorf("start simulation for %s: %w", instanceID, ErrInstanceNotFound)
	}

	params := cfg.Normalize()

	s.mu.Lock()
	if _, active := s.runs[instanceID]; active {
		s.mu.Unlock()
		return "", fmt.Errorf("start simulation for %s: %w", instanceID, ErrSimulationActive)
	}
	r := &run{
		id:         id.NewRunID().String(),
		instanceID: instanceID,
		params:     params,
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.runs[instanceID] = r
	s.mu.Unlock()

	s.metrics.IncSimulationsActive()
	s.logger.Info("simulation started",
		zap.String("run_id", r.id),
		zap.String("instance_id", instanceID),
		zap.Duration("duration", params.Duration),
		zap.Float64("data_rate", params.DataRate),
		zap.Bool("recording", params.Recording),
	)

	go s.loop(inst, r)
	return r.id, nil
}

// Stop cancels the instance's active run and waits until its goroutine has
// exited, so no tick fires after Stop returns. Returns false when no run
// was active.
func (s *Scheduler) Stop(instanceID string) bool {
	s.mu.Lock()
	r, ok := s.runs[instanceID]
	if ok {
		delete(s.runs, instanceID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	close(r.cancel)
	<-r.done
	return true
}

// StopAll cancels every active run; used during shutdown
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.runs))
	for instanceID, r := range s.runs {
		delete(s.runs, instanceID)
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		close(r.cancel)
		<-r.done
	}
}

// Active reports whether the instance has a run in flight
func (s *Scheduler) Active(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[instanceID]
	return ok
}

// LastRecordings returns the recordings of the instance's most recently
// finished run. Runs started with recording disabled leave none.
func (s *Scheduler) LastRecordings(instanceID string) ([]types.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.last[instanceID]
	if !ok {
		return nil, fmt.Errorf("recordings for %s: %w", instanceID, ErrNoRecordings)
	}
	return recs, nil
}

func (s *Scheduler) loop(inst *types.ServiceInstance, r *run) {
	ticker := time.NewTicker(r.params.Interval)
	deadline := time.NewTimer(r.params.Duration)
	defer func() {
		ticker.Stop()
		deadline.Stop()
		close(r.done)
	}()

	for {
		select {
		case <-r.cancel:
			s.finish(r, false)
			return
		case <-deadline.C:
			s.finish(r, true)
			return
		case <-ticker.C:
			// Cancellation wins over a simultaneously ready tick.
			select {
			case <-r.cancel:
				s.finish(r, false)
				return
			default:
			}
			s.tick(inst, r)
		}
	}
}

// tick runs one simulation step. Stream and metric mutation happens under
// the instance lock; bus publishes happen after it is released.
func (s *Scheduler) tick(inst *types.ServiceInstance, r *run) {
	started := time.Now()

	var record interface{}
	if r.params.MockData {
		record = s.gen.Generate(inst.Name, inst.Type)
	}

	var (
		events      []types.SimulationData
		tickErr     error
		tickRecords int
		tickBytes   int64
	)

	inst.Lock()
	r.ticks++
	for _, stream := range inst.OrderedStreams() {
		if stream.Status != types.StreamActive {
			continue
		}

		stepStart := time.Now()
		rec, size, err := s.pipe.Process(stream, record, r.params.Enrichment)
		if err != nil {
			tickErr = err
			break
		}
		stepMs := float64(time.Since(stepStart).Microseconds()) / 1000

		if r.params.Recording {
			r.recordings = append(r.recordings, types.Recording{
				Timestamp:  time.Now(),
				InstanceID: inst.ID,
				StreamID:   stream.ID,
				Data:       rec,
			})
		}

		stream.Metrics.MessagesProcessed++
		stream.Metrics.BytesProcessed += int64(size)
		stream.Metrics.AvgLatency += (stepMs - stream.Metrics.AvgLatency) / float64(stream.Metrics.MessagesProcessed)
		inst.Metrics.RequestCount++
		inst.Metrics.DataProcessed += int64(size)

		events = append(events, types.SimulationData{
			InstanceID: inst.ID,
			StreamID:   stream.ID,
			Data:       rec,
			Metrics:    stream.Metrics,
		})
		tickRecords++
		tickBytes += int64(size)
	}

	elapsed := time.Since(started)
	if tickErr != nil {
		inst.Metrics.ErrorCount++
	} else {
		elapsedMs := float64(elapsed.Microseconds()) / 1000
		inst.Metrics.AvgResponseTime += (elapsedMs - inst.Metrics.AvgResponseTime) / float64(r.ticks)
	}
	inst.Unlock()

	for _, ev := range events {
		s.bus.Publish(bus.SimulationData, ev)
	}

	if tickErr != nil {
		s.metrics.RecordTickError()
		s.logger.Warn("simulation tick failed",
			zap.String("run_id", r.id),
			zap.String("instance_id", inst.ID),
			zap.Error(tickErr),
		)
		s.bus.Publish(bus.SimulationError, types.SimulationError{
			InstanceID: inst.ID,
			Error:      tickErr.Error(),
		})
		return
	}

	s.metrics.RecordTick(elapsed, tickRecords, tickBytes)
}

// finish retires the run. Duration expiry publishes simulation:complete;
// cancellation ends the run silently.
func (s *Scheduler) finish(r *run, expired bool) {
	s.mu.Lock()
	if cur, ok := s.runs[r.instanceID]; ok && cur == r {
		delete(s.runs, r.instanceID)
	}
	if r.params.Recording {
		s.last[r.instanceID] = r.recordings
	}
	s.mu.Unlock()

	s.metrics.DecSimulationsActive()

	if !expired {
		s.logger.Info("simulation cancelled",
			zap.String("run_id", r.id),
			zap.String("instance_id", r.instanceID),
			zap.Int64("ticks", r.ticks),
		)
		return
	}

	var recs []types.Recording
	if r.params.Recording {
		recs = r.recordings
		if recs == nil {
			recs = []types.Recording{}
		}
	}
	s.bus.Publish(bus.SimulationComplete, types.SimulationComplete{
		InstanceID:   r.instanceID,
		MessageCount: r.ticks,
		Recordings:   recs,
	})
	s.logger.Info("simulation complete",
		zap.String("run_id", r.id),
		zap.String("instance_id", r.instanceID),
		zap.Int64("ticks", r.ticks),
		zap.Int("recordings", len(recs)),
	)
}
