// Package registry creates and tracks the lifecycle of service instances.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/infrastructure/monitoring"
	"github.com/mocklab/backend/internal/shared/id"
	"github.com/mocklab/backend/internal/shared/types"
)

var (
	// ErrInstanceNotFound is returned by mutating calls on unknown ids
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrDuplicateStreamID is returned when a config repeats a stream id
	ErrDuplicateStreamID = errors.New("duplicate stream id")
	// ErrEmptyName is returned when a config has no service name
	ErrEmptyName = errors.New("service name cannot be empty")
)

// SimulationStopper cancels any active run for an instance. Implemented by
// the scheduler; injected to keep the dependency direction explicit.
type SimulationStopper interface {
	Stop(instanceID string) bool
}

// Registry owns every service instance
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*types.ServiceInstance
	order     []string

	bus     *bus.Bus
	logger  *logging.Logger
	metrics *monitoring.Metrics
	stopper SimulationStopper
}

// New creates an instance registry
func New(b *bus.Bus, logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	return &Registry{
		instances: make(map[string]*types.ServiceInstance),
		bus:       b,
		logger:    logger,
		metrics:   metrics,
	}
}

// SetSimulations wires the scheduler in after construction, breaking the
// registry/scheduler cycle.
func (r *Registry) SetSimulations(s SimulationStopper) {
	r.stopper = s
}

// Create builds an instance from configuration, boots it, and publishes the
// lifecycle events. Fails only on configuration errors.
func (r *Registry) Create(cfg types.ServiceConfig) (*types.ServiceInstance, error) {
	if cfg.Name == "" {
		return nil, ErrEmptyName
	}
	seen := make(map[string]struct{}, len(cfg.DataStreams))
	for _, sc := range cfg.DataStreams {
		if sc.ID == "" {
			return nil, fmt.Errorf("stream %q: %w", sc.Name, ErrDuplicateStreamID)
		}
		if _, dup := seen[sc.ID]; dup {
			return nil, fmt.Errorf("stream %q: %w", sc.ID, ErrDuplicateStreamID)
		}
		seen[sc.ID] = struct{}{}
	}

	inst := types.NewServiceInstance(id.NewInstanceID().String(), cfg)

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	r.mu.Unlock()

	r.bus.Publish(bus.ServiceInstantiated, inst.Snapshot())

	// Boot step. It has no failure path, so it runs synchronously and the
	// running snapshot is observable as soon as Create returns.
	now := time.Now()
	inst.Lock()
	inst.Status = types.StatusRunning
	inst.StartedAt = &now
	inst.Unlock()

	r.metrics.IncInstancesCreated()
	r.metrics.SetInstancesActive(r.countRunning())

	r.logger.Info("service instance started",
		zap.String("instance_id", inst.ID),
		zap.String("name", inst.Name),
		zap.String("type", inst.Type),
		zap.Int("streams", len(cfg.DataStreams)),
	)

	r.bus.Publish(bus.ServiceStarted, inst.Snapshot())
	return inst, nil
}

// Get retrieves an instance by id
func (r *Registry) Get(instanceID string) (*types.ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	return inst, ok
}

// List returns all instances in creation order
func (r *Registry) List() []*types.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ServiceInstance, 0, len(r.order))
	for _, instanceID := range r.order {
		out = append(out, r.instances[instanceID])
	}
	return out
}

// Stop cancels any active simulation, forces every stream to stopped, and
// marks the instance stopped. Stopping an already-stopped instance is a
// no-op. Buffers are left as-is for inspection.
func (r *Registry) Stop(instanceID string) error {
	inst, ok := r.Get(instanceID)
	if !ok {
		return fmt.Errorf("stop %s: %w", instanceID, ErrInstanceNotFound)
	}

	// Cancel the run before taking the instance lock: the scheduler's tick
	// holds the lock and Stop waits for the run goroutine to exit.
	if r.stopper != nil {
		r.stopper.Stop(instanceID)
	}

	now := time.Now()
	inst.Lock()
	if inst.Status == types.StatusStopped {
		inst.Unlock()
		return nil
	}
	inst.Status = types.StatusStopped
	inst.StoppedAt = &now
	for _, stream := range inst.Streams {
		stream.Status = types.StreamStopped
	}
	inst.Unlock()

	r.metrics.SetInstancesActive(r.countRunning())

	r.logger.Info("service instance stopped", zap.String("instance_id", instanceID))

	r.bus.Publish(bus.ServiceStopped, inst.Snapshot())
	return nil
}

func (r *Registry) countRunning() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, inst := range r.instances {
		inst.RLock()
		if inst.Status == types.StatusRunning {
			count++
		}
		inst.RUnlock()
	}
	return count
}
