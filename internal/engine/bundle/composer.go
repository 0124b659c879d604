// Package bundle composes groups of service instances into bundles with
// optional stream linking and a derived, metadata-only API surface.
package bundle

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
	// ErrBundleNotFound is returned for unknown bundle ids
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrNoMembers is returned when a bundle is requested with no configs
	ErrNoMembers = errors.New("bundle requires at least one service config")
)

// Instantiator creates and stops service instances; satisfied by the registry
type Instantiator interface {
	Create(cfg types.ServiceConfig) (*types.ServiceInstance, error)
	Stop(instanceID string) error
}

// Options controls bundle composition
type Options struct {
	EnableDataFlow bool `json:"enable_data_flow"`
}

// Composer builds bundles by instantiating service configs through the
// registry. Membership is immutable once composed.
type Composer struct {
	mu      sync.RWMutex
	bundles map[string]*types.Bundle
	order   []string

	registry Instantiator
	bus      *bus.Bus
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// New creates a composer
func New(registry Instantiator, b *bus.Bus, logger *logging.Logger, metrics *monitoring.Metrics) *Composer {
	return &Composer{
		bundles:  make(map[string]*types.Bundle),
		registry: registry,
		bus:      b,
		logger:   logger,
		metrics:  metrics,
	}
}

// Bundle instantiates every config in order and composes the results. A
// failure at member k stops the k-1 already created members and aborts;
// partial bundles are never stored.
func (c *Composer) Bundle(configs []types.ServiceConfig, opts Options) (*types.Bundle, error) {
	if len(configs) == 0 {
		return nil, ErrNoMembers
	}

	members := make([]*types.ServiceInstance, 0, len(configs))
	for i, cfg := range configs {
		inst, err := c.registry.Create(cfg)
		if err != nil {
			for _, created := range members {
				if stopErr := c.registry.Stop(created.ID); stopErr != nil {
					c.logger.Warn("bundle rollback stop failed",
						zap.String("instance_id", created.ID),
						zap.Error(stopErr),
					)
				}
			}
			return nil, fmt.Errorf("instantiate bundle member %d (%s): %w", i, cfg.Name, err)
		}
		members = append(members, inst)
	}

	bnd := &types.Bundle{
		ID:        id.NewBundleID().String(),
		CreatedAt: time.Now(),
		Status:    types.BundleActive,
		Members:   members,
	}
	if opts.EnableDataFlow {
		bnd.Links = linkAdjacent(members)
	}

	c.mu.Lock()
	c.bundles[bnd.ID] = bnd
	c.order = append(c.order, bnd.ID)
	c.mu.Unlock()

	c.metrics.IncBundles()
	c.logger.Info("bundle created",
		zap.String("bundle_id", bnd.ID),
		zap.Int("services", len(members)),
		zap.Int("links", len(bnd.Links)),
		zap.Bool("data_flow", opts.EnableDataFlow),
	)
	c.bus.Publish(bus.BundleCreated, bnd.Snapshot())

	return bnd, nil
}

// Get returns a bundle by id
func (c *Composer) Get(bundleID string) (*types.Bundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bnd, ok := c.bundles[bundleID]
	return bnd, ok
}

// List returns bundles in creation order
func (c *Composer) List() []*types.Bundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Bundle, 0, len(c.order))
	for _, bundleID := range c.order {
		out = append(out, c.bundles[bundleID])
	}
	return out
}

// APIConfig derives the bundle's descriptive endpoint surface: status,
// metrics and data-ingest descriptors per member. No listener is created.
func (c *Composer) APIConfig(bundleID string) (types.BundleAPIConfig, error) {
	bnd, ok := c.Get(bundleID)
	if !ok {
		return types.BundleAPIConfig{}, fmt.Errorf("api config for %s: %w", bundleID, ErrBundleNotFound)
	}

	cfg := types.BundleAPIConfig{
		BundleID:  bundleID,
		Endpoints: make([]types.EndpointDescriptor, 0, len(bnd.Members)*3),
	}
	for _, inst := range bnd.Members {
		base := fmt.Sprintf("/api/bundle/%s/%s", bundleID, inst.Name)
		cfg.Endpoints = append(cfg.Endpoints,
			types.EndpointDescriptor{
				Service:     inst.Name,
				Kind:        "status",
				Method:      "GET",
				Path:        base + "/status",
				Description: fmt.Sprintf("Lifecycle status of %s", inst.Name),
			},
			types.EndpointDescriptor{
				Service:     inst.Name,
				Kind:        "metrics",
				Method:      "GET",
				Path:        base + "/metrics",
				Description: fmt.Sprintf("Runtime metrics of %s", inst.Name),
			},
			types.EndpointDescriptor{
				Service:     inst.Name,
				Kind:        "data",
				Method:      "POST",
				Path:        base + "/data",
				Description: fmt.Sprintf("Data ingest for %s", inst.Name),
			},
		)
	}
	return cfg, nil
}

// linkAdjacent records a link for every adjacent stream pair whose declared
// destination names the next stream's source. The scan is positional over
// the flattened member stream list, not an all-pairs topology match.
func linkAdjacent(members []*types.ServiceInstance) []types.StreamLink {
	var streams []*types.DataStream
	for _, inst := range members {
		inst.RLock()
		streams = append(streams, inst.OrderedStreams()...)
		inst.RUnlock()
	}

	var links []types.StreamLink
	for i := 0; i+1 < len(streams); i++ {
		upstream, downstream := streams[i], streams[i+1]
		if upstream.Destination == "" {
			continue
		}
		if upstream.Destination == downstream.Source {
			links = append(links, types.StreamLink{
				From:     upstream.ID,
				To:       downstream.ID,
				Endpoint: upstream.Destination,
			})
		}
	}
	return links
}
