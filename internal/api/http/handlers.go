// Package http exposes the engine over a REST API.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/bytedance/sonic"

	"github.com/mocklab/backend/internal/engine/bundle"
	"github.com/mocklab/backend/internal/engine/registry"
	"github.com/mocklab/backend/internal/engine/scheduler"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/infrastructure/monitoring"
	"github.com/mocklab/backend/internal/shared/types"
)

// Handlers bundles the engine components behind the REST surface
type Handlers struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bundles   *bundle.Composer
	metrics   *monitoring.Metrics
	logger    *logging.Logger
}

// NewHandlers creates the handler set
func NewHandlers(
	reg *registry.Registry,
	sched *scheduler.Scheduler,
	bundles *bundle.Composer,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		registry:  reg,
		scheduler: sched,
		bundles:   bundles,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes attaches every REST route to the router
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	router.POST("/services", h.CreateService)
	router.GET("/services", h.ListServices)
	router.GET("/services/:id", h.GetService)
	router.DELETE("/services/:id", h.StopService)
	router.POST("/services/:id/simulate", h.StartSimulation)
	router.DELETE("/services/:id/simulate", h.StopSimulation)
	router.GET("/services/:id/streams/:streamID", h.GetStream)
	router.GET("/services/:id/recordings", h.ExportRecordings)

	router.POST("/bundles", h.CreateBundle)
	router.GET("/bundles", h.ListBundles)
	router.GET("/bundles/:id", h.GetBundle)
	router.GET("/bundles/:id/api-config", h.GetBundleAPIConfig)

	router.GET("/metrics/json", h.FleetMetrics)
}

// Root returns the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "mocklab-backend",
		"version": "1.0.0",
		"status":  "running",
	})
}

// Health returns health status
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": h.metrics.UptimeSeconds(),
		"instances":      len(h.registry.List()),
	})
}

// CreateService instantiates a service from its configuration
func (h *Handlers) CreateService(c *gin.Context) {
	var cfg types.ServiceConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request: " + err.Error(),
		})
		return
	}

	inst, err := h.registry.Create(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"service": inst.Snapshot(),
	})
}

// ListServices returns snapshots of every instance in creation order
func (h *Handlers) ListServices(c *gin.Context) {
	instances := h.registry.List()
	services := make([]types.InstanceSnapshot, 0, len(instances))
	for _, inst := range instances {
		services = append(services, inst.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"services": services,
	})
}

// GetService returns one instance snapshot
func (h *Handlers) GetService(c *gin.Context) {
	inst, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "service not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"service": inst.Snapshot(),
	})
}

// StopService stops an instance and any active simulation
func (h *Handlers) StopService(c *gin.Context) {
	if err := h.registry.Stop(c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrInstanceNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StartSimulation begins a simulation run; completion is reported through
// the event feed, not this response.
func (h *Handlers) StartSimulation(c *gin.Context) {
	var cfg types.SimulationConfig
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid request: " + err.Error(),
			})
			return
		}
	}

	runID, err := h.scheduler.Start(c.Param("id"), cfg)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrInstanceNotFound):
			status = http.StatusNotFound
		case errors.Is(err, scheduler.ErrSimulationActive):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"run_id":  runID,
	})
}

// StopSimulation cancels the instance's active run; stopping with no run
// active is a no-op.
func (h *Handlers) StopSimulation(c *gin.Context) {
	h.scheduler.Stop(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// GetStream returns one stream snapshot including its buffer
func (h *Handlers) GetStream(c *gin.Context) {
	inst, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "service not found",
		})
		return
	}

	inst.RLock()
	stream, ok := inst.Streams[c.Param("streamID")]
	var snap types.StreamSnapshot
	if ok {
		snap = stream.Snapshot(true)
	}
	inst.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "stream not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stream":  snap,
	})
}

// ExportRecordings streams the last finished run's recordings as
// gzip-compressed JSON.
func (h *Handlers) ExportRecordings(c *gin.Context) {
	instanceID := c.Param("id")
	recs, err := h.scheduler.LastRecordings(instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	payload, err := sonic.Marshal(gin.H{
		"instance_id": instanceID,
		"count":       len(recs),
		"recordings":  recs,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-recordings.json.gz", instanceID))
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	if _, err := gz.Write(payload); err != nil {
		h.logger.Warn("recordings export write failed",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
	if err := gz.Close(); err != nil {
		h.logger.Warn("recordings export flush failed",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
}

// bundleRequest is the composition payload
type bundleRequest struct {
	Configs        []types.ServiceConfig `json:"configs" binding:"required"`
	EnableDataFlow bool                  `json:"enable_data_flow"`
}

// CreateBundle composes a bundle from service configurations
func (h *Handlers) CreateBundle(c *gin.Context) {
	var req bundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request: " + err.Error(),
		})
		return
	}

	bnd, err := h.bundles.Bundle(req.Configs, bundle.Options{EnableDataFlow: req.EnableDataFlow})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"bundle":  bnd.Snapshot(),
	})
}

// ListBundles returns every bundle in creation order
func (h *Handlers) ListBundles(c *gin.Context) {
	all := h.bundles.List()
	snaps := make([]types.BundleSnapshot, 0, len(all))
	for _, bnd := range all {
		snaps = append(snaps, bnd.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bundles": snaps,
	})
}

// GetBundle returns one bundle snapshot
func (h *Handlers) GetBundle(c *gin.Context) {
	bnd, ok := h.bundles.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "bundle not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bundle":  bnd.Snapshot(),
	})
}

// GetBundleAPIConfig returns the bundle's descriptive endpoint surface
func (h *Handlers) GetBundleAPIConfig(c *gin.Context) {
	cfg, err := h.bundles.APIConfig(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"api_config": cfg,
	})
}
