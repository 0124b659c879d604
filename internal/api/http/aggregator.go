package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/stat"
)

// fleetStats summarizes a metric distribution across instances
type fleetStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
}

// FleetMetrics aggregates engine and per-instance metrics into one JSON
// summary. Prometheus exposition stays on /metrics; this endpoint feeds the
// dashboard's overview panel.
func (h *Handlers) FleetMetrics(c *gin.Context) {
	instances := h.registry.List()

	var (
		running       int
		requestCount  int64
		errorCount    int64
		dataProcessed int64
		responseTimes []float64
	)
	for _, inst := range instances {
		snap := inst.Snapshot()
		if snap.Status == "running" {
			running++
		}
		requestCount += snap.Metrics.RequestCount
		errorCount += snap.Metrics.ErrorCount
		dataProcessed += snap.Metrics.DataProcessed
		if snap.Metrics.RequestCount > 0 {
			responseTimes = append(responseTimes, snap.Metrics.AvgResponseTime)
		}
	}

	engine := h.metrics.GetSnapshot()

	c.JSON(http.StatusOK, gin.H{
		"timestamp":      time.Now(),
		"uptime_seconds": h.metrics.UptimeSeconds(),
		"instances": gin.H{
			"total":   len(instances),
			"running": running,
		},
		"simulations": gin.H{
			"active": engine.ActiveRuns,
		},
		"totals": gin.H{
			"requests":       requestCount,
			"errors":         errorCount,
			"data_processed": dataProcessed,
		},
		"response_time_ms": distribution(responseTimes),
	})
}

// distribution computes mean/median/stddev; empty input yields zeros
// rather than NaNs.
func distribution(values []float64) fleetStats {
	if len(values) == 0 {
		return fleetStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	out := fleetStats{
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		out.StdDev = stat.StdDev(sorted, nil)
	}
	return out
}
