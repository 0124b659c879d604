package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRecord is the synthetic telemetry record produced for each tick
type MockRecord struct {
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"`
	Service   string        `json:"service"`
	Type      string        `json:"type"`
	Payload   MockPayload   `json:"payload"`
	Status    string        `json:"status"`
	Resources MockResources `json:"resources"`
}

// MockPayload carries the record's synthetic measurement
type MockPayload struct {
	Value float64 `json:"value"`
}

// MockResources carries fabricated host resource readings
type MockResources struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb"`
	NetworkKBps float64 `json:"network_kbps"`
}

// syntheticGenerator fabricates records with weighted statuses: mostly
// success, occasionally pending or failed.
type syntheticGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSyntheticGenerator() *syntheticGenerator {
	return &syntheticGenerator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *syntheticGenerator) Generate(serviceName, serviceType string) interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := "success"
	switch roll := g.rng.Float64(); {
	case roll < 0.05:
		status = "failed"
	case roll < 0.15:
		status = "pending"
	}

	return MockRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Service:   serviceName,
		Type:      serviceType,
		Payload:   MockPayload{Value: g.rng.Float64() * 1000},
		Status:    status,
		Resources: MockResources{
			CPUPercent:  g.rng.Float64() * 100,
			MemoryMB:    64 + g.rng.Float64()*960,
			NetworkKBps: g.rng.Float64() * 10240,
		},
	}
}
