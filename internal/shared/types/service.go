package types

import (
	"sync"
	"time"
)

// InstanceStatus represents service instance lifecycle states
type InstanceStatus string

const (
	StatusStarting InstanceStatus = "starting"
	StatusRunning  InstanceStatus = "running"
	StatusStopped  InstanceStatus = "stopped"
	StatusError    InstanceStatus = "error"
)

// StreamStatus represents data stream states
type StreamStatus string

const (
	StreamActive  StreamStatus = "active"
	StreamPaused  StreamStatus = "paused"
	StreamStopped StreamStatus = "stopped"
)

// MaxBufferSize bounds every stream buffer; the oldest record is evicted
// once the bound is exceeded.
const MaxBufferSize = 100

// ServiceConfig declares a service instance and its streams
type ServiceConfig struct {
	Name        string                 `json:"name" yaml:"name" toml:"name"`
	Type        string                 `json:"type" yaml:"type" toml:"type"`
	Config      map[string]interface{} `json:"config,omitempty" yaml:"config" toml:"config"`
	DataStreams []DataStreamConfig     `json:"data_streams,omitempty" yaml:"data_streams" toml:"data_streams"`
}

// DataStreamConfig declares one stream; the ID must be unique within the instance
type DataStreamConfig struct {
	ID          string `json:"id" yaml:"id" toml:"id"`
	Name        string `json:"name" yaml:"name" toml:"name"`
	Source      string `json:"source" yaml:"source" toml:"source"`
	Destination string `json:"destination" yaml:"destination" toml:"destination"`
	Format      string `json:"format" yaml:"format" toml:"format"`
}

// SimulationConfig holds the optional parameters of one simulation run.
// Unset fields fall back to the defaults in Normalize.
type SimulationConfig struct {
	Duration         *int64   `json:"duration,omitempty"`  // milliseconds
	DataRate         *float64 `json:"data_rate,omitempty"` // records per second
	EnableRecording  *bool    `json:"enable_recording,omitempty"`
	EnableEnrichment *bool    `json:"enable_enrichment,omitempty"`
	MockData         *bool    `json:"mock_data,omitempty"`
}

// SimulationParams is a fully resolved SimulationConfig
type SimulationParams struct {
	Duration   time.Duration
	Interval   time.Duration
	DataRate   float64
	Recording  bool
	Enrichment bool
	MockData   bool
}

const (
	DefaultDurationMs = 60000
	DefaultDataRate   = 10.0
)

// Normalize applies defaults and derives the tick interval
func (c SimulationConfig) Normalize() SimulationParams {
	p := SimulationParams{
		Duration:   DefaultDurationMs * time.Millisecond,
		DataRate:   DefaultDataRate,
		Recording:  true,
		Enrichment: true,
		MockData:   true,
	}
	if c.Duration != nil && *c.Duration > 0 {
		p.Duration = time.Duration(*c.Duration) * time.Millisecond
	}
	if c.DataRate != nil && *c.DataRate > 0 {
		p.DataRate = *c.DataRate
	}
	if c.EnableRecording != nil {
		p.Recording = *c.EnableRecording
	}
	if c.EnableEnrichment != nil {
		p.Enrichment = *c.EnableEnrichment
	}
	if c.MockData != nil {
		p.MockData = *c.MockData
	}
	p.Interval = time.Duration(float64(time.Second) / p.DataRate)
	return p
}

// InstanceMetrics tracks per-instance counters; monotonic within a run
type InstanceMetrics struct {
	RequestCount    int64   `json:"request_count"`
	ErrorCount      int64   `json:"error_count"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
	DataProcessed   int64   `json:"data_processed_bytes"`
}

// StreamMetrics tracks per-stream counters
type StreamMetrics struct {
	MessagesProcessed int64   `json:"messages_processed"`
	BytesProcessed    int64   `json:"bytes_processed"`
	Errors            int64   `json:"errors"`
	AvgLatency        float64 `json:"avg_latency_ms"`
}

// RecordMetadata is attached to enriched records
type RecordMetadata struct {
	StreamID    string    `json:"stream_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
}

// RecordEnrichment carries synthetic derived fields. Quality is a random
// placeholder in [0,100), not a real quality metric.
type RecordEnrichment struct {
	SizeBytes int     `json:"size_bytes"`
	Checksum  uint64  `json:"checksum"`
	Quality   float64 `json:"quality"`
}

// ProcessedRecord is the output of one pipeline pass
type ProcessedRecord struct {
	Payload    interface{}       `json:"payload"`
	Metadata   *RecordMetadata   `json:"metadata,omitempty"`
	Enrichment *RecordEnrichment `json:"enrichment,omitempty"`
}

// DataStream is a bounded, unidirectional record conduit. It is guarded by
// the owning instance's lock, never its own.
type DataStream struct {
	ID          string
	Name        string
	Status      StreamStatus
	Source      string
	Destination string
	Format      string
	Metrics     StreamMetrics
	Buffer      []ProcessedRecord
}

// Append adds a processed record, evicting the oldest past MaxBufferSize
func (s *DataStream) Append(rec ProcessedRecord) {
	s.Buffer = append(s.Buffer, rec)
	if len(s.Buffer) > MaxBufferSize {
		s.Buffer = s.Buffer[1:]
	}
}

// StreamSnapshot is a copy of a stream safe for serialization
type StreamSnapshot struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      StreamStatus      `json:"status"`
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Format      string            `json:"format"`
	Metrics     StreamMetrics     `json:"metrics"`
	BufferSize  int               `json:"buffer_size"`
	Buffer      []ProcessedRecord `json:"buffer,omitempty"`
}

// Snapshot copies the stream; the buffer is included only when requested
func (s *DataStream) Snapshot(withBuffer bool) StreamSnapshot {
	snap := StreamSnapshot{
		ID:          s.ID,
		Name:        s.Name,
		Status:      s.Status,
		Source:      s.Source,
		Destination: s.Destination,
		Format:      s.Format,
		Metrics:     s.Metrics,
		BufferSize:  len(s.Buffer),
	}
	if withBuffer {
		snap.Buffer = make([]ProcessedRecord, len(s.Buffer))
		copy(snap.Buffer, s.Buffer)
	}
	return snap
}

// ServiceInstance is one logical service unit. Streams and metrics are
// mutated only while the instance lock is held; the scheduler serializes
// tick execution per instance through it.
type ServiceInstance struct {
	mu sync.RWMutex

	ID        string
	Name      string
	Type      string
	Status    InstanceStatus
	Config    map[string]interface{}
	StartedAt *time.Time
	StoppedAt *time.Time
	Metrics   InstanceMetrics
	Streams   map[string]*DataStream

	streamOrder []string
}

// NewServiceInstance builds an instance in the starting state. Stream ids
// are taken verbatim from configuration; the caller validates uniqueness.
func NewServiceInstance(instanceID string, cfg ServiceConfig) *ServiceInstance {
	inst := &ServiceInstance{
		ID:      instanceID,
		Name:    cfg.Name,
		Type:    cfg.Type,
		Status:  StatusStarting,
		Config:  cfg.Config,
		Streams: make(map[string]*DataStream, len(cfg.DataStreams)),
	}
	for _, sc := range cfg.DataStreams {
		inst.Streams[sc.ID] = &DataStream{
			ID:          sc.ID,
			Name:        sc.Name,
			Status:      StreamActive,
			Source:      sc.Source,
			Destination: sc.Destination,
			Format:      sc.Format,
		}
		inst.streamOrder = append(inst.streamOrder, sc.ID)
	}
	return inst
}

// Lock acquires the instance write lock
func (s *ServiceInstance) Lock() { s.mu.Lock() }

// Unlock releases the instance write lock
func (s *ServiceInstance) Unlock() { s.mu.Unlock() }

// RLock acquires the instance read lock
func (s *ServiceInstance) RLock() { s.mu.RLock() }

// RUnlock releases the instance read lock
func (s *ServiceInstance) RUnlock() { s.mu.RUnlock() }

// OrderedStreams returns streams in configuration order. Caller holds the lock.
func (s *ServiceInstance) OrderedStreams() []*DataStream {
	out := make([]*DataStream, 0, len(s.streamOrder))
	for _, id := range s.streamOrder {
		out = append(out, s.Streams[id])
	}
	return out
}

// InstanceSnapshot is a copy of an instance safe for serialization.
// Stream buffers are summarized, not embedded.
type InstanceSnapshot struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Status    InstanceStatus         `json:"status"`
	Config    map[string]interface{} `json:"config,omitempty"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	StoppedAt *time.Time             `json:"stopped_at,omitempty"`
	Metrics   InstanceMetrics        `json:"metrics"`
	Streams   []StreamSnapshot       `json:"streams"`
}

// Snapshot copies the instance under its read lock
func (s *ServiceInstance) Snapshot() InstanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := InstanceSnapshot{
		ID:        s.ID,
		Name:      s.Name,
		Type:      s.Type,
		Status:    s.Status,
		Config:    s.Config,
		StartedAt: s.StartedAt,
		StoppedAt: s.StoppedAt,
		Metrics:   s.Metrics,
		Streams:   make([]StreamSnapshot, 0, len(s.streamOrder)),
	}
	for _, id := range s.streamOrder {
		snap.Streams = append(snap.Streams, s.Streams[id].Snapshot(false))
	}
	return snap
}
