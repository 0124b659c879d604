package types

import "time"

// SimulationData is published for every record pushed through a stream
type SimulationData struct {
	InstanceID string          `json:"instance_id"`
	StreamID   string          `json:"stream_id"`
	Data       ProcessedRecord `json:"data"`
	Metrics    StreamMetrics   `json:"metrics"`
}

// SimulationError is published when a tick fails; the run continues
type SimulationError struct {
	InstanceID string `json:"instance_id"`
	Error      string `json:"error"`
}

// SimulationComplete is published once a run's duration elapses.
// Recordings is nil when recording was disabled.
type SimulationComplete struct {
	InstanceID   string      `json:"instance_id"`
	MessageCount int64       `json:"message_count"`
	Recordings   []Recording `json:"recordings"`
}

// Recording is one entry of a run's in-memory record log
type Recording struct {
	Timestamp  time.Time       `json:"timestamp"`
	InstanceID string          `json:"instance_id"`
	StreamID   string          `json:"stream_id"`
	Data       ProcessedRecord `json:"data"`
}
