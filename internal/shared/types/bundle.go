package types

import "time"

// BundleStatus represents bundle states
type BundleStatus string

const (
	BundleActive   BundleStatus = "active"
	BundleInactive BundleStatus = "inactive"
)

// StreamLink records a composed connection between two streams whose
// declared endpoints matched during bundling.
type StreamLink struct {
	From     string `json:"from"` // upstream stream id
	To       string `json:"to"`   // downstream stream id
	Endpoint string `json:"endpoint"`
}

// Bundle is a named composition of instances. Membership and links are
// immutable after creation.
type Bundle struct {
	ID        string
	CreatedAt time.Time
	Status    BundleStatus
	Members   []*ServiceInstance
	Links     []StreamLink
}

// BundleSnapshot is a copy of a bundle safe for serialization
type BundleSnapshot struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Status    BundleStatus       `json:"status"`
	Services  []InstanceSnapshot `json:"services"`
	Streams   []StreamSnapshot   `json:"streams"`
	Links     []StreamLink       `json:"links"`
}

// Snapshot copies the bundle, locking each member in turn. Streams are the
// union of member streams in composition order.
func (b *Bundle) Snapshot() BundleSnapshot {
	snap := BundleSnapshot{
		ID:        b.ID,
		CreatedAt: b.CreatedAt,
		Status:    b.Status,
		Services:  make([]InstanceSnapshot, 0, len(b.Members)),
		Links:     append([]StreamLink(nil), b.Links...),
	}
	for _, inst := range b.Members {
		is := inst.Snapshot()
		snap.Services = append(snap.Services, is)
		snap.Streams = append(snap.Streams, is.Streams...)
	}
	return snap
}

// EndpointDescriptor describes one hypothetical REST endpoint for a bundle
// member. Metadata only; no listener is created for it.
type EndpointDescriptor struct {
	Service     string `json:"service"`
	Kind        string `json:"kind"` // status, metrics or data
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// BundleAPIConfig is the derived, descriptive API surface of a bundle
type BundleAPIConfig struct {
	BundleID  string               `json:"bundle_id"`
	Endpoints []EndpointDescriptor `json:"endpoints"`
}
