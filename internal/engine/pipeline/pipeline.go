// Package pipeline implements per-record stream processing: format
// transform, optional enrichment, and bounded buffering.
package pipeline

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mocklab/backend/internal/shared/types"
)

// Format names with explicit transforms; anything else passes through.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// Pipeline performs the per-record processing steps. It owns no stream
// state; buffers live on the streams it is handed.
type Pipeline struct {
	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates a pipeline
func New() *Pipeline {
	return &Pipeline{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Process transforms one record for the given stream, optionally enriches
// it, and appends the result to the stream's bounded buffer. It returns the
// processed record and its serialized size in bytes. The caller holds the
// owning instance's lock.
func (p *Pipeline) Process(stream *types.DataStream, record interface{}, enrich bool) (types.ProcessedRecord, int, error) {
	payload, err := transform(stream.Format, record)
	if err != nil {
		return types.ProcessedRecord{}, 0, fmt.Errorf("transform record for stream %s: %w", stream.ID, err)
	}

	rec := types.ProcessedRecord{Payload: payload}

	if enrich && record != nil {
		serialized, err := sonic.Marshal(payload)
		if err != nil {
			return types.ProcessedRecord{}, 0, fmt.Errorf("serialize payload for stream %s: %w", stream.ID, err)
		}
		rec.Metadata = &types.RecordMetadata{
			StreamID:    stream.ID,
			ProcessedAt: time.Now(),
			Source:      stream.Source,
			Destination: stream.Destination,
		}
		rec.Enrichment = &types.RecordEnrichment{
			SizeBytes: len(serialized),
			Checksum:  djb2(serialized),
			Quality:   p.quality(),
		}
	}

	size, err := sonic.Marshal(rec)
	if err != nil {
		return types.ProcessedRecord{}, 0, fmt.Errorf("serialize record for stream %s: %w", stream.ID, err)
	}

	stream.Append(rec)
	return rec, len(size), nil
}

// transform applies the stream's format. JSON and unknown formats are
// identity; XML wraps the record's JSON serialization in a single <data>
// element (lossless string embedding, no schema-aware mapping).
func transform(format string, record interface{}) (interface{}, error) {
	switch format {
	case FormatXML:
		serialized, err := sonic.Marshal(record)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("<data>%s</data>", serialized), nil
	default:
		return record, nil
	}
}

// quality returns the synthetic quality placeholder in [0,100)
func (p *Pipeline) quality() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() * 100
}

// djb2 is the non-cryptographic rolling hash used for record checksums
func djb2(data []byte) uint64 {
	hash := uint64(5381)
	for _, b := range data {
		hash = hash*33 + uint64(b)
	}
	return hash
}
