// Package types provides shared data structures for the MockLab backend.
//
// This package defines the simulation engine's data model, used across
// the registry, scheduler, pipeline and bundle components.
//
// Core Types:
//   - ServiceInstance: Logical service unit created from a ServiceConfig
//   - DataStream: Bounded record conduit attached to an instance
//   - Bundle: Named composition of instances with optional stream links
//   - ProcessedRecord: Record after format transform and enrichment
//
// Configuration Types:
//   - ServiceConfig, DataStreamConfig: Declarative instance definition
//   - SimulationConfig: Parameters of one simulation run
//
// Event Payloads:
//   - SimulationData, SimulationError, SimulationComplete, Recording
//
// Instances carry their own lock; callers that mutate streams or metrics
// must hold it. API consumers work with Snapshot copies only.
package types
