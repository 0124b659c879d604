// Package main is the entry point for the MockLab backend server.
//
// The server hosts a service instantiation and data-stream simulation
// engine behind a REST API, with a WebSocket feed for the dashboard.
//
// The server provides:
//   - REST API for service instances, simulations, and bundles
//   - WebSocket streaming of engine events
//   - Prometheus metrics and an aggregated JSON summary
//   - Optional seeding of service definitions from disk
//   - Optional webhook forwarding of lifecycle events
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Seeded with service definitions
//	./server -seed ./definitions
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
