// Package poschodech polls the Poschodoch metering portal and exposes the
// daily readings of one flat as sensors.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: authenticated portal client and record normalization
//   - coordinator: refresh cycle and the cached snapshot
//   - entity: one sensor per meter, keyed by Record Key
//   - scheduler: periodic refreshes
//   - grpc: gRPC health checking
//   - httpserver: JSON API and Prometheus metrics
//   - config: file and environment configuration with live reload
//   - models: shared data structures
//
// Key Features
//
//   - Token handling:
//     The portal token is obtained by a login followed by a unit context
//     exchange. It is cached, renewed shortly before a JWT expires and
//     renewed once more when the portal answers 401.
//
//   - Refreshes:
//     Concurrent refresh requests share one fetch. A failed refresh keeps
//     the previous snapshot and marks the sensors unavailable.
//
//   - Reading window:
//     Readings are requested for yesterday through today in the
//     Europe/Prague time zone.
//
// Example Usage
//
//	curl http://localhost:8080/api/entities
//	curl -X POST http://localhost:8080/api/refresh
//
// For more information about specific packages, see their respective
// documentation.
package poschodech
