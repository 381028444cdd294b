// Package httpserver exposes the meter sensors over HTTP.
//
// Routes:
//
//	GET  /api/entities        all sensors, sorted by key
//	GET  /api/entities/{key}  one sensor, 404 when unknown
//	POST /api/refresh         refresh now, joining a refresh in flight
//	GET  /api/status          readiness and the last refresh result
//	GET  /metrics             Prometheus exposition
package httpserver
