// Package health exposes the outcome of recent phone checks over HTTP.
//
// [Metrics] keeps lock-free counters that the checker updates after each
// check and mirrors them into a private Prometheus registry. [Server]
// serves them with gin:
//
//	GET /health   200 with the JSON counters
//	GET /ready    200 until a check fails, 503 while the last check failed
//	GET /metrics  Prometheus text exposition
package health
