// Package api hosts the coordinator's status server. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /report for a JSON snapshot of the run report.
package api
