// Package api hosts the watch-mode HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
//   - POST /v1/runs to request an immediate run.
package api
