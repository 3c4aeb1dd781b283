// Package api hosts the HTTP trigger for on-demand syncs. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sync/{source} to queue a run (?date=YYYY-MM-DD&dry_run=true).
//   - GET /v1/runs and /v1/runs/{run_id} to inspect queued and finished runs.
package api
