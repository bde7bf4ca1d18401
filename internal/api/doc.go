// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /crawl to submit a crawl job.
//   - GET /getQueueResult/{queueId} to fetch the results of a finished job.
//   - GET /v1/jobs/{job_id}/status for lifecycle tracking.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
