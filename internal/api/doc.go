// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /races and /races/{date} for stored results as JSON.
//   - GET /download/races[/{date}] for the same results as a PDF report.
//   - POST /v1/crawl and GET /v1/crawl/status to trigger and watch a crawl.
package api
