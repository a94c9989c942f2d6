// Package api hosts the HTTP management surface for the crawl scheduler.
// Notable routes:
//   - GET /healthz for liveness probes and GET /metrics for Prometheus.
//   - /v1/crawler/... to start or stop the loop and read status and statistics.
//   - /v1/targets/... to list, add, remove and run crawl targets.
//   - GET /v1/businesses to query discovered businesses.
package api
