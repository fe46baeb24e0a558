// Package api hosts the HTTP control surface for operators. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the listing store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for engine progress and hourly error budgets.
//   - POST /v1/crawl/stop for a cooperative stop.
//   - GET /v1/sources and PUT /v1/sources/{name}/active for activation.
package api
