// Package api hosts the status server that lets operators watch a crawl from
// outside the terminal. Notable routes:
//   - GET /healthz and /readyz for liveness and store reachability.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/addresses/next for the address the next crawl step will claim.
//   - GET /v1/addresses/{id} and /v1/pages/{id} for individual records.
package api
