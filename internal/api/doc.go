// Package api hosts the HTTP server, middleware, and handlers of the
// retrieval service. Notable routes:
//   - GET / and /healthz for liveness probes.
//   - GET /health for corpus size, cache entries and retrieval mode.
//   - GET /metrics for Prometheus scraping.
//   - GET /search for ranked, filtered and paginated publication search.
//   - POST /classify and /cluster forwarding text to optional collaborators.
package api
