// Package api hosts the HTTP server, middleware, and REST handlers for
// operators. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/jobs for submission, listing, and pause/resume/cancel.
//   - /v1/proxies for proxy pool management and health checks.
//   - POST /v1/captcha/solve for direct CAPTCHA solving.
package api
