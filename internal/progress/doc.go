// Package progress provides the notification events, non-blocking hub, and
// emitter interface the engine uses to announce job, source, proxy, and
// CAPTCHA state changes. Events are batched on a background goroutine and fanned
// out to pluggable sinks such as structured logs, Prometheus, or Pub/Sub.
// Delivery is best effort; persisted state stays the source of truth.
package progress
