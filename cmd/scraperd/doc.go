// Package main hosts the business-registry scraper service.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job, proxy, and CAPTCHA endpoints. Job submissions are
//     validated by the coordinator, persisted as pending, and queued; the request never waits for scraping.
//   - Queue & workers: jobs flow through the memory queue (sized by scraper.queue_depth) or a Redis list, and are
//     drained by a fixed worker pool sized by scraper.workers. Each worker hands one job at a time to the coordinator.
//   - Coordinator: runs a job's sources in order through the source pipeline, persisting progress, cost, and error
//     logs after each source. Pause, resume, and cancel act on a per-job handle; on startup, jobs left pending or
//     running by a previous process are queued again.
//   - Source pipeline: optional proxy selection, per-source rate limiting, a Colly fetch, optional raw page archive
//     (memory/local/GCS), CAPTCHA detection and solving through 2captcha or Anti-Captcha, then goquery extraction.
//   - Persistence & fanout: Postgres via pgx when db.dsn is set, in-memory stores otherwise. Lifecycle events are
//     batched by the progress hub and sent to Pub/Sub (or an in-memory publisher), Prometheus, and optionally logs.
//
// Quick checklist:
//   - Configure env vars with the SCRAPER_ prefix, e.g. SCRAPER_SERVER_PORT, SCRAPER_DB_DSN, SCRAPER_QUEUE_BACKEND,
//     SCRAPER_STORAGE_BACKEND, SCRAPER_PUBSUB_PROJECT_ID. Solver keys also load from TWOCAPTCHA_API_KEY and
//     ANTICAPTCHA_API_KEY.
//   - Run locally: go run ./cmd/scraperd -config config.yaml (or rely solely on env overrides).
//   - SIGINT/SIGTERM stop the HTTP server and abort in-flight jobs; their records stay running so the next start
//     picks them up.
package main
