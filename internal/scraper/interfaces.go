package scraper

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJob(ctx context.Context, jobID string, patch JobPatch) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// CompanyStore bulk-inserts and reads normalized company records.
type CompanyStore interface {
	InsertCompanies(ctx context.Context, companies []Company) error
	ListCompanies(ctx context.Context, jobID string, limit, offset int) ([]Company, error)
}

// ProxyStore persists proxy records.
type ProxyStore interface {
	CreateProxy(ctx context.Context, proxy ProxyServer) error
	GetProxy(ctx context.Context, proxyID string) (ProxyServer, error)
	UpdateProxy(ctx context.Context, proxyID string, patch ProxyPatch) (ProxyServer, error)
	DeleteProxy(ctx context.Context, proxyID string) error
	ListProxies(ctx context.Context, filter ProxyFilter) ([]ProxyServer, error)
}

// CaptchaStore persists the CAPTCHA audit log.
type CaptchaStore interface {
	CreateTask(ctx context.Context, task CaptchaTask) error
	SaveTask(ctx context.Context, task CaptchaTask) error
	ListTasks(ctx context.Context, jobID string) ([]CaptchaTask, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notification events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for scraping jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for archived documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
