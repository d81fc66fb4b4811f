package scraper

import (
	"net/http"
	"time"
)

// JobKind identifies how a job selects registry records.
type JobKind string

// Supported job kinds.
const (
	JobKindRegion   JobKind = "region"
	JobKindIndustry JobKind = "industry"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindRegion || k == JobKindIndustry
}

// JobStatus represents the lifecycle state of a scraping job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses lists every status an admin transition may start from.
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning, JobStatusPaused}
}

// JobParameters captures per-job configuration requested by the client.
type JobParameters struct {
	Province      string        `json:"province,omitempty"`
	IndustryCode  string        `json:"industry_code,omitempty"`
	Limit         int           `json:"limit,omitempty"`
	Sources       []string      `json:"sources,omitempty"`
	UseProxy      bool          `json:"use_proxy"`
	SolveCaptcha  bool          `json:"solve_captcha"`
	SolverService SolverService `json:"solver_service,omitempty"`
}

// Job is the persisted record for one submitted scraping request.
type Job struct {
	ID            string        `json:"job_id"`
	Kind          JobKind       `json:"job_type"`
	UserID        string        `json:"user_id,omitempty"`
	Parameters    JobParameters `json:"parameters"`
	Status        JobStatus     `json:"status"`
	Progress      int           `json:"progress"`
	TotalRecords  int           `json:"total_records"`
	SuccessCount  int           `json:"success_count"`
	CaptchaSolved int           `json:"captcha_solved"`
	Cost          float64       `json:"cost_tracking"`
	SourcesDone   int           `json:"sources_done"`
	ErrorLogs     []string      `json:"error_logs"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// JobPatch is a partial update applied atomically to a single job record.
// Nil fields are left untouched. When ExpectStatus is non-empty the patch is
// applied only if the stored status is one of the listed values; otherwise
// the store returns ErrStatusConflict. Progress never lowers the stored
// value while the job is non-terminal. Companies are written in the same
// unit as the patch and only when the guard holds.
type JobPatch struct {
	ExpectStatus   []JobStatus
	Status         *JobStatus
	Progress       *int
	TotalRecords   *int
	SuccessCount   *int
	CaptchaSolved  *int
	Cost           *float64
	SourcesDone    *int
	AppendErrorLog string
	StartedAt      *time.Time
	Companies      []Company
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Statuses []JobStatus
	Limit    int
	Offset   int
}

// Company is one normalized business-registry record.
type Company struct {
	TaxCode             string     `json:"tax_code"`
	Name                string     `json:"company_name"`
	LegalRepresentative string     `json:"legal_representative,omitempty"`
	Address             string     `json:"address,omitempty"`
	Province            string     `json:"province,omitempty"`
	District            string     `json:"district,omitempty"`
	Ward                string     `json:"ward,omitempty"`
	IndustryCode        string     `json:"industry_code,omitempty"`
	IndustryName        string     `json:"industry_name,omitempty"`
	CharterCapital      string     `json:"charter_capital,omitempty"`
	EstablishmentDate   *time.Time `json:"establishment_date,omitempty"`
	BusinessStatus      string     `json:"business_status,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	Email               string     `json:"email,omitempty"`
	Website             string     `json:"website,omitempty"`
	SourceWebsite       string     `json:"source_website"`
	JobID               string     `json:"job_id,omitempty"`
}

// ProxyProtocol is the tunnel kind spoken by a proxy.
type ProxyProtocol string

// Supported proxy protocols.
const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// Valid reports whether p is a supported protocol.
func (p ProxyProtocol) Valid() bool {
	switch p {
	case ProxyHTTP, ProxyHTTPS, ProxySOCKS5:
		return true
	default:
		return false
	}
}

// ProxyStatus is the health state of a proxy.
type ProxyStatus string

// Proxy status values. Only active proxies are eligible for selection.
const (
	ProxyStatusTesting  ProxyStatus = "testing"
	ProxyStatusActive   ProxyStatus = "active"
	ProxyStatusBlocked  ProxyStatus = "blocked"
	ProxyStatusInactive ProxyStatus = "inactive"
)

// ProxyServer is a persisted proxy record.
type ProxyServer struct {
	ID             string        `json:"proxy_id"`
	URL            string        `json:"proxy_url"`
	Protocol       ProxyProtocol `json:"proxy_type"`
	Country        string        `json:"country,omitempty"`
	Provider       string        `json:"provider,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"-"`
	Status         ProxyStatus   `json:"status"`
	ResponseTimeMs int64         `json:"response_time"`
	SuccessRate    float64       `json:"success_rate"`
	TestsTotal     int           `json:"tests_total"`
	TestsPassed    int           `json:"tests_passed"`
	CostPerRequest float64       `json:"cost_per_request"`
	LastChecked    *time.Time    `json:"last_checked,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ProxyTestOutcome records one connectivity probe. Stores apply it by
// incrementing the test counters and recomputing the success rate.
type ProxyTestOutcome struct {
	Passed         bool
	ResponseTimeMs int64
	CheckedAt      time.Time
}

// ProxyPatch is a partial update applied atomically to one proxy record.
// With KeepInactive set, Status is ignored when the stored proxy is inactive.
type ProxyPatch struct {
	Status         *ProxyStatus
	KeepInactive   bool
	Country        *string
	Provider       *string
	Username       *string
	Password       *string
	CostPerRequest *float64
	Test           *ProxyTestOutcome
}

// ProxyFilter narrows ListProxies results.
type ProxyFilter struct {
	Status ProxyStatus
}

// ChallengeKind identifies a CAPTCHA variant.
type ChallengeKind string

// Supported challenge kinds.
const (
	ChallengeImage       ChallengeKind = "image_captcha"
	ChallengeRecaptchaV2 ChallengeKind = "recaptcha_v2"
	ChallengeRecaptchaV3 ChallengeKind = "recaptcha_v3"
	ChallengeHCaptcha    ChallengeKind = "hcaptcha"
)

// Valid reports whether k is a known challenge kind.
func (k ChallengeKind) Valid() bool {
	switch k {
	case ChallengeImage, ChallengeRecaptchaV2, ChallengeRecaptchaV3, ChallengeHCaptcha:
		return true
	default:
		return false
	}
}

// NeedsSiteKey reports whether the challenge is a widget that requires a site key.
func (k ChallengeKind) NeedsSiteKey() bool {
	return k == ChallengeRecaptchaV2 || k == ChallengeRecaptchaV3 || k == ChallengeHCaptcha
}

// SolverService names an external CAPTCHA solving provider.
type SolverService string

// Known solver services.
const (
	SolverTwoCaptcha  SolverService = "2captcha"
	SolverAntiCaptcha SolverService = "anticaptcha"
)

// CaptchaStatus is the lifecycle state of a solve attempt.
type CaptchaStatus string

// CAPTCHA task states.
const (
	CaptchaPending CaptchaStatus = "pending"
	CaptchaSolving CaptchaStatus = "solving"
	CaptchaSolved  CaptchaStatus = "solved"
	CaptchaFailed  CaptchaStatus = "failed"
)

// CaptchaTask is the audit record of one solve attempt.
type CaptchaTask struct {
	ID             string        `json:"task_id"`
	Kind           ChallengeKind `json:"captcha_type"`
	Service        SolverService `json:"solver_service"`
	ImageURL       string        `json:"image_url,omitempty"`
	SiteKey        string        `json:"site_key,omitempty"`
	PageURL        string        `json:"page_url,omitempty"`
	ProviderTaskID string        `json:"provider_task_id,omitempty"`
	Status         CaptchaStatus `json:"status"`
	Solution       string        `json:"solution,omitempty"`
	Cost           float64       `json:"cost"`
	SolveTimeMs    int64         `json:"solve_time"`
	Success        bool          `json:"success"`
	ErrorText      string        `json:"error,omitempty"`
	JobID          string        `json:"job_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// FetchRequest captures everything needed to fetch one source page.
type FetchRequest struct {
	JobID    string
	URL      string
	Headers  http.Header
	ProxyURL string
}

// FetchResponse is the raw document returned by a Fetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string `json:"job_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
	Recovered bool   `json:"recovered,omitempty"`
}
