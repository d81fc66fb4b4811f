package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of state change represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindJobStatus      Kind = "job_status"
	KindSourceDone     Kind = "source_done"
	KindSourceFailed   Kind = "source_failed"
	KindProxyTested    Kind = "proxy_tested"
	KindProxyBlocked   Kind = "proxy_blocked"
	KindCaptchaAttempt Kind = "captcha_attempt"
)

// Event captures a single observable state change.
type Event struct {
	// Kind identifies the change.
	Kind Kind `json:"kind"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// JobID scopes job, source, and job-bound CAPTCHA events.
	JobID string `json:"job_id,omitempty"`
	// Status carries the new job status, proxy status, or CAPTCHA task status.
	Status string `json:"status,omitempty"`
	// Source names the registry site for source events.
	Source string `json:"source,omitempty"`
	// ProxyID identifies the proxy for proxy events.
	ProxyID string `json:"proxy_id,omitempty"`
	// Service names the CAPTCHA provider.
	Service string `json:"solver_service,omitempty"`
	// Records counts normalized records produced by a source.
	Records int `json:"records,omitempty"`
	// Cost is the monetary cost attributed to this change.
	Cost float64 `json:"cost,omitempty"`
	// Dur captures latency for probes, solves, and source runs.
	Dur time.Duration `json:"duration_ns,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobStatus:
		if e.JobID == "" || e.Status == "" {
			return errors.New("job status requires job id and status")
		}
	case KindSourceDone, KindSourceFailed:
		if e.JobID == "" || e.Source == "" {
			return errors.New("source event requires job id and source")
		}
	case KindProxyTested, KindProxyBlocked:
		if e.ProxyID == "" {
			return errors.New("proxy event requires proxy id")
		}
	case KindCaptchaAttempt:
		if e.Service == "" {
			return errors.New("captcha attempt requires solver service")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Cost < 0 {
		return errors.New("cost must be >= 0")
	}
	return nil
}
