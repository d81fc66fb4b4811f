package scraper

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and test
// with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrNetwork              = errors.New("network error")
	ErrCaptchaBlocked       = errors.New("captcha blocked")
	ErrSolveTimeout         = errors.New("captcha solve timeout")
	ErrNoProviderConfigured = errors.New("no captcha provider configured")
	ErrPersistence          = errors.New("persistence error")
	ErrUnsupportedSource    = errors.New("unsupported source")
	ErrNotFound             = errors.New("not found")
	ErrStatusConflict       = errors.New("status conflict")
)

// Validationf builds an ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorKind returns a short, stable label for err suitable for log fields
// and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCaptchaBlocked):
		return "captcha_blocked"
	case errors.Is(err, ErrSolveTimeout):
		return "solve_timeout"
	case errors.Is(err, ErrNoProviderConfigured):
		return "no_provider"
	case errors.Is(err, ErrUnsupportedSource):
		return "unsupported_source"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStatusConflict):
		return "status_conflict"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "internal"
	}
}
