package crawler

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel error classes. Typed errors below match them with errors.Is.
var (
	ErrTransport        = errors.New("transport failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrNon2xx           = errors.New("non-2xx response")
	ErrExhaustedRetries = errors.New("exhausted retries")
	ErrParse            = errors.New("parse failure")
)

// FetchReason classifies why a fetch produced no usable page.
type FetchReason string

// Fetch failure reasons.
const (
	ReasonExhaustedRetries FetchReason = "exhausted-retries"
	ReasonNon2xx           FetchReason = "non-2xx"
	ReasonTransport        FetchReason = "transport"
)

// FetchError is returned once the fetch client gives up on a URL.
type FetchError struct {
	Reason     FetchReason
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s after %d attempt(s)", e.URL, e.Reason, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps the reason onto the sentinel classes.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrExhaustedRetries:
		return e.Reason == ReasonExhaustedRetries
	case ErrNon2xx:
		return e.Reason == ReasonNon2xx
	case ErrTransport:
		return e.Reason == ReasonTransport
	case ErrRateLimited:
		return IsRateLimitStatus(e.StatusCode)
	}
	return false
}

// IsRateLimitStatus reports whether the origin used code to signal throttling.
func IsRateLimitStatus(code int) bool {
	return code == 403 || code == 429
}

// ParseError wraps malformed HTML for one page.
type ParseError struct {
	Page string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
