// Package retry implements the shared retry/backoff policy used by every fetch client.
package retry

import (
	"context"
	"time"
)

// Decision is what the policy wants done after one attempt.
type Decision int

// Policy decisions.
const (
	// Stop means the outcome is final (success or a non-retryable failure).
	Stop Decision = iota
	// Retry means wait Backoff and try again.
	Retry
	// Cooldown means the origin is throttling; wait the longer cooldown and try again.
	Cooldown
)

// Config captures the tunables of a Policy.
type Config struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	RetryStatuses       []int
	CooldownStatuses    []int
	CooldownMultiplier  int
	TransportMultiplier int
}

// DefaultRetryStatuses are the transient statuses retried on every endpoint.
var DefaultRetryStatuses = []int{429, 500, 502, 503, 504}

// Policy is a linear backoff policy: attempt n waits BaseDelay × n, scaled up for
// throttling statuses and transport failures.
type Policy struct {
	maxAttempts         int
	baseDelay           time.Duration
	retryStatuses       map[int]struct{}
	cooldownStatuses    map[int]struct{}
	cooldownMultiplier  int
	transportMultiplier int
}

// New builds a policy, filling unset fields with defaults.
func New(cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = DefaultRetryStatuses
	}
	if cfg.CooldownMultiplier <= 0 {
		cfg.CooldownMultiplier = 4
	}
	if cfg.TransportMultiplier <= 0 {
		cfg.TransportMultiplier = 2
	}
	return &Policy{
		maxAttempts:         cfg.MaxAttempts,
		baseDelay:           cfg.BaseDelay,
		retryStatuses:       toSet(cfg.RetryStatuses),
		cooldownStatuses:    toSet(cfg.CooldownStatuses),
		cooldownMultiplier:  cfg.CooldownMultiplier,
		transportMultiplier: cfg.TransportMultiplier,
	}
}

// MaxAttempts returns the attempt limit.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Classify decides how to treat a response status. Cooldown statuses win over
// retry statuses so that 429 can be promoted to a cooldown per endpoint.
func (p *Policy) Classify(status int) Decision {
	if status >= 200 && status < 300 {
		return Stop
	}
	if _, ok := p.cooldownStatuses[status]; ok {
		return Cooldown
	}
	if _, ok := p.retryStatuses[status]; ok {
		return Retry
	}
	return Stop
}

// Backoff returns the wait before attempt+1, where attempt is 1-based.
func (p *Policy) Backoff(attempt int, decision Decision) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseDelay * time.Duration(attempt)
	if decision == Cooldown {
		delay *= time.Duration(p.cooldownMultiplier)
	}
	return delay
}

// TransportBackoff returns the wait after a connection failure or timeout.
func (p *Policy) TransportBackoff(attempt int) time.Duration {
	return p.Backoff(attempt, Retry) * time.Duration(p.transportMultiplier)
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer and wakes early when ctx is done.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toSet(codes []int) map[int]struct{} {
	out := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}
