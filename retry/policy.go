// Package retry implements the transport-level retry policy for vendor HTTP calls.
package retry

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values used by sessions.
const (
	DefaultBackoffFactor = 100 * time.Millisecond
	DefaultMaxBackoff    = 120 * time.Second
)

var (
	idempotentMethods = map[string]bool{
		http.MethodDelete:  true,
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodOptions: true,
		http.MethodPut:     true,
		http.MethodTrace:   true,
	}

	retryAfterStatusCodes = map[int]bool{
		http.StatusRequestEntityTooLarge: true,
		http.StatusTooManyRequests:       true,
		http.StatusServiceUnavailable:    true,
	}
)

// Policy decides whether a response is re-sent.
// The blacklist is checked before anything else: a 429 is never retried here, callers
// surface it and back off on their own schedule.
type Policy struct {
	Total           int
	BackoffFactor   time.Duration
	MaxBackoff      time.Duration
	StatusForcelist map[int]bool
	StatusBlacklist map[int]bool
}

// NewPolicy returns the policy used for vendor calls: retry 500, never retry 429.
func NewPolicy(total int) Policy {
	return Policy{
		Total:           total,
		BackoffFactor:   DefaultBackoffFactor,
		MaxBackoff:      DefaultMaxBackoff,
		StatusForcelist: map[int]bool{http.StatusInternalServerError: true},
		StatusBlacklist: map[int]bool{http.StatusTooManyRequests: true},
	}
}

// IsRetry reports whether a response with the given status should be re-sent.
// It does not consider the remaining attempt budget.
func (p Policy) IsRetry(method string, statusCode int, hasRetryAfter bool) bool {
	if p.StatusBlacklist[statusCode] {
		return false
	}
	if !p.IsMethodRetryable(method) {
		return false
	}
	if p.StatusForcelist[statusCode] {
		return true
	}
	return p.Total > 0 && hasRetryAfter && retryAfterStatusCodes[statusCode]
}

// IsMethodRetryable reports whether requests with method may be sent twice.
func (p Policy) IsMethodRetryable(method string) bool {
	return idempotentMethods[method]
}

// NewBackOff returns the wait schedule for one request: factor, 2*factor, 4*factor, ...
// capped at MaxBackoff and stopped after Total retries.
func (p Policy) NewBackOff() backoff.BackOff {
	if p.Total <= 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BackoffFactor
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(p.Total))
}
