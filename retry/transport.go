package retry

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/go-weconnect/metrics"
)

// Transport re-sends requests according to a Policy.
// When the attempt budget is exhausted the last response is returned as is.
type Transport struct {
	Policy Policy
	Next   http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil) with policy.
func NewTransport(policy Policy, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Policy: policy, Next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := backoff.WithContext(t.Policy.NewBackOff(), req.Context())
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	attempt := req
	for {
		resp, err := t.Next.RoundTrip(attempt)
		if !rewindable || !t.shouldRetry(req, resp, err) {
			return resp, err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return resp, err
		}

		status := "error"
		if resp != nil {
			status = strconv.Itoa(resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		metrics.Retries.WithLabelValues(status).Inc()

		if err := sleep(req, wait); err != nil {
			return nil, err
		}

		attempt = req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
	}
}

func (t *Transport) shouldRetry(req *http.Request, resp *http.Response, err error) bool {
	if err != nil {
		return req.Context().Err() == nil && t.Policy.IsMethodRetryable(req.Method)
	}
	return t.Policy.IsRetry(req.Method, resp.StatusCode, resp.Header.Get("Retry-After") != "")
}

func sleep(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
