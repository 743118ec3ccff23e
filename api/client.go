// Package api fetches JSON documents from the vendor API through an authenticated session,
// serving recent responses from the session's cache.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/metrics"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/rs/zerolog"
)

// Client fetches API data for one session. Like the session, it is not safe for concurrent use.
type Client struct {
	session *auth.Session
	maxAge  time.Duration
	logger  zerolog.Logger
}

type Option func(*Client)

// WithMaxAge serves cached responses younger than d. Zero always fetches.
func WithMaxAge(d time.Duration) Option {
	return func(c *Client) {
		c.maxAge = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(session *auth.Session, opts ...Option) *Client {
	c := &Client{session: session, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fetchOptions struct {
	force          bool
	allowEmpty     bool
	allowHTTPError bool
	allowedStatus  []int
}

type FetchOption func(*fetchOptions)

// Force skips the cache.
func Force() FetchOption {
	return func(o *fetchOptions) {
		o.force = true
	}
}

// AllowEmpty returns nil data instead of an error for bodies that are not JSON.
func AllowEmpty() FetchOption {
	return func(o *fetchOptions) {
		o.allowEmpty = true
	}
}

// AllowHTTPError returns nil data instead of an error for unexpected statuses. When statuses
// are given only those are tolerated.
func AllowHTTPError(statuses ...int) FetchOption {
	return func(o *fetchOptions) {
		o.allowHTTPError = true
		o.allowedStatus = append(o.allowedStatus, statuses...)
	}
}

func (o fetchOptions) tolerates(status int) bool {
	if !o.allowHTTPError {
		return false
	}
	return len(o.allowedStatus) == 0 || slices.Contains(o.allowedStatus, status)
}

func isData(status int) bool {
	return status == http.StatusOK || status == http.StatusMultiStatus
}

// FetchData returns the JSON document at url. A 401 triggers one login and one retry.
func (c *Client) FetchData(ctx context.Context, url string, opts ...FetchOption) (json.RawMessage, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.force && c.maxAge > 0 {
		if data, ok := c.session.Cache().Fresh(url, c.maxAge, c.session.Now()); ok {
			metrics.Fetches.WithLabelValues(metrics.SourceCache, metrics.ResultSuccess).Inc()
			return data, nil
		}
	}

	data, err := c.fetch(ctx, url, o)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	metrics.Fetches.WithLabelValues(metrics.SourceNetwork, result).Inc()
	return data, err
}

func (c *Client) fetch(ctx context.Context, url string, o fetchOptions) (json.RawMessage, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case isData(resp.StatusCode):
		return c.decode(url, resp, o)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Statusf(oauthmodel.ErrTooManyRequests, resp, "[Client.FetchData] could not fetch data due to too many requests from your account")
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Info().Str("url", url).Msg("Server asks for new authorization")
		if err := c.session.Login(ctx); err != nil {
			return nil, err
		}
		retried, err := c.get(ctx, url)
		if err != nil {
			return nil, err
		}
		defer retried.Body.Close()
		if isData(retried.StatusCode) {
			return c.decode(url, retried, o)
		}
		if o.tolerates(retried.StatusCode) {
			return nil, nil
		}
		return nil, errors.Statusf(oauthmodel.ErrRetrieval, retried, "[Client.FetchData] could not fetch data even after re-authorization")
	case o.tolerates(resp.StatusCode):
		return nil, nil
	default:
		return nil, errors.Statusf(oauthmodel.ErrRetrieval, resp, "[Client.FetchData] could not fetch data")
	}
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	return c.session.Request(ctx, http.MethodGet, url, auth.WithoutRedirects())
}

func (c *Client) decode(url string, resp *http.Response, o fetchOptions) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(oauthmodel.ErrRetrieval, "[Client.FetchData] reading body: %v", err)
	}
	if !json.Valid(body) {
		if o.allowEmpty {
			return nil, nil
		}
		return nil, errors.Wrapf(oauthmodel.ErrRetrieval, "[Client.FetchData] JSON decode error for %s", url)
	}
	data := json.RawMessage(body)
	c.session.Cache().Put(url, data, c.session.Now())
	return data, nil
}

// Fetch decodes the document at url into a T. It returns nil when FetchData returns no data.
func Fetch[T any](ctx context.Context, c *Client, url string, opts ...FetchOption) (*T, error) {
	data, err := c.FetchData(ctx, url, opts...)
	if err != nil || data == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(oauthmodel.ErrRetrieval, "[Fetch] decoding %s: %v", url, err)
	}
	return &v, nil
}
