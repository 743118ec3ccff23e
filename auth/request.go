package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/metrics"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
)

// attachResult is the outcome of putting a bearer token on a request.
type attachResult int

const (
	attachOK attachResult = iota
	attachMissingToken
	attachExpiredToken
	attachInsecure
)

func (r attachResult) err(rawURL string) error {
	switch r {
	case attachMissingToken:
		return fmt.Errorf("[Session.AddToken] %s: %w", rawURL, oauthmodel.ErrMissingToken)
	case attachExpiredToken:
		return fmt.Errorf("[Session.AddToken] %s: %w", rawURL, oauthmodel.ErrTokenExpired)
	case attachInsecure:
		return fmt.Errorf("[Session.AddToken] %s: %w", rawURL, oauthmodel.ErrInsecureTransport)
	default:
		return nil
	}
}

type requestOptions struct {
	accessType oauthmodel.AccessType
	token      string
	body       []byte
	header     http.Header
	timeout    time.Duration
	noRedirect bool
}

// RequestOption configures a single Session.Request call.
type RequestOption func(*requestOptions)

// WithAccessType selects the session token sent as bearer. Defaults to the access token.
func WithAccessType(t oauthmodel.AccessType) RequestOption {
	return func(o *requestOptions) {
		o.accessType = t
	}
}

// WithBearer sends tok instead of any session token. Forced re-login is skipped.
func WithBearer(tok string) RequestOption {
	return func(o *requestOptions) {
		o.token = tok
	}
}

// WithBody sets the raw request body.
func WithBody(b []byte) RequestOption {
	return func(o *requestOptions) {
		o.body = b
	}
}

// WithFormBody sends values url-encoded.
func WithFormBody(values url.Values) RequestOption {
	return func(o *requestOptions) {
		o.body = []byte(values.Encode())
		o.header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

// WithHeader sets one request header, overriding the session defaults.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.header.Set(key, value)
	}
}

// WithHeaders sets request headers, overriding the session defaults.
func WithHeaders(h http.Header) RequestOption {
	return func(o *requestOptions) {
		for k, v := range h {
			o.header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
}

// WithRequestTimeout overrides the session timeout for this request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithoutRedirects returns 3xx responses instead of following them.
func WithoutRedirects() RequestOption {
	return func(o *requestOptions) {
		o.noRedirect = true
	}
}

// Request sends an HTTP request with the session's default headers and the bearer token for
// the requested access type. A missing token triggers a login and an expired one a refresh,
// falling back to a login. The token is attached again once after recovery.
//
// The caller must close the response body.
func (s *Session) Request(ctx context.Context, method, rawURL string, opts ...RequestOption) (*http.Response, error) {
	o := requestOptions{accessType: oauthmodel.AccessTypeAccess, header: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}

	if !isSecureTransport(rawURL) {
		return nil, fmt.Errorf("[Session.Request] %s: %w", rawURL, oauthmodel.ErrInsecureTransport)
	}

	header := s.headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	for k, v := range o.header {
		header[k] = v
	}

	if o.token == "" && o.accessType != oauthmodel.AccessTypeNone && s.reloginDue() {
		s.logger.Debug().Dur("forceReloginAfter", s.forceReloginAfter).Msg("Forced login due")
		if err := s.Login(ctx); err != nil {
			return nil, err
		}
	}

	if o.accessType != oauthmodel.AccessTypeNone {
		if err := s.authorize(ctx, header, rawURL, o.accessType, o.token); err != nil {
			return nil, err
		}
	}

	if d, ok := s.strategy.(RequestDecorator); ok {
		d.DecorateRequest(header)
	}

	timeout := o.timeout
	if timeout == 0 {
		timeout = s.timeout
	}
	return s.send(ctx, method, rawURL, o.body, header, timeout, o.noRedirect)
}

func (s *Session) reloginDue() bool {
	return s.forceReloginAfter > 0 && !s.nowTime().Before(s.lastLogin.Add(s.forceReloginAfter))
}

// authorize attaches the token, recovering from a missing or expired token at most once.
func (s *Session) authorize(ctx context.Context, header http.Header, rawURL string, accessType oauthmodel.AccessType, override string) error {
	res, err := s.attach(ctx, header, rawURL, accessType, override)
	if err != nil {
		return err
	}

	switch res {
	case attachOK:
		return nil
	case attachInsecure:
		return res.err(rawURL)
	case attachExpiredToken:
		s.logger.Info().Msg("Token expired")
		metrics.Recoveries.WithLabelValues("expired").Inc()
		s.setAccessToken("")
		if err := s.Refresh(ctx); err != nil {
			switch {
			case errors.IsAny(err, oauthmodel.ErrAuthentication, oauthmodel.ErrTokenExpired, oauthmodel.ErrMissingToken):
				s.logger.Info().Err(err).Msg("Refresh failed, trying a new login")
			case errors.Is(err, oauthmodel.ErrRetrieval):
				s.logger.Error().Err(err).Msg("Retrieval error while refreshing token, probably the token was invalidated. Trying a new login instead")
			default:
				return err
			}
			if err := s.Login(ctx); err != nil {
				return err
			}
		}
	case attachMissingToken:
		s.logger.Info().Str("accessType", accessType.String()).Msg("Missing token, need new login")
		metrics.Recoveries.WithLabelValues("missing").Inc()
		if err := s.Login(ctx); err != nil {
			return err
		}
	}

	res, err = s.attach(ctx, header, rawURL, accessType, override)
	if err != nil {
		return err
	}
	return res.err(rawURL)
}

// AddToken sets the Authorization header for accessType on header without any recovery.
// An empty session access token triggers a login first.
func (s *Session) AddToken(ctx context.Context, header http.Header, rawURL string, accessType oauthmodel.AccessType, override string) error {
	res, err := s.attach(ctx, header, rawURL, accessType, override)
	if err != nil {
		return err
	}
	return res.err(rawURL)
}

func (s *Session) attach(ctx context.Context, header http.Header, rawURL string, accessType oauthmodel.AccessType, override string) (attachResult, error) {
	if !isSecureTransport(rawURL) {
		return attachInsecure, nil
	}

	tok := override
	if tok == "" {
		switch accessType {
		case oauthmodel.AccessTypeID:
			if tok = s.IDToken(); tok == "" {
				return attachMissingToken, nil
			}
		case oauthmodel.AccessTypeRefresh:
			if tok = s.RefreshToken(); tok == "" {
				return attachMissingToken, nil
			}
		default:
			if !s.Authorized() {
				if err := s.Login(ctx); err != nil {
					return attachMissingToken, err
				}
			}
			if tok = s.AccessToken(); tok == "" {
				return attachMissingToken, nil
			}
			if s.Expired() {
				return attachExpiredToken, nil
			}
		}
	}

	header.Set("Authorization", "Bearer "+tok)
	return attachOK, nil
}

// Login runs the strategy login and restarts the forced re-login period.
func (s *Session) Login(ctx context.Context) error {
	s.lastLogin = s.nowTime()
	err := s.strategy.Login(ctx, s)
	metrics.Logins.WithLabelValues(s.ClientID, result(err)).Inc()
	if err != nil {
		s.logger.Warn().Err(err).Str("clientId", s.ClientID).Msg("Login failed")
		return err
	}
	s.logger.Info().Str("clientId", s.ClientID).Msg("Login successful")
	return nil
}

// Refresh runs the strategy token refresh.
func (s *Session) Refresh(ctx context.Context) error {
	err := s.strategy.Refresh(ctx, s)
	metrics.Refreshes.WithLabelValues(s.ClientID, result(err)).Inc()
	if err != nil {
		return err
	}
	s.logger.Debug().Str("clientId", s.ClientID).Msg("Token refreshed")
	return nil
}

func (s *Session) send(ctx context.Context, method, rawURL string, body []byte, header http.Header, timeout time.Duration, noRedirect bool) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "[Session.Request] %s %s", method, rawURL)
	}
	req.Header = header

	client := s.client
	if noRedirect {
		client = s.noRedirectClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("[Session.Request] %s %s: %w: %w", method, rawURL, err, oauthmodel.ErrRetrieval)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func isSecureTransport(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(rawURL), "https://")
}

func result(err error) string {
	if err != nil {
		return metrics.ResultFailure
	}
	return metrics.ResultSuccess
}
