// Package auth is the OAuth/OpenID session core: token state, bearer injection and the
// refresh-then-login recovery around every request.
//
// A Session is not safe for concurrent use. Callers that share one must serialize access.
package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-weconnect/cache"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/retry"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	stateLength  = 30
	stateCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// UserIDKey is the metadata key holding the vendor user id.
	UserIDKey = "userId"
)

// ClientConfig identifies the OAuth client a session acts as.
type ClientConfig struct {
	ClientID    string
	RedirectURI string
	Scope       string // space separated
	State       string // generated when empty
}

// Session carries the token set of one (service, credential) pair.
type Session struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string

	strategy LoginStrategy

	token             *token.Token
	metadata          map[string]any
	lastLogin         time.Time
	forceReloginAfter time.Duration
	timeout           time.Duration
	retries           int
	headers           http.Header
	cache             *cache.Responses

	transport        http.RoundTripper
	client           *http.Client
	noRedirectClient *http.Client

	logger  zerolog.Logger
	nowTime func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithToken restores a previously persisted token as is, without normalizing it.
func WithToken(t *token.Token) SessionOption {
	return func(s *Session) {
		s.token = t.Clone()
	}
}

// WithMetadata restores persisted metadata.
func WithMetadata(metadata map[string]any) SessionOption {
	return func(s *Session) {
		if metadata != nil {
			s.metadata = metadata
		}
	}
}

// WithCache restores a persisted response cache.
func WithCache(c *cache.Responses) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger sets the logger. Sessions log nothing by default.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) SessionOption {
	return func(s *Session) {
		s.nowTime = nowFunc
	}
}

// WithTransport sets the base transport all requests go through.
func WithTransport(rt http.RoundTripper) SessionOption {
	return func(s *Session) {
		s.transport = rt
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithRetries enables the retry transport with the given attempt budget.
func WithRetries(n int) SessionOption {
	return func(s *Session) {
		s.retries = n
	}
}

// WithForceReloginAfter forces a new login when d has passed since the last one.
func WithForceReloginAfter(d time.Duration) SessionOption {
	return func(s *Session) {
		s.forceReloginAfter = d
	}
}

// WithDefaultHeaders sets headers sent on every request.
func WithDefaultHeaders(h http.Header) SessionOption {
	return func(s *Session) {
		s.headers = h.Clone()
	}
}

// NewSession creates a session driven by strategy.
func NewSession(cfg ClientConfig, strategy LoginStrategy, opts ...SessionOption) (*Session, error) {
	if strategy == nil {
		return nil, errors.New("[NewSession] login strategy is required")
	}

	s := &Session{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scope:       cfg.Scope,
		State:       cfg.State,
		strategy:    strategy,
		metadata:    map[string]any{},
		headers:     http.Header{},
		cache:       cache.NewResponses(),
		transport:   http.DefaultTransport,
		logger:      zerolog.Nop(),
		nowTime:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.State == "" {
		state, err := GenerateToken(stateLength)
		if err != nil {
			return nil, err
		}
		s.State = state
	}
	if s.forceReloginAfter > 0 {
		s.lastLogin = s.nowTime()
	}
	s.buildClients()
	return s, nil
}

func (s *Session) buildClients() {
	rt := s.transport
	if s.retries > 0 {
		rt = retry.NewTransport(retry.NewPolicy(s.retries), s.transport)
	}
	s.client = &http.Client{Transport: rt}
	s.noRedirectClient = &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// HTTPClient returns the client requests are sent with, including the retry transport.
func (s *Session) HTTPClient() *http.Client {
	return s.client
}

// Token returns a copy of the current token, nil when there is none.
func (s *Session) Token() *token.Token {
	return s.token.Clone()
}

// SetToken replaces the token. Expiry fields are derived against the previous token.
func (s *Session) SetToken(t *token.Token) {
	if t != nil {
		t = t.Clone()
		token.Normalize(t, s.token, s.nowTime())
	}
	s.token = t
}

func (s *Session) setAccessToken(accessToken string) {
	if s.token == nil {
		s.token = &token.Token{}
	}
	s.token.AccessToken = accessToken
}

func (s *Session) AccessToken() string {
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

func (s *Session) RefreshToken() string {
	if s.token == nil {
		return ""
	}
	return s.token.RefreshToken
}

func (s *Session) IDToken() string {
	if s.token == nil {
		return ""
	}
	return s.token.IDToken
}

// Authorized reports whether an access token is present.
func (s *Session) Authorized() bool {
	return s.AccessToken() != ""
}

// Expired reports whether the access token expiry has passed.
func (s *Session) Expired() bool {
	return s.token.Expired(s.nowTime())
}

// Metadata is persisted alongside the token. The map is shared, not copied.
func (s *Session) Metadata() map[string]any {
	return s.metadata
}

func (s *Session) UserID() string {
	id, _ := s.metadata[UserIDKey].(string)
	return id
}

func (s *Session) SetUserID(id string) {
	s.metadata[UserIDKey] = id
}

// Cache is the response cache persisted with the session.
func (s *Session) Cache() *cache.Responses {
	return s.cache
}

func (s *Session) LastLogin() time.Time {
	return s.lastLogin
}

func (s *Session) ForceReloginAfter() time.Duration {
	return s.forceReloginAfter
}

// SetForceReloginAfter changes the forced re-login period. Zero disables it.
// The period starts now when no login happened yet.
func (s *Session) SetForceReloginAfter(d time.Duration) {
	s.forceReloginAfter = d
	if d > 0 && s.lastLogin.IsZero() {
		s.lastLogin = s.nowTime()
	}
}

func (s *Session) Timeout() time.Duration {
	return s.timeout
}

func (s *Session) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *Session) Retries() int {
	return s.retries
}

// SetRetries mounts the retry transport: 500 is retried up to n times, 429 never.
func (s *Session) SetRetries(n int) {
	s.retries = n
	s.buildClients()
}

// Headers returns the default headers. Changes apply to subsequent requests.
func (s *Session) Headers() http.Header {
	return s.headers
}

// Now returns the session clock.
func (s *Session) Now() time.Time {
	return s.nowTime()
}

// AuthorizationURL builds the OAuth2 authorization URL for endpoint with the session's client id,
// redirect URI, scope and state, a fresh nonce and response_type "code id_token token".
// opts override or extend the parameters.
func (s *Session) AuthorizationURL(endpoint string, opts ...oauth2.AuthCodeOption) string {
	cfg := oauth2.Config{
		ClientID:    s.ClientID,
		RedirectURL: s.RedirectURI,
		Scopes:      strings.Fields(s.Scope),
		Endpoint:    oauth2.Endpoint{AuthURL: endpoint},
	}
	params := []oauth2.AuthCodeOption{
		oauthmodel.HybridResponseType.AuthCodeOption(),
		oidc.Nonce(GenerateNonce()),
	}
	return cfg.AuthCodeURL(s.State, append(params, opts...)...)
}

// GenerateToken returns a random alphanumeric string of length n.
func GenerateToken(n int) (string, error) {
	max := big.NewInt(int64(len(stateCharset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = stateCharset[idx.Int64()]
	}
	return string(b), nil
}

// GenerateNonce returns a random nonce for authorization requests.
func GenerateNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
