// Package weconnect logs into the WeConnect (EMEA) backend: web login at the identity provider
// followed by a token exchange at the backend for frontend (BFF).
package weconnect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/jrsteele09/go-weconnect/webauth"
	"github.com/rs/zerolog"
)

const (
	ClientID    = "a24fba63-34b3-4d43-b181-942111e6bda8@apps_vw-dilab_com"
	Scope       = "openid profile badge cars dealers vin"
	RedirectURI = "weconnect://authenticated"
	Region      = "emea"

	// VehiclesURL lists the vehicles of the account.
	VehiclesURL = "https://emea.bff.cariad.digital/vehicle/v1/vehicles"

	// TraceIDHeader carries a fresh uppercase UUID on every request.
	TraceIDHeader = "weconnect-trace-id"
)

// Endpoints of the WeConnect login.
type Endpoints struct {
	Authorize    string
	Login        string
	Refresh      string
	IdentityHost string
}

var DefaultEndpoints = Endpoints{
	Authorize:    "https://emea.bff.cariad.digital/user-login/v1/authorize",
	Login:        "https://emea.bff.cariad.digital/user-login/login/v1",
	Refresh:      "https://emea.bff.cariad.digital/user-login/refresh/v1",
	IdentityHost: webauth.DefaultIdentityHost,
}

// DefaultHeaders are the WeConnect app's API headers.
var DefaultHeaders = http.Header{
	"Accept":          {"*/*"},
	"Content-Type":    {"application/json"},
	"Content-Version": {"1"},
	"X-Newrelic-Id":   {"VgAEWV9QDRAEXFlRAAYPUA=="},
	"User-Agent":      {"WeConnect/3 CFNetwork/1331.0.7 Darwin/21.4.0"},
	"Accept-Language": {"de-de"},
	"Cache-Control":   {"no-cache"},
	"Pragma":          {"no-cache"},
}

// Strategy implements auth.LoginStrategy and auth.RequestDecorator for WeConnect.
type Strategy struct {
	creds       webauth.Credentials
	acceptTerms bool
	endpoints   Endpoints
	browserOpts []webauth.Option
	logger      zerolog.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithEndpoints replaces the default endpoints.
func WithEndpoints(e Endpoints) Option {
	return func(s *Strategy) {
		s.endpoints = e
	}
}

// WithAcceptTerms accepts updated terms and conditions during login.
func WithAcceptTerms(accept bool) Option {
	return func(s *Strategy) {
		s.acceptTerms = accept
	}
}

// WithBrowserOptions are applied to the browser created for each web login.
func WithBrowserOptions(opts ...webauth.Option) Option {
	return func(s *Strategy) {
		s.browserOpts = append(s.browserOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Strategy) {
		s.logger = logger
	}
}

// New creates the strategy for the given account.
func New(creds webauth.Credentials, opts ...Option) *Strategy {
	s := &Strategy{
		creds:     creds,
		endpoints: DefaultEndpoints,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession creates a session for the WeConnect client driven by st.
func (st *Strategy) NewSession(opts ...auth.SessionOption) (*auth.Session, error) {
	base := []auth.SessionOption{auth.WithDefaultHeaders(DefaultHeaders), auth.WithLogger(st.logger)}
	return auth.NewSession(auth.ClientConfig{
		ClientID:    ClientID,
		RedirectURI: RedirectURI,
		Scope:       Scope,
	}, st, append(base, opts...)...)
}

func (st *Strategy) DecorateRequest(h http.Header) {
	h.Set(TraceIDHeader, strings.ToUpper(uuid.NewString()))
}

// AuthorizationURL asks the BFF for the identity provider authorization URL and adopts its state.
func (st *Strategy) AuthorizationURL(ctx context.Context, s *auth.Session) (string, error) {
	u, err := url.Parse(st.endpoints.Authorize)
	if err != nil {
		return "", errors.Wrapf(err, "[Strategy.AuthorizationURL] authorize endpoint")
	}
	q := u.Query()
	q.Set("redirect_uri", s.RedirectURI)
	q.Set("nonce", auth.GenerateNonce())
	u.RawQuery = q.Encode()

	resp, err := s.Request(ctx, http.MethodGet, u.String(),
		auth.WithAccessType(oauthmodel.AccessTypeNone), auth.WithoutRedirects())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusSeeOther || location == "" {
		return "", errors.Statusf(oauthmodel.ErrAuthentication, resp, "[Strategy.AuthorizationURL] authorization URL could not be fetched due to WeConnect failure")
	}

	redirect, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Strategy.AuthorizationURL] invalid Location %q", location)
	}
	if state := redirect.Query().Get("state"); state != "" {
		s.State = state
	}
	return location, nil
}

// Login runs the web login and exchanges its result for BFF tokens.
func (st *Strategy) Login(ctx context.Context, s *auth.Session) error {
	authURL, err := st.AuthorizationURL(ctx, s)
	if err != nil {
		return err
	}

	opts := append([]webauth.Option{webauth.WithLogger(st.logger), webauth.WithRetries(s.Retries())}, st.browserOpts...)
	browser, err := webauth.NewBrowser(webauth.Config{
		ClientID:           s.ClientID,
		RedirectURI:        s.RedirectURI,
		IdentityHost:       st.endpoints.IdentityHost,
		AcceptTermsOnLogin: st.acceptTerms,
	}, st.creds, opts...)
	if err != nil {
		return err
	}

	res, err := browser.Authenticate(ctx, authURL)
	if err != nil {
		return err
	}
	s.SetUserID(res.UserID)

	return st.FetchTokens(ctx, s, res.URL)
}

// FetchTokens exchanges the implicit grant of a completed web login for the BFF token set.
func (st *Strategy) FetchTokens(ctx context.Context, s *auth.Session, authorizationResponse string) error {
	ar, err := oauthmodel.ParseAuthorizationResponse(authorizationResponse, s.State)
	if err != nil {
		return err
	}
	if ar.IDToken == "" || ar.AccessToken == "" || ar.State == "" {
		return errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Strategy.FetchTokens] authorization response lacks state, id_token or access_token")
	}

	body, err := json.Marshal(oauthmodel.TokenRequest{
		State:             ar.State,
		IDToken:           ar.IDToken,
		RedirectURI:       s.RedirectURI,
		Region:            Region,
		AccessToken:       ar.AccessToken,
		AuthorizationCode: ar.Code,
	})
	if err != nil {
		return errors.Wrapf(err, "[Strategy.FetchTokens] encoding request")
	}

	resp, err := s.Request(ctx, http.MethodPost, st.endpoints.Login,
		auth.WithAccessType(oauthmodel.AccessTypeID),
		auth.WithBearer(ar.IDToken),
		auth.WithBody(body),
		auth.WithHeader("Accept", "application/json"),
		auth.WithoutRedirects(),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Statusf(oauthmodel.ErrTemporaryAuthentication, resp, "[Strategy.FetchTokens] token could not be fetched due to temporary WeConnect failure")
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(oauthmodel.ErrTemporaryAuthentication, "[Strategy.FetchTokens] reading response: %v", err)
	}
	tok, err := token.ParseResponse(raw)
	if err != nil {
		return err
	}
	s.SetToken(tok)
	return nil
}

// Refresh exchanges the refresh token at the BFF. The previous refresh token is kept when the
// response carries none.
func (st *Strategy) Refresh(ctx context.Context, s *auth.Session) error {
	st.logger.Info().Msg("Refreshing tokens")
	previous := s.RefreshToken()

	resp, err := s.Request(ctx, http.MethodGet, st.endpoints.Refresh, auth.WithAccessType(oauthmodel.AccessTypeRefresh))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tok, err := token.FromRefreshResponse(resp)
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		st.logger.Debug().Msg("No new refresh token given, re-using old")
		tok.RefreshToken = previous
	}
	s.SetToken(tok)
	return nil
}
