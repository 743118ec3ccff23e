// Package myvw logs into the myVW (North America) backend with an authorization code and PKCE.
package myvw

import (
	"context"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/jrsteele09/go-weconnect/webauth"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	ClientID    = "59992128-69a9-42c3-8621-7942041ba824_MYVW_ANDROID"
	Scope       = oidc.ScopeOpenID
	RedirectURI = "kombi:///login"

	// GarageURL lists the vehicles of the account.
	GarageURL = "https://b-h-s.spr.us00.p.con-veh.net/account/v1/garage"

	userAgent = "Car-Net/60 CFNetwork/1121.2.2 Darwin/19.3.0"
)

// Endpoints of the myVW login.
type Endpoints struct {
	Authorize    string
	Token        string
	IdentityHost string
	// EmailFormTarget and AuthenticateURL point the web login at the sign-in client of the
	// North American identity provider.
	EmailFormTarget string
	AuthenticateURL string
}

var DefaultEndpoints = Endpoints{
	Authorize:       "https://b-h-s.spr.us00.p.con-veh.net/oidc/v1/authorize",
	Token:           "https://b-h-s.spr.us00.p.con-veh.net/oidc/v1/token",
	IdentityHost:    "https://identity.na.vwgroup.io",
	EmailFormTarget: "/signin-service/v1/b680e751-7e1f-4008-8ec1-3a528183d215@apps_vw-dilab_com/login/identifier",
	AuthenticateURL: "https://identity.na.vwgroup.io/signin-service/v1/b680e751-7e1f-4008-8ec1-3a528183d215@apps_vw-dilab_com/login/authenticate",
}

// DefaultHeaders are the myVW app's API headers.
var DefaultHeaders = http.Header{
	"Accept":          {"*/*"},
	"Content-Type":    {"application/json"},
	"Content-Version": {"1"},
	"User-Agent":      {userAgent},
	"Accept-Language": {"en-us"},
	"Cache-Control":   {"no-cache"},
	"Pragma":          {"no-cache"},
}

// Strategy implements auth.LoginStrategy for myVW. A Strategy belongs to one session: it keeps
// the PKCE verifier of the last authorization request.
type Strategy struct {
	creds       webauth.Credentials
	acceptTerms bool
	endpoints   Endpoints
	browserOpts []webauth.Option
	logger      zerolog.Logger

	verifier string
}

// Option configures a Strategy.
type Option func(*Strategy)

func WithEndpoints(e Endpoints) Option {
	return func(s *Strategy) {
		s.endpoints = e
	}
}

func WithAcceptTerms(accept bool) Option {
	return func(s *Strategy) {
		s.acceptTerms = accept
	}
}

func WithBrowserOptions(opts ...webauth.Option) Option {
	return func(s *Strategy) {
		s.browserOpts = append(s.browserOpts, opts...)
	}
}

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

// NewSession creates a session for the myVW client driven by st.
func (st *Strategy) NewSession(opts ...auth.SessionOption) (*auth.Session, error) {
	base := []auth.SessionOption{auth.WithDefaultHeaders(DefaultHeaders), auth.WithLogger(st.logger)}
	return auth.NewSession(auth.ClientConfig{
		ClientID:    ClientID,
		RedirectURI: RedirectURI,
		Scope:       Scope,
	}, st, append(base, opts...)...)
}

func (st *Strategy) oauthConfig(s *auth.Session) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    s.ClientID,
		RedirectURL: s.RedirectURI,
		Scopes:      []string{oidc.ScopeOpenID},
		Endpoint: oauth2.Endpoint{
			AuthURL:   st.endpoints.Authorize,
			TokenURL:  st.endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL starts a PKCE authorization and returns the identity provider URL the
// backend redirects to.
func (st *Strategy) AuthorizationURL(ctx context.Context, s *auth.Session) (string, error) {
	st.verifier = oauth2.GenerateVerifier()
	nonce := auth.GenerateNonce()

	authURL := s.AuthorizationURL(st.endpoints.Authorize,
		oauthmodel.CodeResponseType.AuthCodeOption(),
		oauth2.SetAuthURLParam("prompt", "login"),
		oauth2.S256ChallengeOption(st.verifier),
		oidc.Nonce(nonce),
	)

	resp, err := s.Request(ctx, http.MethodGet, authURL,
		auth.WithAccessType(oauthmodel.AccessTypeNone), auth.WithoutRedirects())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || location == "" {
		return "", errors.Statusf(oauthmodel.ErrAuthentication, resp, "[Strategy.AuthorizationURL] authorization URL could not be fetched due to myVW failure")
	}

	redirect, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Strategy.AuthorizationURL] invalid Location %q", location)
	}
	q := redirect.Query()
	if !q.Has("nonce") {
		q.Set("nonce", nonce)
		redirect.RawQuery = q.Encode()
	}
	return redirect.String(), nil
}

// Login runs the web login and exchanges the authorization code with the PKCE verifier.
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
		EmailFormTarget:    st.endpoints.EmailFormTarget,
		AuthenticateURL:    st.endpoints.AuthenticateURL,
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

	ar, err := oauthmodel.ParseAuthorizationResponse(res.URL, s.State)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, browser.HTTPClient())
	tok, err := st.oauthConfig(s).Exchange(ctx, ar.Code, oauth2.VerifierOption(st.verifier))
	if err != nil {
		return exchangeError(err)
	}
	s.SetToken(token.FromOAuth2(tok))
	return nil
}

func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return errors.Statusf(oauthmodel.ErrAuthentication, re.Response, "[Strategy.Login] code exchange rejected: %s", re.ErrorCode)
	}
	return errors.Wrapf(oauthmodel.ErrTemporaryAuthentication, "[Strategy.Login] token could not be fetched due to temporary myVW failure: %v", err)
}

// Refresh posts the refresh token grant to the token endpoint. The previous refresh token is
// kept when the response carries none.
func (st *Strategy) Refresh(ctx context.Context, s *auth.Session) error {
	st.logger.Info().Msg("Refreshing tokens")
	previous := s.RefreshToken()

	form := oauthmodel.RefreshRequest{
		ClientID:     s.ClientID,
		RefreshToken: previous,
		CodeVerifier: st.verifier,
	}.Values()

	resp, err := s.Request(ctx, http.MethodPost, st.endpoints.Token,
		auth.WithAccessType(oauthmodel.AccessTypeRefresh),
		auth.WithFormBody(form),
		auth.WithHeader("User-Agent", userAgent),
		auth.WithHeader("Accept-Language", "en-us"),
		auth.WithHeader("Accept", "*/*"),
	)
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
