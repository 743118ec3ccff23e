// Package webauth drives the identity provider's server rendered login pages the way the
// vendor's Android web view does, ending at the OAuth redirect URI.
package webauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/retry"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultIdentityHost is the EMEA identity provider.
	DefaultIdentityHost = "https://identity.vwgroup.io"

	maxRedirects = 30
	maxBodySize  = 4 << 20
)

// DefaultHeaders are sent with every browser request.
var DefaultHeaders = http.Header{
	"User-Agent": {"Mozilla/5.0 (Linux; Android 10) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 " +
		"Chrome/74.0.3729.185 Mobile Safari/537.36"},
	"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8," +
		"application/signed-exchange;v=b3"},
	"Accept-Language":           {"en-US,en;q=0.9"},
	"X-Requested-With":          {"com.volkswagen.weconnect"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Config selects the identity provider and the client the login is performed for.
type Config struct {
	ClientID    string
	RedirectURI string

	// IdentityHost relative form targets and redirects are resolved against.
	IdentityHost string

	// EmailFormTarget replaces the action of the email form when set.
	EmailFormTarget string
	// AuthenticateURL replaces {IdentityHost}/signin-service/v1/{ClientID}/{postAction} when set.
	AuthenticateURL string

	AcceptTermsOnLogin bool
}

// Credentials of the account being logged in.
type Credentials struct {
	Username string
	Password string
}

// Result of a completed web login.
type Result struct {
	// URL is the final redirect with the redirect URI scheme rewritten to https://egal? so the
	// fragment parameters parse as a query.
	URL    string
	UserID string
}

// Browser is a cookie keeping HTTP client emulating the vendor app's web view.
type Browser struct {
	cfg     Config
	creds   Credentials
	headers http.Header
	logger  zerolog.Logger

	transport http.RoundTripper
	retries   int

	client     *http.Client // redirects followed
	noRedirect *http.Client
}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Browser) {
		b.logger = logger
	}
}

// WithTransport sets the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Browser) {
		b.transport = rt
	}
}

// WithRetries retries 500 responses up to n times.
func WithRetries(n int) Option {
	return func(b *Browser) {
		b.retries = n
	}
}

// NewBrowser creates a browser with an empty cookie jar.
func NewBrowser(cfg Config, creds Credentials, opts ...Option) (*Browser, error) {
	if cfg.RedirectURI == "" {
		return nil, errors.Wrapf(oauthmodel.ErrAuthentication, "[NewBrowser] redirect URI is not set")
	}
	if cfg.IdentityHost == "" {
		cfg.IdentityHost = DefaultIdentityHost
	}

	b := &Browser{
		cfg:       cfg,
		creds:     creds,
		headers:   DefaultHeaders.Clone(),
		logger:    zerolog.Nop(),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(b)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrapf(err, "[NewBrowser] cookie jar")
	}
	rt := b.transport
	if b.retries > 0 {
		rt = retry.NewTransport(retry.NewPolicy(b.retries), b.transport)
	}
	b.client = &http.Client{Transport: rt, Jar: jar}
	b.noRedirect = &http.Client{
		Transport: rt,
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return b, nil
}

// HTTPClient returns the redirect following client sharing the browser's cookies.
func (b *Browser) HTTPClient() *http.Client {
	return b.client
}

type page struct {
	status   int
	location string
	url      *url.URL
	body     string
}

func (b *Browser) get(ctx context.Context, rawURL string, follow bool) (*page, error) {
	return b.do(ctx, http.MethodGet, rawURL, nil, follow)
}

func (b *Browser) post(ctx context.Context, rawURL string, form url.Values, follow bool) (*page, error) {
	return b.do(ctx, http.MethodPost, rawURL, form, follow)
}

func (b *Browser) do(ctx context.Context, method, rawURL string, form url.Values, follow bool) (*page, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "[Browser] %s %s", method, rawURL)
	}
	req.Header = b.headers.Clone()
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := b.noRedirect
	if follow {
		client = b.client
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[Browser] %s %s: %w: %w", method, rawURL, err, oauthmodel.ErrRetrieval)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("[Browser] reading %s: %w: %w", rawURL, err, oauthmodel.ErrRetrieval)
	}
	b.logger.Debug().Str("method", method).Str("url", rawURL).Int("status", resp.StatusCode).Msg("Web login step")

	return &page{
		status:   resp.StatusCode,
		location: resp.Header.Get("Location"),
		url:      resp.Request.URL,
		body:     string(raw),
	}, nil
}

// resolve makes ref absolute against the identity host.
func (b *Browser) resolve(ref string) (string, error) {
	base, err := url.Parse(b.cfg.IdentityHost)
	if err != nil {
		return "", errors.Wrapf(err, "[Browser.resolve] identity host")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.resolve] invalid URL %q", ref)
	}
	return base.ResolveReference(u).String(), nil
}

func isRedirect(status int) bool {
	return status == http.StatusFound || status == http.StatusSeeOther
}
