package oauthmodel

import "errors"

// Error kinds surfaced by sessions. Errors returned by this module wrap exactly one of these,
// test with errors.Is.
var (
	// ErrInsecureTransport: the URL is not HTTPS. Never retried.
	ErrInsecureTransport = errors.New("insecure transport, https is required")

	// ErrMissingToken: the token required for the access type is absent. Recovered with a login.
	ErrMissingToken = errors.New("missing token")

	// ErrTokenExpired: the access token is past its expiry. Recovered with refresh, then login.
	ErrTokenExpired = errors.New("token expired")

	// ErrAuthentication: credentials rejected, login throttled, terms or consent required.
	ErrAuthentication = errors.New("authentication error")

	// ErrTemporaryAuthentication: the server failed during token exchange or refresh.
	// The whole login may be retried later.
	ErrTemporaryAuthentication = errors.New("temporary authentication error")

	// ErrAPICompatibility: the server response does not follow the expected protocol.
	ErrAPICompatibility = errors.New("api compatibility error")

	// ErrRetrieval: transient network or server failure.
	ErrRetrieval = errors.New("retrieval error")

	// ErrTooManyRequests: the server answered 429. Callers should back off for a long time.
	ErrTooManyRequests = errors.New("too many requests")
)
