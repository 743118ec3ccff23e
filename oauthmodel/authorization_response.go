package oauthmodel

import (
	"fmt"
	"net/url"
	"strconv"
)

// AuthorizationResponse holds the parameters the identity provider appends to the redirect URI
// at the end of the web login. With response_type "code id_token token" they arrive in the
// URL fragment and carry tokens in addition to the code.
type AuthorizationResponse struct {
	// State echoes the state sent in the authorization request.
	// Security: must equal the session state, otherwise the response belongs to another flow
	State string

	// Code is the authorization code.
	// Example: "eyJraWQiOiI0ODEyODgzZi05Y2FiLTQwMWMt..."
	// Usage: sent as "authorizationCode" to the backend login endpoint, or exchanged at the token endpoint
	Code string

	// IDToken is the OpenID Connect ID token issued by the identity provider.
	// Only present: implicit/hybrid flow
	IDToken string

	// AccessToken is the identity provider access token.
	// Only present: implicit/hybrid flow
	AccessToken string

	// TokenType of AccessToken, normally "bearer".
	TokenType string

	// ExpiresIn of AccessToken in seconds, 0 when absent.
	ExpiresIn int64
}

// ParseAuthorizationResponse reads the query of an authorization redirect.
// Fragment responses must be rewritten into a query first.
// state, when not empty, must match the response state.
func ParseAuthorizationResponse(rawURL, state string) (*AuthorizationResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("[ParseAuthorizationResponse] invalid url: %v: %w", err, ErrAPICompatibility)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("[ParseAuthorizationResponse] %w", ErrInsecureTransport)
	}

	q := u.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("[ParseAuthorizationResponse] %s %s: %w", e, q.Get("error_description"), ErrAuthentication)
	}
	if state != "" && q.Get("state") != state {
		return nil, fmt.Errorf("[ParseAuthorizationResponse] mismatching state: %w", ErrAuthentication)
	}
	if q.Get("code") == "" {
		return nil, fmt.Errorf("[ParseAuthorizationResponse] missing code parameter: %w", ErrAPICompatibility)
	}

	resp := &AuthorizationResponse{
		State:       q.Get("state"),
		Code:        q.Get("code"),
		IDToken:     q.Get("id_token"),
		AccessToken: q.Get("access_token"),
		TokenType:   q.Get("token_type"),
	}
	if s := q.Get("expires_in"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			resp.ExpiresIn = n
		}
	}
	return resp, nil
}
