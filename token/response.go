package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
)

// vendorKeys maps the camel-case names used by the vendor backend to OAuth2 names.
var vendorKeys = map[string]string{
	"accessToken":  "access_token",
	"idToken":      "id_token",
	"refreshToken": "refresh_token",
}

// ParseResponse parses a vendor token endpoint body. The backend answers with camel-case keys
// (accessToken, idToken, refreshToken); they are renamed before the standard parsing.
func ParseResponse(body []byte) (*Token, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("[ParseResponse] token could not be decoded: %v: %w", err, oauthmodel.ErrTemporaryAuthentication)
	}
	for from, to := range vendorKeys {
		if v, ok := raw[from]; ok {
			raw[to] = v
			delete(raw, from)
		}
	}
	return parseTokenResponse(raw)
}

// ParseStandardResponse parses an RFC 6749 token endpoint body.
func ParseStandardResponse(body []byte) (*Token, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("[ParseStandardResponse] token could not be decoded: %v: %w", err, oauthmodel.ErrTemporaryAuthentication)
	}
	return parseTokenResponse(raw)
}

func parseTokenResponse(raw map[string]any) (*Token, error) {
	if e, ok := raw["error"].(string); ok && e != "" {
		desc, _ := raw["error_description"].(string)
		return nil, fmt.Errorf("[parseTokenResponse] %s %s: %w", e, desc, oauthmodel.ErrAuthentication)
	}

	t := &Token{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		IDToken:      stringValue(raw["id_token"]),
		TokenType:    stringValue(raw["token_type"]),
	}
	switch scope := raw["scope"].(type) {
	case string:
		t.Scope = scope
	case []any:
		parts := make([]string, 0, len(scope))
		for _, s := range scope {
			parts = append(parts, stringValue(s))
		}
		t.Scope = strings.Join(parts, " ")
	}
	if n, ok := numberValue(raw["expires_in"]); ok {
		t.ExpiresIn = int64(n)
	}
	if n, ok := numberValue(raw["expires_at"]); ok {
		t.ExpiresAt = n
	}

	if t.AccessToken == "" {
		return nil, fmt.Errorf("[parseTokenResponse] missing access token parameter: %w", oauthmodel.ErrMissingToken)
	}
	return t, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FromRefreshResponse maps a refresh endpoint response to a token.
//
//   - 200: body parsed with ParseResponse
//   - 401: ErrAuthentication, a new login is required
//   - 500, 503, 504: ErrTemporaryAuthentication
//   - anything else: ErrRetrieval
func FromRefreshResponse(resp *http.Response) (*Token, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("[FromRefreshResponse] reading body: %v: %w", err, oauthmodel.ErrTemporaryAuthentication)
		}
		return ParseResponse(body)
	case http.StatusUnauthorized:
		return nil, errors.Statusf(oauthmodel.ErrAuthentication, resp, "[FromRefreshResponse] refreshing tokens failed, server requests new authorization")
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, errors.Statusf(oauthmodel.ErrTemporaryAuthentication, resp, "[FromRefreshResponse] token could not be refreshed due to temporary server failure")
	default:
		return nil, errors.Statusf(oauthmodel.ErrRetrieval, resp, "[FromRefreshResponse] unexpected status while refreshing tokens")
	}
}
