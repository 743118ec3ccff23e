package oauthmodel

import "golang.org/x/oauth2"

// ResponseType is the response_type of an authorization request.
// Determines what the identity provider appends to the redirect URI.
type ResponseType string

const (
	// CodeResponseType returns only an authorization code, in the query.
	// Used in: myVW PKCE login
	// Example: kombi:///login?code=ABC123&state=xyz
	CodeResponseType ResponseType = "code"

	// HybridResponseType returns code, id token and access token, in the fragment.
	// Used in: WeConnect login, the tokens are handed to the backend token exchange
	// Example: weconnect://authenticated#code=...&id_token=...&access_token=...&state=xyz
	HybridResponseType ResponseType = "code id_token token"
)

// AuthCodeOption sets response_type on an oauth2.Config.AuthCodeURL call.
func (r ResponseType) AuthCodeOption() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("response_type", string(r))
}

// GrantType is the grant_type sent to a token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Sent by oauth2.Config.Exchange.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Returns: new access_token, and a rotated refresh_token only sometimes
	RefreshTokenGrant GrantType = "refresh_token"
)
