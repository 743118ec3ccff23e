package oauthmodel

import "net/url"

// TokenRequest is the JSON body of the WeConnect backend login endpoint. It hands the result
// of the hybrid authorization over to the backend, which answers with its own token set.
type TokenRequest struct {
	// State of the authorization response.
	State string `json:"state"`

	// IDToken from the authorization response. Also sent as the bearer token.
	IDToken string `json:"id_token"`

	// RedirectURI the authorization was started with.
	// Example: "weconnect://authenticated"
	RedirectURI string `json:"redirect_uri"`

	// Region of the backend.
	// Example: "emea"
	Region string `json:"region"`

	// AccessToken from the authorization response.
	AccessToken string `json:"access_token"`

	// AuthorizationCode is the code of the authorization response.
	AuthorizationCode string `json:"authorizationCode"`
}

// RefreshRequest holds the parameters of a refresh_token grant.
type RefreshRequest struct {
	// ClientID identifies the app.
	// Required: Yes
	ClientID string

	// RefreshToken is the token being exchanged.
	// Required: Yes
	RefreshToken string

	// CodeVerifier is the PKCE verifier of the authorization the tokens came from.
	// Required: No, sent when known
	CodeVerifier string
}

// Values encodes r as a form body.
func (r RefreshRequest) Values() url.Values {
	v := url.Values{
		"grant_type":    {string(RefreshTokenGrant)},
		"client_id":     {r.ClientID},
		"refresh_token": {r.RefreshToken},
	}
	if r.CodeVerifier != "" {
		v.Set("code_verifier", r.CodeVerifier)
	}
	return v
}
