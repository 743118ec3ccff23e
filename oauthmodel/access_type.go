package oauthmodel

// AccessType selects which token of the session authenticates a request.
type AccessType int

const (
	// AccessTypeAccess sends the access token. Used for all vendor API calls.
	// Missing token triggers a login, an expired one a refresh.
	AccessTypeAccess AccessType = iota

	// AccessTypeNone sends no token.
	// Used for: authorization kickoff requests made before any login.
	AccessTypeNone

	// AccessTypeID sends the OpenID Connect ID token.
	// Used for: the backend token exchange after the web login.
	AccessTypeID

	// AccessTypeRefresh sends the refresh token.
	// Used for: the refresh endpoint.
	AccessTypeRefresh
)

func (a AccessType) String() string {
	switch a {
	case AccessTypeNone:
		return "none"
	case AccessTypeID:
		return "id"
	case AccessTypeRefresh:
		return "refresh"
	default:
		return "access"
	}
}
