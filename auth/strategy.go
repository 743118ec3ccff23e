package auth

import (
	"context"
	"net/http"
)

// LoginStrategy performs the vendor specific parts of a session.
// Login must end with the session token populated (Session.SetToken).
type LoginStrategy interface {
	Login(ctx context.Context, s *Session) error
	Refresh(ctx context.Context, s *Session) error
	AuthorizationURL(ctx context.Context, s *Session) (string, error)
}

// RequestDecorator is implemented by strategies that add headers to every outgoing request.
type RequestDecorator interface {
	DecorateRequest(header http.Header)
}
