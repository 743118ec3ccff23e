package myvw_test

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/internal/fakeidp"
	"github.com/jrsteele09/go-weconnect/myvw"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/webauth"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	signinClientID = "b680e751-7e1f-4008-8ec1-3a528183d215@apps_vw-dilab_com"
	testUsername   = "driver@example.com"
	testPassword   = "secret"
)

type backend struct {
	*fakeidp.Server
	challenge atomic.Value
	refreshes atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{Server: fakeidp.New(t, fakeidp.Options{
		ClientID:      signinClientID,
		RedirectURI:   myvw.RedirectURI,
		Username:      testUsername,
		Password:      testPassword,
		UserID:        "na-user",
		QueryResponse: true,
	})}

	b.Handle("GET /bhs/oidc/v1/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" || q.Get("prompt") != "login" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.challenge.Store(q.Get("code_challenge"))
		w.Header().Set("Location", b.AuthorizeURL()+"?"+url.Values{"state": {q.Get("state")}}.Encode())
		w.WriteHeader(http.StatusFound)
	})

	b.Handle("POST /bhs/oidc/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			challenge, _ := b.challenge.Load().(string)
			if r.PostForm.Get("code") != "code-1" ||
				r.PostForm.Get("client_id") != myvw.ClientID ||
				r.PostForm.Get("redirect_uri") != myvw.RedirectURI ||
				oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"na-access","refresh_token":"na-refresh","id_token":"na-id","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			b.refreshes.Add(1)
			if r.Header.Get("Authorization") != "Bearer na-refresh" || r.PostForm.Get("refresh_token") != "na-refresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"na-access-2","expires_in":1800}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	b.Handle("POST /bhs/oidc/v1/token-reject", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	return b
}

func (b *backend) endpoints() myvw.Endpoints {
	return myvw.Endpoints{
		Authorize:       b.URL + "/bhs/oidc/v1/authorize",
		Token:           b.URL + "/bhs/oidc/v1/token",
		IdentityHost:    b.URL,
		EmailFormTarget: "/signin-service/v1/" + signinClientID + "/login/identifier",
		AuthenticateURL: b.URL + "/signin-service/v1/" + signinClientID + "/login/authenticate",
	}
}

func newSession(t *testing.T, b *backend, e myvw.Endpoints) *auth.Session {
	t.Helper()
	strategy := myvw.New(webauth.Credentials{Username: testUsername, Password: testPassword},
		myvw.WithEndpoints(e),
		myvw.WithBrowserOptions(webauth.WithTransport(b.Client().Transport)),
	)
	s, err := strategy.NewSession(auth.WithTransport(b.Client().Transport))
	require.NoError(t, err)
	return s
}

func TestLogin(t *testing.T) {
	b := newBackend(t)
	s := newSession(t, b, b.endpoints())

	require.NoError(t, s.Login(context.Background()))

	require.Equal(t, "na-access", s.AccessToken())
	require.Equal(t, "na-refresh", s.RefreshToken())
	require.Equal(t, "na-id", s.IDToken())
	require.Equal(t, "na-user", s.UserID())
	require.EqualValues(t, 3600, s.Token().ExpiresIn)
	require.False(t, s.Expired())
	require.NotEmpty(t, b.Nonce(), "nonce is appended when the redirect lacks one")
	require.Equal(t, s.State, b.State())
}

func TestLogin_RejectedExchange(t *testing.T) {
	b := newBackend(t)
	e := b.endpoints()
	e.Token = b.URL + "/bhs/oidc/v1/token-reject"
	s := newSession(t, b, e)

	require.ErrorIs(t, s.Login(context.Background()), oauthmodel.ErrAuthentication)
	require.False(t, s.Authorized())
}

func TestRefresh(t *testing.T) {
	b := newBackend(t)
	s := newSession(t, b, b.endpoints())
	require.NoError(t, s.Login(context.Background()))

	require.NoError(t, s.Refresh(context.Background()))
	require.Equal(t, "na-access-2", s.AccessToken())
	require.Equal(t, "na-refresh", s.RefreshToken())
	require.EqualValues(t, 1800, s.Token().ExpiresIn)
	require.EqualValues(t, 1, b.refreshes.Load())

	tok := s.Token()
	tok.RefreshToken = "stale"
	s.SetToken(tok)
	require.ErrorIs(t, s.Refresh(context.Background()), oauthmodel.ErrAuthentication)
}

func TestAuthorizationURL(t *testing.T) {
	b := newBackend(t)
	strategy := myvw.New(webauth.Credentials{}, myvw.WithEndpoints(b.endpoints()))
	s, err := strategy.NewSession(auth.WithTransport(b.Client().Transport))
	require.NoError(t, err)

	raw, err := strategy.AuthorizationURL(context.Background(), s)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/oidc/v1/authorize", u.Path)
	require.Equal(t, s.State, u.Query().Get("state"))
	require.NotEmpty(t, u.Query().Get("nonce"))
}
