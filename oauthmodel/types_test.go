package oauthmodel_test

import (
	"net/url"
	"testing"

	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestResponseType_AuthCodeOption(t *testing.T) {
	cfg := oauth2.Config{ClientID: "c", Endpoint: oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"}}

	u, err := url.Parse(cfg.AuthCodeURL("s", oauthmodel.HybridResponseType.AuthCodeOption()))
	require.NoError(t, err)
	require.Equal(t, "code id_token token", u.Query().Get("response_type"))
	require.Equal(t, "s", u.Query().Get("state"))
}

func TestRefreshRequest_Values(t *testing.T) {
	v := oauthmodel.RefreshRequest{ClientID: "c", RefreshToken: "r"}.Values()
	require.Equal(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"c"},
		"refresh_token": {"r"},
	}, v)

	v = oauthmodel.RefreshRequest{ClientID: "c", RefreshToken: "r", CodeVerifier: "ver"}.Values()
	require.Equal(t, "ver", v.Get("code_verifier"))
}
