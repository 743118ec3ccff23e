package token_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestNormalize(t *testing.T) {
	nowUnix := float64(testNow.Unix())

	t.Run("expires_at derived from expires_in", func(t *testing.T) {
		tok := &token.Token{AccessToken: "a", ExpiresIn: 600}
		token.Normalize(tok, nil, testNow)
		require.InDelta(t, nowUnix+600, tok.ExpiresAt, 0.001)
		require.EqualValues(t, 600, tok.ExpiresIn)
	})

	t.Run("defaults to one hour", func(t *testing.T) {
		tok := &token.Token{AccessToken: "a"}
		token.Normalize(tok, nil, testNow)
		require.Equal(t, token.DefaultExpiresIn, tok.ExpiresIn)
		require.InDelta(t, nowUnix+3600, tok.ExpiresAt, 0.001)
	})

	t.Run("inherits expires_in from previous token", func(t *testing.T) {
		prev := &token.Token{AccessToken: "old", ExpiresIn: 1800, ExpiresAt: nowUnix - 10}
		next := &token.Token{AccessToken: "new"}
		token.Normalize(next, prev, testNow)
		require.EqualValues(t, 1800, next.ExpiresIn)
		require.InDelta(t, nowUnix+1800, next.ExpiresAt, 0.001)
	})

	t.Run("id token exp claim", func(t *testing.T) {
		exp := testNow.Add(45 * time.Minute)
		next := &token.Token{AccessToken: "a", IDToken: signedIDToken(t, jwt.MapClaims{"exp": exp.Unix(), "sub": "u"})}
		token.Normalize(next, nil, testNow)
		require.EqualValues(t, 45*60, next.ExpiresIn)
		require.InDelta(t, float64(exp.Unix()), next.ExpiresAt, 0.001)
	})

	t.Run("id token without exp", func(t *testing.T) {
		next := &token.Token{AccessToken: "a", IDToken: signedIDToken(t, jwt.MapClaims{"sub": "u"})}
		token.Normalize(next, nil, testNow)
		require.Equal(t, token.DefaultExpiresIn, next.ExpiresIn)
	})

	t.Run("existing expires_at is kept", func(t *testing.T) {
		next := &token.Token{AccessToken: "a", ExpiresIn: 60, ExpiresAt: nowUnix + 5}
		token.Normalize(next, nil, testNow)
		require.InDelta(t, nowUnix+5, next.ExpiresAt, 0.001)
	})
}

func TestToken_Expired(t *testing.T) {
	tok := &token.Token{AccessToken: "a", ExpiresIn: 60}
	token.Normalize(tok, nil, testNow)
	require.False(t, tok.Expired(testNow))
	require.False(t, tok.Expired(testNow.Add(59*time.Second)))
	require.True(t, tok.Expired(testNow.Add(61*time.Second)))

	var none *token.Token
	require.False(t, none.Expired(testNow))
	require.False(t, (&token.Token{AccessToken: "a"}).Expired(testNow))
}

func TestToken_OAuth2Conversion(t *testing.T) {
	tok := &token.Token{AccessToken: "a", RefreshToken: "r", IDToken: "i", TokenType: "bearer", ExpiresIn: 60}
	token.Normalize(tok, nil, testNow)

	o := tok.ToOAuth2()
	require.Equal(t, "a", o.AccessToken)
	require.Equal(t, "i", o.Extra("id_token"))
	require.Equal(t, testNow.Add(time.Minute).Unix(), o.Expiry.Unix())

	back := token.FromOAuth2(o)
	require.Equal(t, tok.AccessToken, back.AccessToken)
	require.Equal(t, tok.RefreshToken, back.RefreshToken)
	require.Equal(t, tok.IDToken, back.IDToken)
	require.InDelta(t, tok.ExpiresAt, back.ExpiresAt, 1)
}

func TestToken_JSONShape(t *testing.T) {
	tok := &token.Token{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600, ExpiresAt: 1700000000.5}
	b, err := json.Marshal(tok)
	require.NoError(t, err)
	require.JSONEq(t, `{"access_token":"a","refresh_token":"r","expires_in":3600,"expires_at":1700000000.5}`, string(b))
}

func TestParseResponse(t *testing.T) {
	t.Run("vendor keys are renamed", func(t *testing.T) {
		tok, err := token.ParseResponse([]byte(`{"accessToken":"a","idToken":"i","refreshToken":"r","expires_in":"3600","token_type":"bearer"}`))
		require.NoError(t, err)
		require.Equal(t, "a", tok.AccessToken)
		require.Equal(t, "i", tok.IDToken)
		require.Equal(t, "r", tok.RefreshToken)
		require.Equal(t, "bearer", tok.TokenType)
		require.EqualValues(t, 3600, tok.ExpiresIn)
	})

	t.Run("standard keys are accepted", func(t *testing.T) {
		tok, err := token.ParseResponse([]byte(`{"access_token":"a","expires_in":120,"scope":["openid","cars"]}`))
		require.NoError(t, err)
		require.EqualValues(t, 120, tok.ExpiresIn)
		require.Equal(t, "openid cars", tok.Scope)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := token.ParseResponse([]byte(`<html>`))
		require.True(t, errors.Is(err, oauthmodel.ErrTemporaryAuthentication))
	})

	t.Run("missing access token", func(t *testing.T) {
		_, err := token.ParseResponse([]byte(`{"refreshToken":"r"}`))
		require.True(t, errors.Is(err, oauthmodel.ErrMissingToken))
	})

	t.Run("error response", func(t *testing.T) {
		_, err := token.ParseStandardResponse([]byte(`{"error":"invalid_grant","error_description":"expired"}`))
		require.True(t, errors.Is(err, oauthmodel.ErrAuthentication))
		require.Contains(t, err.Error(), "invalid_grant")
	})
}

func TestFromRefreshResponse(t *testing.T) {
	respond := func(status int, body string) *http.Response {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
	}

	tok, err := token.FromRefreshResponse(respond(http.StatusOK, `{"accessToken":"a2","idToken":"i2"}`))
	require.NoError(t, err)
	require.Equal(t, "a2", tok.AccessToken)
	require.Equal(t, "i2", tok.IDToken)
	require.Empty(t, tok.RefreshToken)

	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusUnauthorized, want: oauthmodel.ErrAuthentication},
		{status: http.StatusInternalServerError, want: oauthmodel.ErrTemporaryAuthentication},
		{status: http.StatusServiceUnavailable, want: oauthmodel.ErrTemporaryAuthentication},
		{status: http.StatusGatewayTimeout, want: oauthmodel.ErrTemporaryAuthentication},
		{status: http.StatusBadRequest, want: oauthmodel.ErrRetrieval},
		{status: http.StatusForbidden, want: oauthmodel.ErrRetrieval},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			_, err := token.FromRefreshResponse(respond(tt.status, ""))
			require.ErrorIs(t, err, tt.want)
			require.Contains(t, err.Error(), "status code")
		})
	}

	_, err = token.FromRefreshResponse(respond(http.StatusOK, `not json`))
	require.ErrorIs(t, err, oauthmodel.ErrTemporaryAuthentication)
}
