// Package token holds the OAuth2 token set carried by a session.
package token

import (
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultExpiresIn is assumed when neither the response nor the id token tells the lifetime.
const DefaultExpiresIn int64 = 3600

// Token is the token set returned by the vendor's token endpoints.
// The JSON names match the OAuth2 token response so persisted tokens stay readable by other clients.
type Token struct {
	// AccessToken is sent as "Authorization: Bearer <access_token>" on API calls.
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is exchanged for a new access token at the refresh endpoint.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect ID token (JWT).
	IDToken string `json:"id_token,omitempty"`

	// TokenType is normally "bearer".
	TokenType string `json:"token_type,omitempty"`

	// Scope as granted by the server, space separated.
	Scope string `json:"scope,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. 0 means unknown.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// ExpiresAt is the absolute expiry as unix seconds. 0 means unknown.
	ExpiresAt float64 `json:"expires_at,omitempty"`
}

// Normalize derives the expiry fields of next, which is about to replace prev.
//
//   - expires_in missing: inherit prev's, else derive from the id token "exp" claim, else DefaultExpiresIn.
//   - expires_at missing: now + expires_in.
//
// A set ExpiresAt is never recomputed.
func Normalize(next *Token, prev *Token, now time.Time) {
	if next == nil {
		return
	}
	if next.ExpiresIn == 0 {
		switch {
		case prev != nil && prev.ExpiresIn != 0:
			next.ExpiresIn = prev.ExpiresIn
		case next.IDToken != "":
			if exp, ok := expiryFromJWT(next.IDToken); ok {
				next.ExpiresAt = float64(exp.Unix())
				next.ExpiresIn = int64(math.Round(exp.Sub(now).Seconds()))
			}
		}
		if next.ExpiresIn == 0 {
			next.ExpiresIn = DefaultExpiresIn
		}
	}
	if next.ExpiresAt == 0 {
		next.ExpiresAt = unixSeconds(now) + float64(next.ExpiresIn)
	}
}

// Expired reports whether the access token expiry has passed.
func (t *Token) Expired(now time.Time) bool {
	return t != nil && t.ExpiresAt != 0 && t.ExpiresAt < unixSeconds(now)
}

// Expiry returns ExpiresAt as a time, zero when unknown.
func (t *Token) Expiry() time.Time {
	if t == nil || t.ExpiresAt == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(t.ExpiresAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Clone returns a copy that can be mutated independently.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ToOAuth2 converts t for use with golang.org/x/oauth2.
func (t *Token) ToOAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}
	o := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
		ExpiresIn:    t.ExpiresIn,
	}
	if t.IDToken != "" {
		o = o.WithExtra(map[string]any{"id_token": t.IDToken})
	}
	return o
}

// FromOAuth2 converts a token returned by golang.org/x/oauth2, keeping the id token extra.
func FromOAuth2(o *oauth2.Token) *Token {
	if o == nil {
		return nil
	}
	t := &Token{
		AccessToken:  o.AccessToken,
		RefreshToken: o.RefreshToken,
		TokenType:    o.TokenType,
		ExpiresIn:    o.ExpiresIn,
	}
	if id, ok := o.Extra("id_token").(string); ok {
		t.IDToken = id
	}
	if scope, ok := o.Extra("scope").(string); ok {
		t.Scope = scope
	}
	if !o.Expiry.IsZero() {
		t.ExpiresAt = unixSeconds(o.Expiry)
	}
	return t
}

func expiryFromJWT(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
