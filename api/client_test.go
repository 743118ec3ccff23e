package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-weconnect/api"
	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/stretchr/testify/require"
)

// countingStrategy hands out access-1, access-2, ... on each login.
type countingStrategy struct {
	logins int
}

func (c *countingStrategy) Login(_ context.Context, s *auth.Session) error {
	c.logins++
	s.SetToken(&token.Token{AccessToken: fmt.Sprintf("access-%d", c.logins), ExpiresIn: 3600})
	return nil
}

func (c *countingStrategy) Refresh(context.Context, *auth.Session) error {
	return oauthmodel.ErrAuthentication
}

func (c *countingStrategy) AuthorizationURL(context.Context, *auth.Session) (string, error) {
	return "", nil
}

type fixture struct {
	srv      *httptest.Server
	calls    atomic.Int32
	strategy *countingStrategy
	session  *auth.Session
	now      time.Time
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{strategy: &countingStrategy{}, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)

	s, err := auth.NewSession(auth.ClientConfig{ClientID: "c", RedirectURI: "app://cb"}, f.strategy,
		auth.WithTransport(f.srv.Client().Transport),
		auth.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.session = s
	return f
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchData_CachesResponses(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"data":[1]}`))
	c := api.New(f.session, api.WithMaxAge(time.Minute))
	ctx := context.Background()
	url := f.srv.URL + "/vehicles"

	data, err := c.FetchData(ctx, url)
	require.NoError(t, err)
	require.JSONEq(t, `{"data":[1]}`, string(data))
	require.EqualValues(t, 1, f.calls.Load())
	require.Equal(t, 1, f.strategy.logins)

	_, err = c.FetchData(ctx, url)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.calls.Load(), "fresh entry served from cache")

	_, err = c.FetchData(ctx, url, api.Force())
	require.NoError(t, err)
	require.EqualValues(t, 2, f.calls.Load())

	f.now = f.now.Add(2 * time.Minute)
	_, err = c.FetchData(ctx, url)
	require.NoError(t, err)
	require.EqualValues(t, 3, f.calls.Load(), "stale entry refetched")

	entry, ok := f.session.Cache().Get(url)
	require.True(t, ok)
	require.Equal(t, f.now, entry.Timestamp)
}

func TestFetchData_WithoutMaxAgeAlwaysFetches(t *testing.T) {
	f := newFixture(t, jsonHandler(`[]`))
	c := api.New(f.session)

	for range 2 {
		_, err := c.FetchData(context.Background(), f.srv.URL+"/x")
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, f.calls.Load())
	require.Equal(t, 1, f.session.Cache().Len())
}

func TestFetchData_MultiStatus(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"partial":true}`))
	})
	data, err := api.New(f.session).FetchData(context.Background(), f.srv.URL+"/status")
	require.NoError(t, err)
	require.JSONEq(t, `{"partial":true}`, string(data))
}

func TestFetchData_ReauthorizesOnce(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	data, err := api.New(f.session).FetchData(context.Background(), f.srv.URL+"/x")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(data))
	require.Equal(t, 2, f.strategy.logins)
	require.EqualValues(t, 2, f.calls.Load())
}

func TestFetchData_UnauthorizedAfterLogin(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := api.New(f.session)

	_, err := c.FetchData(context.Background(), f.srv.URL+"/x")
	require.ErrorIs(t, err, oauthmodel.ErrRetrieval)
	require.Equal(t, 2, f.strategy.logins)
	require.EqualValues(t, 2, f.calls.Load())

	data, err := c.FetchData(context.Background(), f.srv.URL+"/x", api.AllowHTTPError(http.StatusUnauthorized))
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestFetchData_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		opts   []api.FetchOption
		want   error
	}{
		{name: "too many requests", status: http.StatusTooManyRequests, want: oauthmodel.ErrTooManyRequests},
		{name: "too many requests is never tolerated", status: http.StatusTooManyRequests, opts: []api.FetchOption{api.AllowHTTPError()}, want: oauthmodel.ErrTooManyRequests},
		{name: "not found", status: http.StatusNotFound, want: oauthmodel.ErrRetrieval},
		{name: "any status tolerated", status: http.StatusNotFound, opts: []api.FetchOption{api.AllowHTTPError()}},
		{name: "listed status tolerated", status: http.StatusNotFound, opts: []api.FetchOption{api.AllowHTTPError(http.StatusNotFound)}},
		{name: "unlisted status", status: http.StatusBadGateway, opts: []api.FetchOption{api.AllowHTTPError(http.StatusNotFound)}, want: oauthmodel.ErrRetrieval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			data, err := api.New(f.session).FetchData(context.Background(), f.srv.URL+"/x", tt.opts...)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			require.Nil(t, data)
			require.Zero(t, f.session.Cache().Len())
		})
	}
}

func TestFetchData_InvalidJSON(t *testing.T) {
	f := newFixture(t, jsonHandler(`not json`))
	c := api.New(f.session)

	_, err := c.FetchData(context.Background(), f.srv.URL+"/x")
	require.ErrorIs(t, err, oauthmodel.ErrRetrieval)

	data, err := c.FetchData(context.Background(), f.srv.URL+"/x", api.AllowEmpty())
	require.NoError(t, err)
	require.Nil(t, data)
	require.Zero(t, f.session.Cache().Len())
}

func TestFetchData_TransportError(t *testing.T) {
	f := newFixture(t, jsonHandler(`{}`))
	f.srv.Close()

	_, err := api.New(f.session).FetchData(context.Background(), f.srv.URL+"/x")
	require.ErrorIs(t, err, oauthmodel.ErrRetrieval)
}

func TestFetch(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"data":[{"vin":"WVW123"}]}`))

	type vehicles struct {
		Data []struct {
			VIN string `json:"vin"`
		} `json:"data"`
	}
	v, err := api.Fetch[vehicles](context.Background(), api.New(f.session), f.srv.URL+"/vehicles")
	require.NoError(t, err)
	require.Len(t, v.Data, 1)
	require.Equal(t, "WVW123", v.Data[0].VIN)
}
