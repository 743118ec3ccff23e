// Package fakeidp serves a minimal copy of the identity provider's sign-in pages over TLS for tests.
package fakeidp

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Options shape the fake provider.
type Options struct {
	ClientID    string
	RedirectURI string
	Username    string
	Password    string
	UserID      string

	// RequireTerms routes the first login through the terms and conditions page.
	RequireTerms bool
	// QueryResponse returns code and state in the redirect query instead of the fragment.
	QueryResponse bool
}

// Server is a running fake identity provider. Extra endpoints may be added with Handle.
type Server struct {
	*httptest.Server
	mux  *http.ServeMux
	opts Options

	lock          sync.Mutex
	state         string
	nonce         string
	logins        int
	termsAccepted bool
	termsForm     url.Values
}

// New starts a provider. It is closed when the test ends.
func New(t testing.TB, opts Options) *Server {
	s := &Server{mux: http.NewServeMux(), opts: opts}
	s.routes()
	s.Server = httptest.NewTLSServer(s.mux)
	t.Cleanup(s.Close)
	return s
}

// Handle registers an extra endpoint on the provider.
func (s *Server) Handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

// AuthorizeURL is the provider's authorization endpoint.
func (s *Server) AuthorizeURL() string {
	return s.URL + "/oidc/v1/authorize"
}

// State returns the state of the last authorization request.
func (s *Server) State() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Nonce returns the nonce of the last authorization request.
func (s *Server) Nonce() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.nonce
}

// Logins returns the number of accepted password submissions.
func (s *Server) Logins() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.logins
}

// TermsForm returns the fields posted to accept the terms, nil when never accepted.
func (s *Server) TermsForm() url.Values {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.termsForm
}

func (s *Server) signinPath(suffix string) string {
	return fmt.Sprintf("/signin-service/v1/%s/%s", s.opts.ClientID, suffix)
}

var emailPage = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body>
<form id="emailPasswordForm" method="POST" action="{{.Action}}">
<input type="hidden" name="_csrf" value="csrf-1"/>
<input type="hidden" name="relayState" value="relay-1"/>
<input type="hidden" name="hmac" value="hmac-1"/>
<input type="email" name="email" value=""/>
</form>
</body></html>`))

const credentialsPage = `<!DOCTYPE html>
<html><head>
<script>
window._IDK = {
templateModel: %s,
csrf_token: 'csrf-2',
currentLocale: 'en'
};
</script>
</head><body></body></html>`

const termsPage = `<html><head><script>
window._IDK = {
templateModel: {"loginUrl":"/x","hmac":"hmac-t","relayState":"relay-t","countryOfResidence":"de","legalDocuments":[{"documentKey":"tc","accepted":false,"countryOfResidence":"de","language":"de","skipLink":"/skip","majorVersion":2}]},
csrf_token: 'csrf-t',
};
</script></head></html>`

func (s *Server) routes() {
	s.mux.HandleFunc("GET /oidc/v1/authorize", func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		s.state = r.URL.Query().Get("state")
		s.nonce = r.URL.Query().Get("nonce")
		s.lock.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "browser-1", Path: "/"})
		http.Redirect(w, r, "/signin-service/v1/signin/"+s.opts.ClientID+"?relayState=relay-1", http.StatusFound)
	})

	s.mux.HandleFunc("GET /signin-service/v1/signin/{client}", func(w http.ResponseWriter, _ *http.Request) {
		_ = emailPage.Execute(w, map[string]string{"Action": s.signinPath("login/identifier")})
	})

	s.mux.HandleFunc("POST "+s.signinPath("login/identifier"), func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		model := `{"hmac":"hmac-2","relayState":"relay-2","postAction":"login/authenticate","error":null}`
		switch {
		case r.PostForm.Get("_csrf") != "csrf-1":
			model = `{"hmac":"hmac-2","relayState":"relay-2","postAction":"login/authenticate","error":"csrf"}`
		case r.PostForm.Get("email") != s.opts.Username:
			model = `{"hmac":"hmac-2","relayState":"relay-2","postAction":"login/authenticate","registerCredentialsPath":"register"}`
		}
		_, _ = fmt.Fprintf(w, credentialsPage, model)
	})

	s.mux.HandleFunc("POST "+s.signinPath("login/authenticate"), func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if c, err := r.Cookie("SESSION"); err != nil || c.Value != "browser-1" {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("password") != s.opts.Password || r.PostForm.Get("_csrf") != "csrf-2" {
			http.Redirect(w, r, s.signinPath("login/authenticate")+"?error=login.errors.password_invalid", http.StatusSeeOther)
			return
		}
		s.lock.Lock()
		s.logins++
		s.lock.Unlock()
		http.Redirect(w, r, "/oidc/v1/oauth/sso?clientId="+url.QueryEscape(s.opts.ClientID)+"&relayState=relay-2&userId="+s.opts.UserID, http.StatusFound)
	})

	s.mux.HandleFunc("GET /oidc/v1/oauth/sso", func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		needTerms := s.opts.RequireTerms && !s.termsAccepted
		s.lock.Unlock()
		if needTerms {
			http.Redirect(w, r, s.signinPath("terms-and-conditions")+"?relayState=relay-t", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/oidc/v1/oauth/client/callback/success?user_id="+s.opts.UserID, http.StatusFound)
	})

	s.mux.HandleFunc("GET "+s.signinPath("terms-and-conditions"), func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, termsPage)
	})

	s.mux.HandleFunc("POST "+s.signinPath("terms-and-conditions"), func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.URL.RawQuery != "" {
			http.Error(w, "query not expected", http.StatusBadRequest)
			return
		}
		s.lock.Lock()
		s.termsAccepted = true
		s.termsForm = r.PostForm
		s.lock.Unlock()
		http.Redirect(w, r, "/oidc/v1/oauth/sso?relayState=relay-t", http.StatusFound)
	})

	s.mux.HandleFunc("GET /oidc/v1/oauth/client/callback/success", func(w http.ResponseWriter, _ *http.Request) {
		state := s.State()
		var location string
		if s.opts.QueryResponse {
			location = s.opts.RedirectURI + "?code=code-1&state=" + url.QueryEscape(state)
		} else {
			location = s.opts.RedirectURI + "#state=" + url.QueryEscape(state) +
				"&code=code-1&access_token=access-1&id_token=id-1&token_type=bearer&expires_in=3600"
		}
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusFound)
	})
}
