package webauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-weconnect/htmlform"
	"github.com/jrsteele09/go-weconnect/internal/errors"
	"github.com/jrsteele09/go-weconnect/oauthmodel"
)

// EmailFormID is the id of the first sign-in form.
const EmailFormID = "emailPasswordForm"

// CompletedURLPrefix replaces "{redirect_uri}#" in the final redirect.
const CompletedURLPrefix = "https://egal?"

var loginErrorMessages = map[string]string{
	"login.errors.password_invalid": "Password is invalid",
	"login.error.throttled": "Login throttled, probably too many wrong logins. " +
		"You have to wait a few minutes until a new login attempt is possible",
}

// Authenticate performs the web login starting at authURL and returns the final redirect.
func (b *Browser) Authenticate(ctx context.Context, authURL string) (*Result, error) {
	emailForm, err := b.loginForm(ctx, authURL)
	if err != nil {
		return nil, err
	}
	emailForm.Fields["email"] = b.creds.Username

	target := emailForm.Target
	if b.cfg.EmailFormTarget != "" {
		target = b.cfg.EmailFormTarget
	}
	target, err = b.resolve(target)
	if err != nil {
		return nil, err
	}

	credentialsForm, err := b.credentialsForm(ctx, target, emailForm.Fields)
	if err != nil {
		return nil, err
	}
	credentialsForm.Fields["email"] = b.creds.Username
	credentialsForm.Fields["password"] = b.creds.Password

	loginURL := b.cfg.AuthenticateURL
	if loginURL == "" {
		loginURL = fmt.Sprintf("%s/signin-service/v1/%s/%s", strings.TrimSuffix(b.cfg.IdentityHost, "/"), b.cfg.ClientID, credentialsForm.Target)
	}
	location, userID, err := b.submitLogin(ctx, loginURL, credentialsForm.Fields)
	if err != nil {
		return nil, err
	}

	final, err := b.FollowRedirects(ctx, location)
	if err != nil {
		return nil, err
	}
	b.logger.Info().Str("userId", userID).Msg("Web login completed")
	return &Result{URL: final, UserID: userID}, nil
}

// loginForm follows 302/303 redirects from authURL to the email form page.
func (b *Browser) loginForm(ctx context.Context, authURL string) (htmlform.Form, error) {
	u := authURL
	for range maxRedirects {
		p, err := b.get(ctx, u, false)
		if err != nil {
			return htmlform.Form{}, err
		}

		switch {
		case p.status == http.StatusOK:
			form := htmlform.ParseForm(p.body, EmailFormID)
			if form.Target == "" {
				return form, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] could not find the login form")
			}
			if missing := form.Fields.Missing("_csrf", "relayState", "hmac", "email"); len(missing) > 0 {
				return form, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] could not find all required input fields on login page, missing %v", missing)
			}
			return form, nil
		case isRedirect(p.status):
			if p.location == "" {
				return htmlform.Form{}, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] forwarding without Location in headers")
			}
			next, err := p.url.Parse(p.location)
			if err != nil {
				return htmlform.Form{}, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] invalid Location %q", p.location)
			}
			u = next.String()
		default:
			return htmlform.Form{}, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] retrieving login page was not successful, status code: %d", p.status)
		}
	}
	return htmlform.Form{}, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.loginForm] too many redirects")
}

// credentialsForm submits the email and reads the password page model.
func (b *Browser) credentialsForm(ctx context.Context, target string, fields htmlform.Fields) (htmlform.Form, error) {
	p, err := b.post(ctx, target, fields.Values(), true)
	if err != nil {
		return htmlform.Form{}, err
	}
	if p.status != http.StatusOK {
		return htmlform.Form{}, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.credentialsForm] retrieving credentials page was not successful, status code: %d", p.status)
	}

	form := htmlform.ParseScriptModel(p.body, htmlform.CredentialsModel)
	if form.Target == "" {
		return form, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.credentialsForm] could not find the credentials form")
	}
	if missing := form.Fields.Missing("relayState", "hmac", htmlform.CSRFField); len(missing) > 0 {
		return form, errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.credentialsForm] could not find all required input fields on credentials page, missing %v", missing)
	}

	if msg, ok := form.Fields["error"]; ok {
		if msg == "validator.email.invalid" {
			return form, errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.credentialsForm] error during login, email invalid")
		}
		return form, errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.credentialsForm] error during login: %s", msg)
	}
	if form.Fields.Has("errorCode") {
		return form, errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.credentialsForm] error during login, is the username correct?")
	}
	if form.Fields["registerCredentialsPath"] == "register" {
		return form, errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.credentialsForm] error during login, account %s does not exist", b.creds.Username)
	}
	return form, nil
}

// submitLogin posts the credentials and returns the redirect location and the user id.
func (b *Browser) submitLogin(ctx context.Context, loginURL string, fields htmlform.Fields) (string, string, error) {
	p, err := b.post(ctx, loginURL, fields.Values(), false)
	if err != nil {
		return "", "", err
	}
	if p.status == http.StatusInternalServerError {
		return "", "", errors.Wrapf(oauthmodel.ErrRetrieval, "[Browser.submitLogin] temporary server error during login")
	}
	if !isRedirect(p.status) {
		return "", "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.submitLogin] forwarding expected (status code 302), but got status code %d", p.status)
	}
	if p.location == "" {
		return "", "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.submitLogin] forwarding without Location in headers")
	}

	location, err := url.Parse(p.location)
	if err != nil {
		return "", "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.submitLogin] invalid Location %q", p.location)
	}
	params := location.Query()

	if code := params.Get("error"); code != "" {
		msg, ok := loginErrorMessages[code]
		if !ok {
			msg = code
		}
		return "", "", errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.submitLogin] %s", msg)
	}

	userID := params.Get("userId")
	if userID == "" {
		if params.Get("updated") == "dataprivacy" {
			return "", "", errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.submitLogin] you have to login at myvolkswagen.de and accept the terms and conditions")
		}
		return "", "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.submitLogin] no user ID provided")
	}
	return p.location, userID, nil
}

// FollowRedirects walks the post-login redirects until one starts with the redirect URI.
// Terms and conditions pages are accepted when configured.
func (b *Browser) FollowRedirects(ctx context.Context, location string) (string, error) {
	u := location
	for range maxRedirects {
		if strings.HasPrefix(u, b.cfg.RedirectURI) {
			return b.complete(u), nil
		}

		resolved, err := b.resolve(u)
		if err != nil {
			return "", err
		}
		u = resolved

		if strings.Contains(u, "terms-and-conditions") {
			if !b.cfg.AcceptTermsOnLogin {
				return "", errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.FollowRedirects] it seems like you need to accept the terms and conditions. "+
					"Try to visit the URL %q or log into smartphone app", u)
			}
			if u, err = b.acceptTerms(ctx, u); err != nil {
				return "", err
			}
			continue
		}

		p, err := b.get(ctx, u, false)
		if err != nil {
			return "", err
		}
		if p.status == http.StatusInternalServerError {
			return "", errors.Wrapf(oauthmodel.ErrRetrieval, "[Browser.FollowRedirects] temporary server error during login")
		}
		if p.location == "" {
			if strings.Contains(u, "consent") {
				return "", errors.Wrapf(oauthmodel.ErrAuthentication, "[Browser.FollowRedirects] could not find Location in headers, probably due to missing consent. Try visiting: %s", u)
			}
			return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.FollowRedirects] forwarding without Location in headers")
		}
		u = p.location
	}
	return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.FollowRedirects] too many redirects")
}

// acceptTerms submits the terms and conditions form found at termsURL.
func (b *Browser) acceptTerms(ctx context.Context, termsURL string) (string, error) {
	b.logger.Info().Str("url", termsURL).Msg("Accepting updated terms and conditions")

	p, err := b.get(ctx, termsURL, false)
	if err != nil {
		return "", err
	}
	if p.status == http.StatusInternalServerError {
		return "", errors.Wrapf(oauthmodel.ErrRetrieval, "[Browser.acceptTerms] temporary server error during login")
	}
	form := htmlform.ParseScriptModel(p.body, htmlform.TermsModel)

	submit := *p.url
	submit.RawQuery = ""
	submit.Fragment = ""

	p, err = b.post(ctx, submit.String(), form.Fields.Values(), false)
	if err != nil {
		return "", err
	}
	if p.status == http.StatusInternalServerError {
		return "", errors.Wrapf(oauthmodel.ErrRetrieval, "[Browser.acceptTerms] temporary server error during login")
	}
	if !isRedirect(p.status) {
		return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.acceptTerms] forwarding expected (status code 302), but got status code %d", p.status)
	}
	if p.location == "" {
		return "", errors.Wrapf(oauthmodel.ErrAPICompatibility, "[Browser.acceptTerms] forwarding without Location in headers")
	}
	return p.location, nil
}

// complete rewrites the custom scheme redirect so its fragment or query parses as a query.
func (b *Browser) complete(u string) string {
	u = strings.Replace(u, b.cfg.RedirectURI+"#", CompletedURLPrefix, 1)
	return strings.Replace(u, b.cfg.RedirectURI+"?", CompletedURLPrefix, 1)
}
