// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
)

// LoginPage renders the login form. Interceptor redirects land here with a
// "for" parameter naming the URL to resume after the login.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK, "")
}

// Login handles the submitted login form: it runs the tenant's login
// provider, mints the SSO cookie, and sends the user agent back to where
// it came from with a login ticket attached.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, info.Tenant, oauth.WrapError(oauth.ErrFormNotParseable, err))
		return
	}
	if info.Tenant == nil {
		h.fail(w, r, nil, oauth.NewError(oauth.ErrMissingTenant))
		return
	}
	tenantLabel := info.Tenant.Name

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	location := r.PostForm.Get("location")
	if location == "" {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrMissingLocation))
		return
	}
	if err := h.validateLocation(r, info, location); err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	login, err := h.newLoginTicket(r)
	if err != nil {
		metrics.Logins.WithLabelValues(tenantLabel, metrics.OutcomeError).Inc()
		h.fail(w, r, info.Tenant, err)
		return
	}

	result, err := h.runLoginProvider(r, info.Tenant, username, password)
	if err != nil || !result.CanLogin {
		metrics.Logins.WithLabelValues(tenantLabel, metrics.OutcomeDenied).Inc()
		if err != nil {
			logger.Infow("login denied", "tenant", tenantLabel, "user", username, "err", err)
		}
		h.renderLogin(w, r, http.StatusForbidden, string(oauth.ErrWrongCredentials))
		return
	}

	payload, err := h.buildPayload(info, result, username, r.PostForm.Get("scope"))
	if err != nil {
		metrics.Logins.WithLabelValues(tenantLabel, metrics.OutcomeError).Inc()
		h.fail(w, r, info.Tenant, err)
		return
	}
	token, err := h.signer.Sign(r.Context(), payload, info.Tenant)
	if err != nil {
		metrics.Logins.WithLabelValues(tenantLabel, metrics.OutcomeError).Inc()
		logger.Errorw("sign login payload", "tenant", tenantLabel, "err", err)
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNotAcceptableRequest))
		return
	}
	h.setSSOCookie(w, info, token)
	metrics.Logins.WithLabelValues(tenantLabel, metrics.OutcomeSuccess).Inc()

	http.Redirect(w, r, appendLoginID(location, login), http.StatusSeeOther)
}

// validateLocation accepts self-origin and relative targets; absolute URLs
// pointing elsewhere must match the resolved client's redirect patterns.
func (h *Handler) validateLocation(r *http.Request, info *ClientInfo, location string) error {
	target, err := url.Parse(location)
	if err != nil {
		return oauth.WrapError(oauth.ErrRedirectMismatch, err)
	}
	if target.Host == "" || target.Host == info.Host {
		return nil
	}
	client := info.Client
	if client == nil {
		// The form may carry the client only inside the location URL.
		if u, err := url.Parse(location); err == nil {
			r2 := r.Clone(r.Context())
			r2.URL = u
			client = h.resolveClient(r2, info.Tenant)
		}
	}
	if client == nil {
		return oauth.NewError(oauth.ErrNoClient)
	}
	if !client.AllowsRedirect(location) {
		return oauth.NewError(oauth.ErrRedirectMismatch)
	}
	return nil
}

func (h *Handler) newLoginTicket(r *http.Request) (string, error) {
	login := session.NewLoginSession()
	if err := h.sessions.PutLoginID(r.Context(), login); err != nil {
		logger.Errorw("store login ticket", "err", err)
		return "", oauth.WrapError(oauth.ErrNotAcceptableRequest, err)
	}
	return login.LoginID.String(), nil
}

// runLoginProvider evaluates the tenant's login script. Tenants without a
// provider accept any credentials in development and none in production.
func (h *Handler) runLoginProvider(r *http.Request, tenant *entities.Tenant, username, password string) (*provider.Result, error) {
	host := provider.NewHost(tenant.Config.Providers, provider.WithTimeout(h.settings.ScriptTimeout))
	if !host.HasSources() {
		if h.settings.IsProduction() {
			return nil, oauth.NewError(oauth.ErrWrongCredentials)
		}
		logger.Warnw("tenant has no login provider, accepting credentials in development",
			"tenant", tenant.Name)
		return &provider.Result{CanLogin: true}, nil
	}
	return host.Run(r.Context(), provider.ClassUserLogin, map[string]any{
		"username": username,
		"password": password,
	})
}

// buildPayload assembles the claim set written into the SSO cookie and all
// tokens derived from it.
func (h *Handler) buildPayload(info *ClientInfo, result *provider.Result, username, requestedScope string) (*oauth.Payload, error) {
	subject := result.Meta.Subject
	if subject == "" {
		subject = username
	}

	var scopes []string
	requested := splitScopes(requestedScope)
	// Provider scopes come from the commit meta argument or the scopes
	// getter; scripts may use either.
	granted := unionScopes(result.Meta.Scopes, result.Scopes)
	if info.Client != nil {
		scopes = oauth.FilterScopes(requested, info.Client.Config.Scopes)
		scopes = unionScopes(scopes,
			oauth.FilterScopes(granted, info.Client.Config.ProviderScopes))
	} else {
		scopes = unionScopes(requested, granted)
	}

	var profile json.RawMessage
	if result.Profile != nil {
		raw, err := json.Marshal(result.Profile)
		if err != nil {
			return nil, oauth.WrapError(oauth.ErrNotAcceptableRequest, err)
		}
		profile = raw
	}

	now := time.Now()
	return &oauth.Payload{
		Tenant:         info.Tenant.Name,
		Responsibility: oauth.ResponsibilityHash(info.ResponsibleDomain),
		Role:           result.Role,
		User:           username,
		Scope:          oauth.JoinScopes(scopes),
		Profile:        profile,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{info.Tenant.Name},
			ExpiresAt: jwt.NewNumericDate(now.Add(h.settings.CookieExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}, nil
}

// setSSOCookie issues the uitsmijter-sso cookie scoped to the responsible
// domain.
func (h *Handler) setSSOCookie(w http.ResponseWriter, info *ClientInfo, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Domain:   info.ResponsibleDomain,
		Path:     "/",
		MaxAge:   int(h.settings.CookieExpiration.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// appendLoginID attaches the login ticket to authorize locations so the
// follow-up redirect can prove it came from our own form.
func appendLoginID(location, loginID string) string {
	target, err := url.Parse(location)
	if err != nil || !strings.Contains(target.Path, "/authorize") {
		return location
	}
	values := target.Query()
	values.Set("loginId", loginID)
	target.RawQuery = values.Encode()
	return target.String()
}

// Logout renders a page that immediately forwards to the finalize endpoint,
// carrying the requested post-logout location along.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	finalize := "/logout/finalize"
	if location := r.URL.Query().Get("location"); location != "" {
		finalize += "?location=" + url.QueryEscape(location)
	}
	h.renderer.Render(w, http.StatusOK, info.Tenant, "logout.html", map[string]any{
		"FinalizeURL": finalize,
	})
}

// LogoutFinalize destroys the session: it wipes the subject's stored codes
// and refresh tokens and expires the cookie.
func (h *Handler) LogoutFinalize(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	if info.Payload != nil {
		if err := h.sessions.Wipe(r.Context(), info.Payload.Tenant, info.Payload.Subject); err != nil {
			logger.Errorw("wipe sessions on logout",
				"tenant", info.Payload.Tenant, "err", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "invalid",
		Domain:   info.ResponsibleDomain,
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	location := r.URL.Query().Get("location")
	if location == "" {
		location = r.FormValue("location")
	}
	if location == "" {
		location = "/"
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
