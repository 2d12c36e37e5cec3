// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
	"github.com/uitsmijter/uitsmijter/pkg/session"
)

// Authorize implements the authorization-code front door. Without a valid
// SSO cookie the login form is rendered; with one, a single-use code is
// minted and the user agent is sent back to the client.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNotAcceptableRequest))
		return
	}

	method := oauth.CodeChallengeMethod(q.Get("code_challenge_method"))
	challenge := q.Get("code_challenge")
	if method != "" && !oauth.IsKnownChallengeMethod(method) {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrChallengeNotSupported))
		return
	}
	if (method == oauth.ChallengePlain || method == oauth.ChallengeSHA256) && challenge == "" {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNotAcceptableRequest))
		return
	}

	if info.Tenant == nil {
		h.fail(w, r, nil, oauth.NewError(oauth.ErrNoTenant))
		return
	}
	if info.Client == nil {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNoClient))
		return
	}
	if !info.Client.AllowsGrant(oauth.GrantAuthorizationCode) {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrUnsupportedGrantType))
		return
	}

	redirect := q.Get("redirect_uri")
	if redirect == "" || !info.Client.AllowsRedirect(redirect) {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrRedirectMismatch))
		return
	}
	if !h.refererAllowed(info) {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrWrongReferer))
		return
	}

	// A login ticket proves the request came back from our own login form.
	ticketOK := false
	if rawID := q.Get("loginId"); rawID != "" && info.Payload != nil {
		if id, err := uuid.Parse(rawID); err == nil {
			ticketOK = h.sessions.ConsumeLoginID(r.Context(), id)
		}
	}

	if info.Payload == nil || (!ticketOK && !info.Tenant.SilentLogin()) {
		h.renderLogin(w, r, http.StatusUnauthorized, "")
		return
	}

	code, err := h.mintCode(r, info, redirect, challenge, method)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	target, err := url.Parse(redirect)
	if err != nil {
		h.fail(w, r, info.Tenant, oauth.WrapError(oauth.ErrRedirectMismatch, err))
		return
	}
	values := target.Query()
	values.Set("code", code)
	if state := q.Get("state"); state != "" {
		values.Set("state", state)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// mintCode stores a single-use authorization code bound to the cookie's
// payload and the request's PKCE parameters.
func (h *Handler) mintCode(r *http.Request, info *ClientInfo, redirect, challenge string, method oauth.CodeChallengeMethod) (string, error) {
	allowed := append(append([]string{}, info.Client.Config.Scopes...), info.Client.Config.ProviderScopes...)
	requested := oauth.FilterScopes(splitScopes(r.URL.Query().Get("scope")), info.Client.Config.Scopes)
	granted := oauth.FilterScopes(info.Payload.Scopes(), allowed)
	scopes := unionScopes(requested, granted)

	code := h.sessions.GenerateCode()
	err := h.sessions.Put(r.Context(), &session.AuthSession{
		Type:                session.TypeCode,
		TenantName:          info.Payload.Tenant,
		Subject:             info.Payload.Subject,
		Code:                code,
		Scopes:              scopes,
		Payload:             info.Payload,
		Redirect:            redirect,
		TTL:                 config.DefaultAuthCodeTTL,
		Generated:           time.Now(),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		logger.Errorw("store authorization code", "tenant", info.Payload.Tenant, "err", err)
		return "", oauth.WrapError(oauth.ErrNotAcceptableRequest, err)
	}
	return code, nil
}

// refererAllowed enforces the client's referrer patterns when configured.
// Self-origin requests are always allowed.
func (h *Handler) refererAllowed(info *ClientInfo) bool {
	if len(info.Client.Config.Referrers) == 0 || info.Referer == "" {
		return true
	}
	if ref, err := url.Parse(info.Referer); err == nil && ref.Host == info.Host {
		return true
	}
	return info.Client.AllowsReferer(info.Referer)
}

// renderLogin shows the login form with the full current URL embedded, so a
// successful login can resume the authorize flow.
func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	info := Info(r)
	location := r.URL.RequestURI()
	if forParam := r.URL.Query().Get("for"); r.URL.Path == "/login" && forParam != "" {
		location = forParam
	}
	h.renderer.Render(w, status, info.Tenant, "login.html", map[string]any{
		"Location": location,
		"Scope":    r.URL.Query().Get("scope"),
		"Error":    errMsg,
	})
}

func splitScopes(raw string) []string {
	return strings.Fields(raw)
}

// unionScopes merges two ordered scope lists, dropping duplicates.
func unionScopes(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
