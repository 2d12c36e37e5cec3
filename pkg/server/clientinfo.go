// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// CookieName is the SSO cookie carrying the signed payload.
const CookieName = "uitsmijter-sso"

// Mode tells how a request reached the server.
type Mode string

// Request modes.
const (
	ModeOAuth       Mode = "oauth"
	ModeInterceptor Mode = "interceptor"
)

// ClientInfo is the request-scoped context every controller works from. It
// is derived once per request by the middleware and never persisted.
type ClientInfo struct {
	Mode    Mode
	Scheme  string
	Host    string
	URI     string
	Referer string

	// ResponsibleDomain is the canonical host the issued cookie and the
	// responsibility claim are bound to.
	ResponsibleDomain string
	// ServiceURL is scheme plus the host serving the login pages.
	ServiceURL string

	Tenant *entities.Tenant
	Client *entities.Client

	// Payload is the verified SSO cookie payload, if any. Expired is set
	// instead when the cookie verified but outlived its exp.
	Payload *oauth.Payload
	Expired bool
}

type clientInfoKey struct{}

// Info returns the ClientInfo derived for this request.
func Info(r *http.Request) *ClientInfo {
	info, _ := r.Context().Value(clientInfoKey{}).(*ClientInfo)
	return info
}

// ClientInfoMiddleware computes the ClientInfo for every request: request
// host and scheme, tenant and client resolution, mode selection, and SSO
// cookie verification.
func (h *Handler) ClientInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := h.deriveClientInfo(r)
		ctx := context.WithValue(r.Context(), clientInfoKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) deriveClientInfo(r *http.Request) *ClientInfo {
	forwardedHost := r.Header.Get("X-Forwarded-Host")
	host := forwardedHost
	if host == "" {
		host = r.Host
	}

	info := &ClientInfo{
		Mode:    ModeOAuth,
		Scheme:  requestScheme(r),
		Host:    host,
		URI:     r.URL.RequestURI(),
		Referer: r.Header.Get("Referer"),
	}
	if uri := r.Header.Get("X-Forwarded-Uri"); uri != "" {
		info.URI = uri
	}

	info.Tenant = h.store.FindTenantByHost(host)
	info.Client = h.resolveClient(r, info.Tenant)

	if forwardedHost != "" && info.Tenant != nil && info.Tenant.InterceptorEnabled() &&
		!isOAuthPath(r.URL.Path) && info.Tenant.MatchesHost(forwardedHost) {
		info.Mode = ModeInterceptor
	}

	info.ResponsibleDomain = stripPort(strings.ToLower(host))
	info.ServiceURL = info.Scheme + "://" + host
	if info.Mode == ModeInterceptor {
		if domain := info.Tenant.CookieDomain(); domain != "" {
			info.ResponsibleDomain = stripPort(strings.ToLower(domain))
		}
		if login := info.Tenant.Config.Interceptor.Domain; login != "" {
			info.ServiceURL = info.Scheme + "://" + login
		}
	}

	h.attachPayload(r, info)
	return info
}

// resolveClient parses client_id from query, form body, or cookie and looks
// the client up. A client belonging to a different tenant than the request
// host resolves to nil.
func (h *Handler) resolveClient(r *http.Request, tenant *entities.Tenant) *entities.Client {
	raw := r.URL.Query().Get("client_id")
	if raw == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			raw = r.PostForm.Get("client_id")
		}
	}
	if raw == "" {
		if cookie, err := r.Cookie("client_id"); err == nil {
			raw = cookie.Value
		}
	}
	if raw == "" {
		return nil
	}
	ident, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	client := h.store.FindClientByIdent(ident)
	if client == nil || tenant == nil || client.Config.TenantName != tenant.Name {
		return nil
	}
	return client
}

func (h *Handler) attachPayload(r *http.Request, info *ClientInfo) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" || cookie.Value == "invalid" {
		return
	}
	payload, err := h.signer.Verify(r.Context(), cookie.Value)
	if err != nil {
		var oerr *oauth.Error
		if errors.As(err, &oerr) && oerr.Kind == oauth.ErrExpiredToken {
			info.Expired = true
		}
		return
	}
	// A cookie minted for another tenant never authenticates this one.
	if info.Tenant != nil && payload.Tenant != info.Tenant.Name {
		return
	}
	info.Payload = payload
}

// isOAuthPath reports whether the path belongs to the OAuth surface, which
// is never served in interceptor mode.
func isOAuthPath(path string) bool {
	for _, prefix := range []string{"/authorize", "/token", "/login", "/logout"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
