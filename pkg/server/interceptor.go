// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// Interceptor is the forward-auth decision endpoint. A reverse proxy sends
// every upstream request here with X-Forwarded-* headers; the answer is 200
// to admit, 307 to the login page, or an error.
func (h *Handler) Interceptor(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	if info.Mode != ModeInterceptor || info.Tenant == nil || !info.Tenant.InterceptorEnabled() {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNoTenant))
		return
	}
	tenantLabel := info.Tenant.Name

	if info.Payload == nil {
		metrics.InterceptorRequests.WithLabelValues(tenantLabel, metrics.DecisionRedirected).Inc()
		original := info.Scheme + "://" + info.Host + info.URI
		target := info.ServiceURL + "/login?for=" + url.QueryEscape(original)
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		return
	}

	// The responsibility claim binds the cookie to the domain it was issued
	// for; a cookie replayed across tenants never admits.
	if info.Payload.Responsibility != oauth.ResponsibilityHash(info.ResponsibleDomain) {
		metrics.InterceptorRequests.WithLabelValues(tenantLabel, metrics.DecisionRedirected).Inc()
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrTenantMismatch))
		return
	}

	decision := metrics.DecisionAllowed
	if h.shouldRenew(info.Payload) {
		if err := h.renewCookie(w, r, info); err != nil {
			logger.Errorw("renew interceptor cookie", "tenant", tenantLabel, "err", err)
		} else {
			decision = metrics.DecisionRenewed
		}
	}
	metrics.InterceptorRequests.WithLabelValues(tenantLabel, decision).Inc()
	w.WriteHeader(http.StatusOK)
}

// shouldRenew reports whether the payload expires within the renew window.
func (h *Handler) shouldRenew(payload *oauth.Payload) bool {
	if payload.ExpiresAt == nil {
		return false
	}
	return time.Until(payload.ExpiresAt.Time) < h.settings.RenewWindow
}

// renewCookie re-signs the same payload with a fresh expiry and sets it on
// the response.
func (h *Handler) renewCookie(w http.ResponseWriter, r *http.Request, info *ClientInfo) error {
	payload := clonePayload(info.Payload)
	now := time.Now()
	payload.IssuedAt = jwt.NewNumericDate(now)
	payload.ExpiresAt = jwt.NewNumericDate(now.Add(h.settings.CookieExpiration))

	token, err := h.signer.Sign(r.Context(), payload, info.Tenant)
	if err != nil {
		return err
	}
	h.setSSOCookie(w, info, token)
	return nil
}
