// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
)

// tokenRequest is the union of the request shapes the token endpoint
// accepts, discriminated by grant_type. Both JSON and form encodings fill
// the same fields.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	Method       string `json:"code_challenge_method"`
	RefreshToken string `json:"refresh_token"`
	DeviceCode   string `json:"device_code"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Scope        string `json:"scope"`
}

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Token dispatches a token request to its grant handler.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	// Client authentication is client_secret_post or none; HTTP Basic is
	// not supported and rejected outright.
	if strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNotAcceptableRequest))
		return
	}
	req, err := parseTokenRequest(r)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	switch oauth.GrantType(req.GrantType) {
	case oauth.GrantAuthorizationCode:
		h.tokenAuthorizationCode(w, r, req)
	case oauth.GrantRefreshToken:
		h.tokenRefresh(w, r, req)
	case oauth.GrantPassword:
		h.tokenPassword(w, r, req)
	case oauth.GrantDevice:
		h.tokenDevice(w, r, req)
	default:
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrUnsupportedGrantType))
	}
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	req := &tokenRequest{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, oauth.WrapError(oauth.ErrFormNotParseable, err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, oauth.WrapError(oauth.ErrFormNotParseable, err)
	}
	req.GrantType = r.PostForm.Get("grant_type")
	req.ClientID = r.PostForm.Get("client_id")
	req.ClientSecret = r.PostForm.Get("client_secret")
	req.Code = r.PostForm.Get("code")
	req.CodeVerifier = r.PostForm.Get("code_verifier")
	req.Method = r.PostForm.Get("code_challenge_method")
	req.RefreshToken = r.PostForm.Get("refresh_token")
	req.DeviceCode = r.PostForm.Get("device_code")
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	req.Scope = r.PostForm.Get("scope")
	return req, nil
}

// requireClient resolves and authenticates the requesting client for a
// given grant. Confidential clients must present their exact secret.
func (h *Handler) requireClient(info *ClientInfo, req *tokenRequest, grant oauth.GrantType) (*entities.Client, error) {
	client := info.Client
	if client == nil {
		return nil, oauth.NewError(oauth.ErrNoClient)
	}
	if client.Config.Secret != "" &&
		subtle.ConstantTimeCompare([]byte(client.Config.Secret), []byte(req.ClientSecret)) != 1 {
		return nil, oauth.NewError(oauth.ErrWrongClientSecret)
	}
	if !client.AllowsGrant(grant) {
		return nil, oauth.NewError(oauth.ErrUnsupportedGrantType)
	}
	return client, nil
}

func (h *Handler) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	info := Info(r)
	client, err := h.requireClient(info, req, oauth.GrantAuthorizationCode)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	sess, err := h.sessions.Get(r.Context(), session.TypeCode, req.Code)
	if err != nil {
		h.fail(w, r, info.Tenant, h.storeError(err))
		return
	}

	if sess.CodeChallenge != "" {
		if req.Method != "" && oauth.CodeChallengeMethod(req.Method) != sess.CodeChallengeMethod {
			h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrInvalidate))
			return
		}
		if req.CodeVerifier == "" ||
			!oauth.VerifyCodeChallenge(sess.CodeChallengeMethod, sess.CodeChallenge, req.CodeVerifier) {
			h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrInvalidate))
			return
		}
	}

	if client.Config.TenantName != sess.TenantName {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrTenantMismatch))
		return
	}

	h.issueTokens(w, r, sess, true, oauth.GrantAuthorizationCode)
}

func (h *Handler) tokenRefresh(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	info := Info(r)
	client, err := h.requireClient(info, req, oauth.GrantRefreshToken)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	sess, err := h.sessions.Get(r.Context(), session.TypeRefresh, req.RefreshToken)
	if err != nil {
		h.fail(w, r, info.Tenant, h.storeError(err))
		return
	}
	if client.Config.TenantName != sess.TenantName ||
		(info.Tenant != nil && info.Tenant.Name != sess.TenantName) {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrTenantMismatch))
		return
	}

	tenant := h.store.FindTenantByName(sess.TenantName)
	if tenant == nil {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNoTenant))
		return
	}
	if err := h.validateSubject(r, tenant, sess); err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}

	h.issueTokens(w, r, sess, true, oauth.GrantRefreshToken)
}

// validateSubject runs the tenant's validation provider against the refresh
// session's subject. Tenants without one assume validity in development
// only.
func (h *Handler) validateSubject(r *http.Request, tenant *entities.Tenant, sess *session.AuthSession) error {
	host := provider.NewHost(tenant.Config.Providers, provider.WithTimeout(h.settings.ScriptTimeout))
	if !host.HasSources() {
		if h.settings.IsProduction() {
			return oauth.NewError(oauth.ErrInvalidate)
		}
		return nil
	}
	args := map[string]any{"subject": sess.Subject}
	if sess.Payload != nil {
		args["username"] = sess.Payload.User
	}
	result, err := host.Run(r.Context(), provider.ClassUserValidation, args)
	if err != nil {
		logger.Infow("validation provider failed", "tenant", tenant.Name, "err", err)
		return oauth.WrapError(oauth.ErrInvalidate, err)
	}
	if !result.IsValid {
		return oauth.NewError(oauth.ErrInvalidate)
	}
	return nil
}

func (h *Handler) tokenPassword(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	info := Info(r)
	if info.Tenant == nil {
		h.fail(w, r, nil, oauth.NewError(oauth.ErrMissingTenant))
		return
	}

	result, err := h.runLoginProvider(r, info.Tenant, req.Username, req.Password)
	if err != nil || !result.CanLogin {
		metrics.Logins.WithLabelValues(info.Tenant.Name, metrics.OutcomeDenied).Inc()
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrWrongCredentials))
		return
	}
	metrics.Logins.WithLabelValues(info.Tenant.Name, metrics.OutcomeSuccess).Inc()

	payload, err := h.buildPayload(info, result, req.Username, req.Scope)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}
	sess := &session.AuthSession{
		TenantName: info.Tenant.Name,
		Subject:    payload.Subject,
		Scopes:     payload.Scopes(),
		Payload:    payload,
		Generated:  time.Now(),
	}
	// Password grants issue no refresh token.
	h.issueTokens(w, r, sess, false, oauth.GrantPassword)
}

// tokenDevice starts a device authorization or answers a poll for one.
// Approval happens out of band; polling an unconfirmed code yields
// AUTHORIZATION_PENDING.
func (h *Handler) tokenDevice(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	info := Info(r)
	if info.Tenant == nil {
		h.fail(w, r, nil, oauth.NewError(oauth.ErrMissingTenant))
		return
	}

	if req.DeviceCode != "" {
		h.tokenDevicePoll(w, r, req.DeviceCode)
		return
	}

	deviceCode := h.sessions.GenerateCode()
	userCode := strings.ToUpper(session.GenerateCode(8))
	err := h.sessions.Put(r.Context(), &session.AuthSession{
		Type:       session.TypeDevice,
		TenantName: info.Tenant.Name,
		Code:       deviceCode,
		Subject:    userCode,
		TTL:        config.DefaultDeviceCodeTTL,
		Generated:  time.Now(),
	})
	if err != nil {
		h.fail(w, r, info.Tenant, h.storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      deviceCode,
		"user_code":        userCode,
		"verification_uri": info.ServiceURL + "/device",
		"expires_in":       int(config.DefaultDeviceCodeTTL.Seconds()),
		"interval":         5,
	})
}

// tokenDevicePoll exchanges a confirmed device code for tokens. The device
// session is deleted on success so the code is single-use.
func (h *Handler) tokenDevicePoll(w http.ResponseWriter, r *http.Request, deviceCode string) {
	info := Info(r)
	sess, err := h.sessions.Get(r.Context(), session.TypeDevice, deviceCode)
	if err != nil {
		h.fail(w, r, info.Tenant, h.storeError(err))
		return
	}
	if !sess.Confirmed || sess.Payload == nil {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrAuthorizationPending))
		return
	}
	if err := h.sessions.Delete(r.Context(), session.TypeDevice, deviceCode); err != nil {
		h.fail(w, r, info.Tenant, h.storeError(err))
		return
	}
	h.issueTokens(w, r, sess, true, oauth.GrantDevice)
}

// issueTokens signs a fresh access token from the session payload and,
// when rotate is set, stores and returns a new refresh token.
func (h *Handler) issueTokens(w http.ResponseWriter, r *http.Request, sess *session.AuthSession, rotate bool, grant oauth.GrantType) {
	info := Info(r)
	tenant := h.store.FindTenantByName(sess.TenantName)
	if tenant == nil {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNoTenant))
		return
	}

	payload := clonePayload(sess.Payload)
	payload.Tenant = sess.TenantName
	payload.Scope = oauth.JoinScopes(sess.Scopes)
	now := time.Now()
	payload.IssuedAt = jwt.NewNumericDate(now)
	payload.ExpiresAt = jwt.NewNumericDate(now.Add(h.settings.TokenExpiration))

	access, err := h.signer.Sign(r.Context(), payload, tenant)
	if err != nil {
		logger.Errorw("sign access token", "tenant", sess.TenantName, "err", err)
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrNotAcceptableRequest))
		return
	}

	resp := tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.settings.TokenExpiration.Seconds()),
		Scope:       oauth.JoinScopes(sess.Scopes),
	}

	if rotate {
		refresh := h.sessions.GenerateCode()
		err := h.sessions.Put(r.Context(), &session.AuthSession{
			Type:       session.TypeRefresh,
			TenantName: sess.TenantName,
			Subject:    sess.Subject,
			Code:       refresh,
			Scopes:     sess.Scopes,
			Payload:    sess.Payload,
			TTL:        h.settings.RefreshTTL,
			Generated:  now,
		})
		if err != nil {
			h.fail(w, r, info.Tenant, h.storeError(err))
			return
		}
		resp.RefreshToken = refresh
	}

	metrics.TokensIssued.WithLabelValues(sess.TenantName, string(grant)).Inc()
	writeJSON(w, http.StatusOK, resp)
}

// clonePayload copies a payload so fresh iat/exp never mutate the stored
// session.
func clonePayload(p *oauth.Payload) *oauth.Payload {
	if p == nil {
		return &oauth.Payload{}
	}
	clone := *p
	return &clone
}

// storeError maps session store failures to their protocol kind. A missing
// or consumed code is an invalidation; everything else is an internal error
// surfaced as a generic rejection.
func (h *Handler) storeError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return oauth.WrapError(oauth.ErrInvalidate, err)
	}
	return oauth.WrapError(oauth.ErrNotAcceptableRequest, err)
}

// TokenInfo returns the profile claim of a verified bearer token.
func (h *Handler) TokenInfo(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	raw := bearerToken(r)
	if raw == "" {
		h.fail(w, r, info.Tenant, oauth.NewError(oauth.ErrInvalidToken))
		return
	}
	payload, err := h.signer.Verify(r.Context(), raw)
	if err != nil {
		h.fail(w, r, info.Tenant, err)
		return
	}
	if len(payload.Profile) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(payload.Profile)
}

// Revoke implements RFC 7009: it tries the token as a refresh token first,
// then as an access token, wiping the subject's sessions either way. The
// response is 200 regardless of the outcome.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	req, err := parseRevokeRequest(r)
	if err == nil && req != "" {
		if sess, err := h.sessions.Get(r.Context(), session.TypeRefresh, req); err == nil {
			_ = h.sessions.Wipe(r.Context(), sess.TenantName, sess.Subject)
		} else if payload, err := h.signer.Verify(r.Context(), req); err == nil {
			_ = h.sessions.Wipe(r.Context(), payload.Tenant, payload.Subject)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func parseRevokeRequest(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", err
		}
		return body.Token, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("token"), nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
