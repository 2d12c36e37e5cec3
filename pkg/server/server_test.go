// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/keys"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
	"github.com/uitsmijter/uitsmijter/pkg/session"
)

const clientIdent = "7e2d32f0-ef58-4ae5-92c6-1e7d6a0727e3"

const loginScript = `
class UserLoginProvider {
  constructor(credentials) {
    this.ok = credentials.username.endsWith("@example.com");
    commit(this.ok, { subject: "uid-" + credentials.username, scopes: ["premium"] });
  }
  get canLogin() { return this.ok; }
  get role() { return "customer"; }
  get userProfile() { return { name: "Ada", plan: "gold" }; }
}
`

const validationScript = `
class UserValidationProvider {
  constructor(args) {
    this.valid = args.subject !== "uid-blocked@example.com";
    commit(this.valid);
  }
  get isValid() { return this.valid; }
}
`

type testEnv struct {
	handler  *Handler
	router   http.Handler
	store    *entities.Store
	sessions session.Store
	signer   *keys.Signer
	storage  *keys.Storage
	settings *config.Settings
}

func newTestEnv(t *testing.T, alg entities.JWTAlgorithm) *testEnv {
	t.Helper()

	settings := &config.Settings{
		Environment:      config.Production,
		JWTSecret:        "test-secret",
		CookieExpiration: 7 * 24 * time.Hour,
		TokenExpiration:  2 * time.Hour,
		TokenLength:      16,
		ScriptTimeout:    2 * time.Second,
		RenewWindow:      2 * time.Hour,
		RefreshTTL:       30 * 24 * time.Hour,
	}

	store := entities.NewStore()
	tenant := &entities.Tenant{
		Name: "acme",
		Config: entities.TenantConfig{
			Hosts: []string{"localhost", "acme.example.com", "*.acme.example.com"},
			Interceptor: &entities.InterceptorSettings{
				Enabled: true,
				Domain:  "login.acme.example.com",
				Cookie:  "acme.example.com",
			},
			Providers:    []string{loginScript, validationScript},
			JWTAlgorithm: alg,
		},
		Ref: entities.SourceRef{Kind: entities.SourceFile, Key: "acme"},
	}
	require.NoError(t, store.UpsertTenant(tenant))

	client := &entities.Client{
		Ident: uuid.MustParse(clientIdent),
		Name:  "webshop",
		Config: entities.ClientConfig{
			TenantName:     "acme",
			RedirectURLs:   []string{`http://localhost/.*`},
			Scopes:         []string{"test*", "read"},
			ProviderScopes: []string{"premium"},
		},
		Ref: entities.SourceRef{Kind: entities.SourceFile, Key: "webshop"},
	}
	require.NoError(t, store.UpsertClient(client))

	otherTenant := &entities.Tenant{
		Name:   "rival",
		Config: entities.TenantConfig{Hosts: []string{"rival.example.com"}},
		Ref:    entities.SourceRef{Kind: entities.SourceFile, Key: "rival"},
	}
	require.NoError(t, store.UpsertTenant(otherTenant))
	rivalClient := &entities.Client{
		Ident: uuid.MustParse("3e0a2cf9-6bb1-47a6-b99d-384f53fe6d4f"),
		Name:  "rival-app",
		Config: entities.ClientConfig{
			TenantName:   "rival",
			RedirectURLs: []string{`http://localhost/.*`},
		},
		Ref: entities.SourceRef{Kind: entities.SourceFile, Key: "rival-app"},
	}
	require.NoError(t, store.UpsertClient(rivalClient))

	sessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	storage := keys.NewStorage(keys.NewMemoryKV())
	_, err := storage.Bootstrap(context.Background())
	require.NoError(t, err)
	signer := keys.NewSigner(storage, settings.JWTSecret, entities.AlgHS256,
		keys.WithTokenTTL(settings.TokenExpiration))

	renderer, err := NewRenderer()
	require.NoError(t, err)

	handler := NewHandler(settings, store, sessions, signer, storage, renderer)
	handler.SetLoaded()

	return &testEnv{
		handler:  handler,
		router:   handler.Routes(),
		store:    store,
		sessions: sessions,
		signer:   signer,
		storage:  storage,
		settings: settings,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "localhost"
	return req
}

func getRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = "localhost"
	return req
}

const authorizeURL = "/authorize?response_type=code&client_id=" + clientIdent +
	"&redirect_uri=http://localhost/&scope=test&state=123"

// login performs the form login and returns the SSO cookie value and the
// redirect location.
func (e *testEnv) login(t *testing.T, username string) (string, string) {
	t.Helper()
	rec := e.do(formRequest("/login", url.Values{
		"username": {username},
		"password": {"anything"},
		"location": {authorizeURL},
		"scope":    {"test"},
	}))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	var cookie string
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c.Value
		}
	}
	require.NotEmpty(t, cookie, "login must set the SSO cookie")
	return cookie, rec.Header().Get("Location")
}

func TestAuthorizeWithoutCookieRendersLoginForm(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(getRequest(authorizeURL))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `form action="/login"`)
	assert.Contains(t, rec.Body.String(), "response_type=code")
}

func TestAuthorizeRejectsUnknownResponseType(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(getRequest("/authorize?response_type=token"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeRejectsUnknownChallengeMethod(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(getRequest(authorizeURL+"&code_challenge_method=S512&code_challenge=x"))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "CODE_CHALLENGE_METHOD_NOT_IMPLEMENTED")
}

func TestAuthorizeRejectsRedirectMismatch(t *testing.T) {
	env := newTestEnv(t, "")
	target := "/authorize?response_type=code&client_id=" + clientIdent +
		"&redirect_uri=http://evil.example.com/&state=1"
	rec := env.do(getRequest(target))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "REDIRECT_MISMATCH")
}

func TestLoginDeniedForWrongCredentials(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(formRequest("/login", url.Values{
		"username": {"intruder@evil.org"},
		"password": {"x"},
		"location": {authorizeURL},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "WRONG_CREDENTIALS")
}

func TestFullCodeFlowRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, location := env.login(t, "ok@example.com")
	require.Contains(t, location, "loginId=")

	// Resume the authorize flow with the ticket attached.
	req := getRequest(location)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	redirect, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := redirect.Query().Get("code")
	assert.Len(t, code, 16)
	assert.Equal(t, "123", redirect.Query().Get("state"))
	assert.Equal(t, "localhost", redirect.Host)

	// Exchange the code.
	rec = env.do(formRequest("/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {clientIdent},
		"code":       {code},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 7200, tok.ExpiresIn)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Contains(t, tok.Scope, "test")
	assert.Contains(t, tok.Scope, "premium")

	// The profile at /token/info matches what the provider committed.
	req = getRequest("/token/info")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Ada", profile["name"])
	assert.Equal(t, "gold", profile["plan"])

	// And the subject survived the whole flow.
	payload, err := env.signer.Verify(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "uid-ok@example.com", payload.Subject)

	// A code is single use.
	rec = env.do(formRequest("/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {clientIdent},
		"code":       {code},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSilentLoginWithoutTicket(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")

	req := getRequest(authorizeURL)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "code=")
}

func TestSilentLoginDisabledShowsForm(t *testing.T) {
	env := newTestEnv(t, "")
	off := false
	updated := *env.store.FindTenantByName("acme")
	updated.Config.SilentLogin = &off
	require.NoError(t, env.store.UpsertTenant(&updated))

	cookie, _ := env.login(t, "ok@example.com")
	req := getRequest(authorizeURL)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `form action="/login"`)
}

func TestPKCERoundTrip(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")

	verifier := "correct-horse-battery-staple-1234567890abc"
	challenge := oauth2S256(verifier)

	req := getRequest(authorizeURL + "&code_challenge=" + challenge + "&code_challenge_method=sha256")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	redirect, _ := url.Parse(rec.Header().Get("Location"))
	code := redirect.Query().Get("code")

	// The wrong verifier is rejected and consumes the code.
	rec = env.do(formRequest("/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientIdent},
		"code":          {code},
		"code_verifier": {"wrong"},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A fresh code with the right verifier succeeds.
	req = getRequest(authorizeURL + "&code_challenge=" + challenge + "&code_challenge_method=sha256")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec = env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	redirect, _ = url.Parse(rec.Header().Get("Location"))
	rec = env.do(formRequest("/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientIdent},
		"code":          {redirect.Query().Get("code")},
		"code_verifier": {verifier},
	}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCrossTenantCodeExchangeRejected(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")

	req := getRequest(authorizeURL)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	redirect, _ := url.Parse(rec.Header().Get("Location"))
	code := redirect.Query().Get("code")

	// The rival tenant's client cannot exchange acme's code.
	req2 := formRequest("/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {"3e0a2cf9-6bb1-47a6-b99d-384f53fe6d4f"},
		"code":       {code},
	})
	req2.Host = "rival.example.com"
	rec = env.do(req2)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_MISMATCH")
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")
	req := getRequest(authorizeURL)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	redirect, _ := url.Parse(rec.Header().Get("Location"))

	rec = env.do(formRequest("/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {clientIdent},
		"code":       {redirect.Query().Get("code")},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var first struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = env.do(formRequest("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientIdent},
		"refresh_token": {first.RefreshToken},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEmpty(t, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old refresh token was consumed by the rotation.
	rec = env.do(formRequest("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientIdent},
		"refresh_token": {first.RefreshToken},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCrossTenantRefreshRejected(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")
	req := getRequest(authorizeURL)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	redirect, _ := url.Parse(rec.Header().Get("Location"))

	rec = env.do(formRequest("/token", url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {clientIdent},
		"code":       {redirect.Query().Get("code")},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var issued struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	// Without a client there is no exchange at all.
	anon := formRequest("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {issued.RefreshToken},
	})
	anon.Host = "rival.example.com"
	rec = env.do(anon)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_CLIENT")

	// The rival tenant's client cannot use acme's refresh token.
	foreign := formRequest("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"3e0a2cf9-6bb1-47a6-b99d-384f53fe6d4f"},
		"refresh_token": {issued.RefreshToken},
	})
	foreign.Host = "rival.example.com"
	rec = env.do(foreign)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_MISMATCH")

	// The cross-tenant attempt consumed the token, so even the legitimate
	// client cannot use it anymore.
	rec = env.do(formRequest("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientIdent},
		"refresh_token": {issued.RefreshToken},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWrongClientSecretRejected(t *testing.T) {
	env := newTestEnv(t, "")
	updated := *env.store.FindClientByIdent(uuid.MustParse(clientIdent))
	updated.Config.Secret = "hunter2"
	require.NoError(t, env.store.UpsertClient(&updated))

	rec := env.do(formRequest("/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientIdent},
		"client_secret": {"wrong"},
		"code":          {"whatever"},
	}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "WRONG_CLIENT_SECRET")
}

func TestBasicAuthIsRejected(t *testing.T) {
	env := newTestEnv(t, "")
	req := formRequest("/token", url.Values{"grant_type": {"authorization_code"}})
	req.SetBasicAuth("client", "secret")
	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsupportedGrantType(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(formRequest("/token", url.Values{"grant_type": {"implicit"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_GRANT_TYPE")
}

func TestPasswordGrant(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(formRequest("/token", url.Values{
		"grant_type": {"password"},
		"username":   {"ok@example.com"},
		"password":   {"anything"},
		"scope":      {"test"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.AccessToken)
	assert.Empty(t, tok.RefreshToken, "password grant issues no refresh token")
}

func TestRevokeAlwaysReturnsOK(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(formRequest("/revoke", url.Values{"token": {"unknown-token"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutFinalizeExpiresCookieAndWipes(t *testing.T) {
	env := newTestEnv(t, "")
	cookie, _ := env.login(t, "ok@example.com")

	req := getRequest("/logout/finalize?location=/done")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/done", rec.Header().Get("Location"))

	var invalidated bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName && c.Value == "invalid" {
			invalidated = true
		}
	}
	assert.True(t, invalidated, "finalize must expire the cookie")
}

func (e *testEnv) interceptorCookie(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tenant := e.store.FindTenantByName("acme")
	payload := &oauth.Payload{
		Tenant:         "acme",
		Responsibility: oauth.ResponsibilityHash("acme.example.com"),
		User:           "ok@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-ok@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := e.signer.Sign(context.Background(), payload, tenant)
	require.NoError(t, err)
	return token
}

func TestInterceptorRedirectsWithoutCookie(t *testing.T) {
	env := newTestEnv(t, "")
	req := getRequest("/interceptor")
	req.Header.Set("X-Forwarded-Host", "www.acme.example.com")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Uri", "/account")
	rec := env.do(req)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "https://login.acme.example.com/login?for=")
	assert.Contains(t, location, url.QueryEscape("https://www.acme.example.com/account"))
}

func TestInterceptorAdmitsAndRenewsNearExpiry(t *testing.T) {
	env := newTestEnv(t, "")
	cookie := env.interceptorCookie(t, 30*time.Minute)

	req := getRequest("/interceptor")
	req.Header.Set("X-Forwarded-Host", "www.acme.example.com")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Uri", "/account")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var renewed string
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			renewed = c.Value
		}
	}
	require.NotEmpty(t, renewed, "near-expiry cookie must be re-signed")
	payload, err := env.signer.Verify(context.Background(), renewed)
	require.NoError(t, err)
	assert.Greater(t, payload.ExpiresAt.Unix(), time.Now().Add(24*time.Hour).Unix())
}

func TestInterceptorRejectsForeignResponsibility(t *testing.T) {
	env := newTestEnv(t, "")
	tenant := env.store.FindTenantByName("acme")
	payload := &oauth.Payload{
		Tenant:         "acme",
		Responsibility: oauth.ResponsibilityHash("somewhere-else.example"),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-ok@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(48 * time.Hour)),
		},
	}
	token, err := env.signer.Sign(context.Background(), payload, tenant)
	require.NoError(t, err)

	req := getRequest("/interceptor")
	req.Header.Set("X-Forwarded-Host", "www.acme.example.com")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec := env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOpenIDConfiguration(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(getRequest("/.well-known/openid-configuration"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, `\/`, "slashes must not be escaped")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "http://localhost/authorize", doc["authorization_endpoint"])
	assert.Equal(t, "http://localhost/token/info", doc["userinfo_endpoint"])
	assert.Equal(t, []any{"code"}, doc["response_types_supported"])
	assert.Equal(t, []any{"plain", "S256"}, doc["code_challenge_methods_supported"])
}

func TestRS256TokenVerifiesAgainstJWKS(t *testing.T) {
	env := newTestEnv(t, entities.AlgRS256)
	rec := env.do(formRequest("/token", url.Values{
		"grant_type": {"password"},
		"username":   {"ok@example.com"},
		"password":   {"x"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	rec = env.do(getRequest("/.well-known/jwks.json"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	set, err := jwk.Parse(rec.Body.Bytes())
	require.NoError(t, err)

	parsed, err := jwt.Parse(tok.AccessToken, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, ok := set.LookupKeyID(kid)
		require.True(t, ok, "jwks must contain the signing kid")
		var pub rsa.PublicKey
		require.NoError(t, key.Raw(&pub))
		return &pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(getRequest("/health/alive"))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(getRequest("/health/ready"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyBeforeInitialLoad(t *testing.T) {
	env := newTestEnv(t, "")
	env.handler.loaded.Store(false)
	rec := env.do(getRequest("/health/ready"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeviceGrantPendingThenConfirmed(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(formRequest("/token", url.Values{"grant_type": {"device"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var start map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	deviceCode, _ := start["device_code"].(string)
	require.NotEmpty(t, deviceCode)
	assert.Len(t, start["user_code"], 8)

	// Polling before the user confirmed the code stays pending.
	poll := url.Values{"grant_type": {"device"}, "device_code": {deviceCode}}
	rec = env.do(formRequest("/token", poll))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTHORIZATION_PENDING")

	// Confirm out of band.
	sess, err := env.sessions.Get(context.Background(), session.TypeDevice, deviceCode)
	require.NoError(t, err)
	sess.Confirmed = true
	sess.Subject = "uid-device@example.com"
	sess.Payload = &oauth.Payload{
		Tenant: "acme",
		User:   "device@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "uid-device@example.com",
		},
	}
	require.NoError(t, env.sessions.Update(context.Background(), sess))

	rec = env.do(formRequest("/token", poll))
	require.Equal(t, http.StatusOK, rec.Code)
	var tok tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)

	// The device code is single-use.
	rec = env.do(formRequest("/token", poll))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// oauth2S256 computes the S256 challenge the way a client would.
func oauth2S256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
