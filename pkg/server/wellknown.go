// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// jwksCacheMaxAge balances client caching with rotation propagation.
const jwksCacheMaxAge = "public, max-age=3600"

// discoveryDocument is the per-tenant OpenID Provider metadata.
type discoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
}

// OpenIDConfiguration serves the per-tenant discovery document. Grant types
// and scopes aggregate over the tenant's clients.
func (h *Handler) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	info := Info(r)
	if info.Tenant == nil {
		h.fail(w, r, nil, oauth.NewError(oauth.ErrNoTenant))
		return
	}

	grants := map[string]bool{}
	scopes := map[string]bool{}
	for _, client := range h.store.ClientsFor(info.Tenant.Name) {
		clientGrants := client.Config.GrantTypes
		if len(clientGrants) == 0 {
			clientGrants = oauth.KnownGrantTypes
		}
		for _, g := range clientGrants {
			grants[string(g)] = true
		}
		for _, s := range client.Config.Scopes {
			scopes[s] = true
		}
	}
	if len(grants) == 0 {
		grants["authorization_code"] = true
	}

	doc := discoveryDocument{
		Issuer:                        info.ServiceURL,
		AuthorizationEndpoint:         info.ServiceURL + "/authorize",
		TokenEndpoint:                 info.ServiceURL + "/token",
		UserinfoEndpoint:              info.ServiceURL + "/token/info",
		JWKSURI:                       info.ServiceURL + "/.well-known/jwks.json",
		RevocationEndpoint:            info.ServiceURL + "/revoke",
		EndSessionEndpoint:            info.ServiceURL + "/logout",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           sortedKeys(grants),
		TokenEndpointAuthMethods:      []string{"client_secret_post", "none"},
		CodeChallengeMethodsSupported: []string{"plain", "S256"},
		ScopesSupported:               sortedKeys(scopes),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", jwksCacheMaxAge)
	enc := json.NewEncoder(w)
	// URLs in the document must keep their forward slashes unescaped.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		logger.Errorw("encode discovery document", "err", err)
	}
}

// JWKS serves the public signing keys.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.keys.JWKS(r.Context())
	if err != nil {
		logger.Errorw("collect jwks", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		logger.Errorw("encode jwks", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", jwksCacheMaxAge)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
