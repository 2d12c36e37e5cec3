// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package entities holds the tenant and client model and the in-memory
// store that resolves them by host, name, or ident.
//
// Mutations go through the loaders only; request handlers get read-only
// access. Entities are identified across reloads by their SourceRef.
package entities

import (
	"fmt"
	"strings"
)

// SourceKind is the origin of an entity definition.
type SourceKind string

// Entity origins.
const (
	SourceFile    SourceKind = "file"
	SourceCluster SourceKind = "cluster"
)

// SourceRef identifies where an entity definition came from. Re-arrival of
// an entity with the same SourceRef replaces the prior value; deletion of
// the source removes it.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	Key  string     `json:"key"`
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Key)
}

// JWTAlgorithm selects the signing algorithm for a tenant's tokens.
type JWTAlgorithm string

// Supported signing algorithms.
const (
	AlgHS256 JWTAlgorithm = "HS256"
	AlgRS256 JWTAlgorithm = "RS256"
)

// InterceptorSettings enables forward-auth mode for a tenant.
type InterceptorSettings struct {
	Enabled bool `json:"enabled"`
	// Domain is the login domain the interceptor redirects to.
	Domain string `json:"domain,omitempty"`
	// CookieDomain is the domain issued cookies are scoped to; falls back
	// to Domain when empty.
	Cookie string `json:"cookie,omitempty"`
}

// TemplateSettings points to an S3-style bucket with tenant templates.
type TemplateSettings struct {
	AccessKeyID string `json:"access_key_id,omitempty"`
	SecretKey   string `json:"secret_access_key,omitempty"`
	Host        string `json:"host,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	Path        string `json:"path,omitempty"`
}

// TenantInfos are optional informational URLs shown on login pages.
type TenantInfos struct {
	Imprint      string `json:"imprint,omitempty"`
	PrivacyPerms string `json:"privacy,omitempty"`
	Registration string `json:"registration,omitempty"`
}

// TenantConfig is the configurable part of a tenant, as found in YAML
// files and custom resources.
type TenantConfig struct {
	// Hosts are the host patterns this tenant serves. Wildcards with a
	// leading "*." label are allowed. The set must be non-empty.
	Hosts []string `json:"hosts"`

	Interceptor *InterceptorSettings `json:"interceptor,omitempty"`

	// Providers are the tenant-supplied script sources, concatenated and
	// evaluated per login attempt.
	Providers []string `json:"providers,omitempty"`

	Templates *TemplateSettings `json:"templates,omitempty"`
	Infos     *TenantInfos     `json:"informations,omitempty"`

	// SilentLogin issues codes without showing a form when a valid cookie
	// is present. Defaults to true.
	SilentLogin *bool `json:"silent_login,omitempty"`

	// JWTAlgorithm overrides the process default signing algorithm.
	JWTAlgorithm JWTAlgorithm `json:"jwt_algorithm,omitempty"`
}

// Tenant is an organizational boundary that owns host patterns, provider
// scripts, and templates. Equality is by Name.
type Tenant struct {
	Name   string       `json:"name"`
	Config TenantConfig `json:"config"`
	Ref    SourceRef    `json:"-"`
}

// Validate checks the tenant invariants.
func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tenant name must not be empty")
	}
	if len(t.Config.Hosts) == 0 {
		return fmt.Errorf("tenant %q must have at least one host", t.Name)
	}
	switch t.Config.JWTAlgorithm {
	case "", AlgHS256, AlgRS256:
	default:
		return fmt.Errorf("tenant %q has unsupported jwt algorithm %q", t.Name, t.Config.JWTAlgorithm)
	}
	return nil
}

// SilentLogin reports whether a valid cookie mints a code without a form.
func (t *Tenant) SilentLogin() bool {
	if t.Config.SilentLogin == nil {
		return true
	}
	return *t.Config.SilentLogin
}

// EffectiveAlgorithm returns the tenant's signing algorithm, falling back
// to the given process default.
func (t *Tenant) EffectiveAlgorithm(fallback JWTAlgorithm) JWTAlgorithm {
	if t.Config.JWTAlgorithm != "" {
		return t.Config.JWTAlgorithm
	}
	if fallback != "" {
		return fallback
	}
	return AlgHS256
}

// InterceptorEnabled reports whether forward-auth mode is on.
func (t *Tenant) InterceptorEnabled() bool {
	return t.Config.Interceptor != nil && t.Config.Interceptor.Enabled
}

// CookieDomain returns the domain issued interceptor cookies are scoped
// to: the explicit cookie domain when set, else the interceptor domain.
func (t *Tenant) CookieDomain() string {
	if t.Config.Interceptor == nil {
		return ""
	}
	if t.Config.Interceptor.Cookie != "" {
		return t.Config.Interceptor.Cookie
	}
	return t.Config.Interceptor.Domain
}

// MatchesHost reports whether the given request host matches one of the
// tenant's host patterns. Matching is case-insensitive; a leading "*."
// matches any single or multi-level left-hand label.
func (t *Tenant) MatchesHost(host string) bool {
	host = canonicalHost(host)
	for _, pattern := range t.Config.Hosts {
		if hostMatches(pattern, host) {
			return true
		}
	}
	return false
}

// LongestMatchingHost returns the tenant host pattern that matches the
// given host with the longest suffix, used for responsibility-domain
// computation under nested wildcards.
func (t *Tenant) LongestMatchingHost(host string) string {
	host = canonicalHost(host)
	best := ""
	for _, pattern := range t.Config.Hosts {
		if hostMatches(pattern, host) && len(pattern) > len(best) {
			best = pattern
		}
	}
	return best
}

// canonicalHost lowercases a host and strips any port.
func canonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

// hostMatches checks one pattern against a canonicalized host.
func hostMatches(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == host {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		// Any non-empty left-hand side matches, single or multi-level.
		return strings.HasSuffix(host, "."+suffix) && len(host) > len(suffix)+1
	}
	return false
}
