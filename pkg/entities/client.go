// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// ClientConfig is the configurable part of an OAuth client.
type ClientConfig struct {
	// TenantName references the owning tenant. A client may briefly exist
	// without a resolvable tenant during a reload.
	TenantName string `json:"tenantname"`

	// RedirectURLs are regular expressions; at least one must match a
	// redirect_uri for it to be accepted.
	RedirectURLs []string `json:"redirect_urls"`

	// GrantTypes restricts the grants this client may use. Empty allows all.
	GrantTypes []oauth.GrantType `json:"grant_types,omitempty"`

	// Scopes are glob patterns filtering requested scopes.
	Scopes []string `json:"scopes,omitempty"`

	// ProviderScopes are glob patterns additionally filtering scopes that
	// provider scripts hand out.
	ProviderScopes []string `json:"allowed_provider_scopes,omitempty"`

	// Referrers are regular expressions validated against the Referer
	// header when at least one is configured.
	Referrers []string `json:"referrers,omitempty"`

	// Secret makes the client confidential; token requests must present it.
	Secret string `json:"secret,omitempty"`
}

// Client is an OAuth client belonging to a tenant, identified by a UUID
// ident and a human-readable name.
type Client struct {
	Ident  uuid.UUID    `json:"ident"`
	Name   string       `json:"name"`
	Config ClientConfig `json:"config"`
	Ref    SourceRef    `json:"-"`
}

// Validate checks the client invariants.
func (c *Client) Validate() error {
	if c.Ident == uuid.Nil {
		return fmt.Errorf("client %q must have an ident", c.Name)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("client %s must have a name", c.Ident)
	}
	if strings.TrimSpace(c.Config.TenantName) == "" {
		return fmt.Errorf("client %q must reference a tenant", c.Name)
	}
	for _, g := range c.Config.GrantTypes {
		if !oauth.IsKnownGrantType(g) {
			return fmt.Errorf("client %q has unknown grant type %q", c.Name, g)
		}
	}
	return nil
}

// AllowsGrant reports whether the client may use the given grant type.
// Clients without an explicit grant list allow every grant.
func (c *Client) AllowsGrant(grant oauth.GrantType) bool {
	if len(c.Config.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.Config.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AllowsRedirect reports whether redirect matches one of the client's
// redirect_url patterns. The pattern list is authoritative; broken
// patterns never match.
func (c *Client) AllowsRedirect(redirect string) bool {
	return matchAnyPattern(c.Config.RedirectURLs, redirect)
}

// AllowsReferer reports whether the Referer value is acceptable. Clients
// without referrer patterns accept everything.
func (c *Client) AllowsReferer(referer string) bool {
	if len(c.Config.Referrers) == 0 {
		return true
	}
	return matchAnyPattern(c.Config.Referrers, referer)
}

func matchAnyPattern(patterns []string, value string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
