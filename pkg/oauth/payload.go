// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Payload is the claim set carried in issued tokens and in the SSO cookie.
// Profile is an opaque JSON object supplied by the tenant's provider script;
// it is stored and re-emitted verbatim, never validated.
type Payload struct {
	Tenant         string          `json:"tenant"`
	Responsibility string          `json:"responsibility"`
	Role           string          `json:"role,omitempty"`
	User           string          `json:"user"`
	Scope          string          `json:"scope,omitempty"`
	Profile        json.RawMessage `json:"profile,omitempty"`

	jwt.RegisteredClaims
}

// Scopes returns the space-joined scope claim as a list.
func (p *Payload) Scopes() []string {
	if p.Scope == "" {
		return nil
	}
	return strings.Fields(p.Scope)
}

// ResponsibilityHash computes the hash of a responsible domain that is
// embedded in tokens and checked on interceptor renewal. The domain is
// canonicalized to lower case before hashing.
func ResponsibilityHash(domain string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(domain))))
	return hex.EncodeToString(sum[:])
}
