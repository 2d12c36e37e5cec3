// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package oauth

// GrantType is an OAuth grant a client may be allowed to use.
type GrantType string

// Supported grant types.
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantPassword          GrantType = "password"
	GrantDevice            GrantType = "device"
	GrantInterceptor       GrantType = "interceptor"
)

// KnownGrantTypes lists every grant type the server understands.
var KnownGrantTypes = []GrantType{
	GrantAuthorizationCode,
	GrantRefreshToken,
	GrantPassword,
	GrantDevice,
	GrantInterceptor,
}

// IsKnownGrantType reports whether g names a supported grant.
func IsKnownGrantType(g GrantType) bool {
	for _, known := range KnownGrantTypes {
		if g == known {
			return true
		}
	}
	return false
}
