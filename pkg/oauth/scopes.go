// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"strings"

	"github.com/gobwas/glob"
)

// FilterScopes returns the requested scopes that match at least one of the
// client's glob patterns, preserving request order and dropping duplicates.
// Patterns that do not compile are skipped; a client with no patterns allows
// no scopes.
func FilterScopes(requested []string, patterns []string) []string {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}

	var out []string
	seen := make(map[string]bool, len(requested))
	for _, scope := range requested {
		if scope == "" || seen[scope] {
			continue
		}
		for _, g := range globs {
			if g.Match(scope) {
				seen[scope] = true
				out = append(out, scope)
				break
			}
		}
	}
	return out
}

// JoinScopes renders a scope list as the space-joined scope claim.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
