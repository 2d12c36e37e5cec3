// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// CodeChallengeMethod is a PKCE challenge method (RFC 7636).
type CodeChallengeMethod string

// Supported challenge methods. The wire name of ChallengeSHA256 in discovery
// documents is "S256"; request parameters accept the spelled-out form.
const (
	ChallengePlain  CodeChallengeMethod = "plain"
	ChallengeSHA256 CodeChallengeMethod = "sha256"
	ChallengeNone   CodeChallengeMethod = "none"
)

// IsKnownChallengeMethod reports whether m names a supported method.
func IsKnownChallengeMethod(m CodeChallengeMethod) bool {
	switch m {
	case ChallengePlain, ChallengeSHA256, ChallengeNone:
		return true
	}
	return false
}

// VerifyCodeChallenge checks a token request's code_verifier against the
// challenge recorded at authorization time. The sha256 comparison delegates
// to golang.org/x/oauth2 for the BASE64URL(SHA256(verifier)) computation.
func VerifyCodeChallenge(method CodeChallengeMethod, challenge, verifier string) bool {
	switch method {
	case ChallengeNone, "":
		return true
	case ChallengePlain:
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case ChallengeSHA256:
		computed := oauth2.S256ChallengeFromVerifier(verifier)
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	}
	return false
}
