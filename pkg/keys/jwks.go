// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKS returns the JSON Web Key Set of all stored RSA public keys. Rotated
// keys stay in the set so tokens signed before a rotation keep verifying.
// HS256 secrets are never published.
func (s *Storage) JWKS(ctx context.Context) (jwk.Set, error) {
	pairs, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	for _, pair := range pairs {
		key, err := jwk.FromRaw(pair.Public)
		if err != nil {
			return nil, fmt.Errorf("jwk for %s: %w", pair.Kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, pair.Kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("add jwk %s: %w", pair.Kid, err)
		}
	}
	return set, nil
}
