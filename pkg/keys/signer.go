// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// Signer issues and verifies the tokens the server hands out. HS256 tokens
// use the process-wide secret, RS256 tokens the active RSA key with its kid
// in the header. The algorithm is chosen per tenant.
type Signer struct {
	storage  *Storage
	secret   []byte
	fallback entities.JWTAlgorithm
	issuer   string
	tokenTTL time.Duration
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithIssuer sets the iss claim on signed tokens.
func WithIssuer(iss string) SignerOption {
	return func(s *Signer) { s.issuer = iss }
}

// WithTokenTTL sets the default token lifetime.
func WithTokenTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) { s.tokenTTL = ttl }
}

// NewSigner creates a Signer. An empty secret gets replaced by a random one,
// which is fine for development but breaks HS256 verification across
// restarts and instances; production deployments must configure one.
func NewSigner(storage *Storage, secret string, fallback entities.JWTAlgorithm, opts ...SignerOption) *Signer {
	s := &Signer{
		storage:  storage,
		secret:   []byte(secret),
		fallback: fallback,
		tokenTTL: 2 * time.Hour,
	}
	if len(s.secret) == 0 {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		s.secret = []byte(base64.RawURLEncoding.EncodeToString(buf))
		logger.Warnw("no JWT secret configured, generated a random one; " +
			"HS256 tokens will not survive restarts")
	}
	if s.fallback == "" {
		s.fallback = entities.AlgHS256
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign issues a token for the payload using the tenant's algorithm.
func (s *Signer) Sign(ctx context.Context, payload *oauth.Payload, tenant *entities.Tenant) (string, error) {
	now := time.Now()
	payload.IssuedAt = jwt.NewNumericDate(now)
	if payload.ExpiresAt == nil {
		payload.ExpiresAt = jwt.NewNumericDate(now.Add(s.tokenTTL))
	}
	if s.issuer != "" && payload.Issuer == "" {
		payload.Issuer = s.issuer
	}

	alg := s.fallback
	if tenant != nil {
		alg = tenant.EffectiveAlgorithm(s.fallback)
	}
	switch alg {
	case entities.AlgRS256:
		pair, err := s.storage.Active(ctx)
		if err != nil {
			return "", fmt.Errorf("no active signing key: %w", err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)
		token.Header["kid"] = pair.Kid
		return token.SignedString(pair.Private)
	default:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
		return token.SignedString(s.secret)
	}
}

// Verify parses and validates a token, resolving RS256 keys by their kid.
// Expired tokens map to EXPIRED_TOKEN, everything else to INVALID_TOKEN.
func (s *Signer) Verify(ctx context.Context, raw string) (*oauth.Payload, error) {
	payload := &oauth.Payload{}
	_, err := jwt.ParseWithClaims(raw, payload, func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return s.secret, nil
		case *jwt.SigningMethodRSA:
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid")
			}
			pair, err := s.storage.Load(ctx, kid)
			if err != nil {
				return nil, fmt.Errorf("unknown kid %s: %w", kid, err)
			}
			return pair.Public, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
	}, jwt.WithValidMethods([]string{"HS256", "RS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oauth.WrapError(oauth.ErrExpiredToken, err)
		}
		return nil, oauth.WrapError(oauth.ErrInvalidToken, err)
	}
	return payload, nil
}
