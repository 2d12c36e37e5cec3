// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

const (
	activeKey = "jwt:keys:active"
	keyPrefix = "jwt:keys:"
	lockKey   = "jwt:keys:lock"

	// lockTTL bounds how long a crashed generator can hold the lock.
	lockTTL = 10 * time.Second
	// adoptPoll is the interval at which lock losers wait for the winner's
	// key to appear.
	adoptPoll = 200 * time.Millisecond
	// adoptDeadline caps how long a loser waits before giving up.
	adoptDeadline = 30 * time.Second

	rsaBits = 2048
)

// KeyPair is one RSA signing key with its identifier.
type KeyPair struct {
	Kid     string
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

type storedPair struct {
	PrivatePEM string `json:"privateKeyPem"`
	PublicPEM  string `json:"publicKeyPem"`
}

// Storage persists RSA key pairs and the active-kid pointer in a KV store.
// When multiple instances start against an empty store, a short-lived lock
// ensures exactly one generates the key while the others adopt it.
type Storage struct {
	kv KV
}

// NewStorage creates a key storage on top of the given KV.
func NewStorage(kv KV) *Storage {
	return &Storage{kv: kv}
}

// Bootstrap makes sure an active key pair exists, generating one if needed.
// It returns the active pair.
func (s *Storage) Bootstrap(ctx context.Context) (*KeyPair, error) {
	if pair, err := s.Active(ctx); err == nil {
		return pair, nil
	} else if !errors.Is(err, ErrKVNotFound) {
		return nil, err
	}

	won, err := s.kv.SetNX(ctx, lockKey, "1", lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire key lock: %w", err)
	}
	if won {
		defer func() {
			if err := s.kv.Delete(ctx, lockKey); err != nil {
				logger.Errorw("release key lock", "err", err)
			}
		}()
		kid := newKid(time.Now())
		logger.Infow("generating signing key", "kid", kid)
		pair, err := s.Generate(ctx, kid)
		if err != nil {
			return nil, err
		}
		if err := s.SetActive(ctx, kid); err != nil {
			return nil, err
		}
		return pair, nil
	}

	// Another instance holds the lock. Wait for its key to appear.
	deadline := time.Now().Add(adoptDeadline)
	for {
		if pair, err := s.Active(ctx); err == nil {
			logger.Infow("adopted signing key", "kid", pair.Kid)
			return pair, nil
		} else if !errors.Is(err, ErrKVNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errors.New("timed out waiting for signing key generation")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(adoptPoll):
		}
	}
}

// Generate creates and persists a new RSA key pair under the given kid.
func (s *Storage) Generate(ctx context.Context, kid string) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pair := &KeyPair{Kid: kid, Private: priv, Public: &priv.PublicKey}
	if err := s.put(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// Rotate generates a new key pair and switches the active pointer to it.
// Previous keys stay in the store so tokens signed with them keep
// verifying and the JWKS keeps listing them.
func (s *Storage) Rotate(ctx context.Context, kid string) (*KeyPair, error) {
	if kid == "" {
		kid = newKid(time.Now())
	}
	pair, err := s.Generate(ctx, kid)
	if err != nil {
		return nil, err
	}
	if err := s.SetActive(ctx, kid); err != nil {
		return nil, err
	}
	logger.Infow("rotated signing key", "kid", kid)
	return pair, nil
}

// Active returns the key pair the active pointer names.
func (s *Storage) Active(ctx context.Context) (*KeyPair, error) {
	kid, err := s.kv.Get(ctx, activeKey)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, kid)
}

// SetActive switches the active pointer to the given kid.
func (s *Storage) SetActive(ctx context.Context, kid string) error {
	if _, err := s.Load(ctx, kid); err != nil {
		return fmt.Errorf("activate kid %s: %w", kid, err)
	}
	return s.kv.Set(ctx, activeKey, kid)
}

// Load returns the key pair stored under kid.
func (s *Storage) Load(ctx context.Context, kid string) (*KeyPair, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+kid)
	if err != nil {
		return nil, err
	}
	return decodePair(kid, raw)
}

// All returns every stored key pair, the active one included.
func (s *Storage) All(ctx context.Context) ([]*KeyPair, error) {
	names, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var pairs []*KeyPair
	for _, name := range names {
		kid := strings.TrimPrefix(name, keyPrefix)
		if kid == "active" || kid == "lock" {
			continue
		}
		raw, err := s.kv.Get(ctx, name)
		if err != nil {
			continue
		}
		pair, err := decodePair(kid, raw)
		if err != nil {
			logger.Warnw("skipping undecodable key", "kid", kid, "err", err)
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (s *Storage) put(ctx context.Context, pair *KeyPair) error {
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(pair.Private),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(pair.Public)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	raw, err := json.Marshal(storedPair{PrivatePEM: string(privPEM), PublicPEM: string(pubPEM)})
	if err != nil {
		return fmt.Errorf("marshal key pair: %w", err)
	}
	return s.kv.Set(ctx, keyPrefix+pair.Kid, string(raw))
}

func decodePair(kid, raw string) (*KeyPair, error) {
	var stored storedPair
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode key pair %s: %w", kid, err)
	}
	block, _ := pem.Decode([]byte(stored.PrivatePEM))
	if block == nil {
		return nil, fmt.Errorf("key pair %s: no private key PEM block", kid)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", kid, err)
	}
	return &KeyPair{Kid: kid, Private: priv, Public: &priv.PublicKey}, nil
}

// newKid derives a date-based key identifier with a random suffix so two
// rotations on the same day stay distinct.
func newKid(now time.Time) string {
	suffix := make([]byte, 2)
	_, _ = rand.Read(suffix)
	return now.UTC().Format("2006-01-02") + "-" + hex.EncodeToString(suffix)
}
