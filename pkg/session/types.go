// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package session provides the TTL-bounded store for authorization codes,
// refresh tokens, device codes, and login tickets.
//
// Two implementations exist: an in-memory map with a background sweeper for
// single-instance deployments, and a Redis-backed variant relying on native
// key expiry for horizontal scale-out.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// Type discriminates the stored session kinds.
type Type string

// Session types. The (Type, Code) pair is globally unique.
const (
	TypeCode    Type = "code"
	TypeRefresh Type = "refresh"
	TypeDevice  Type = "device"
	TypeLogin   Type = "login"
)

// Storage errors.
var (
	// ErrNotFound is returned when no live session exists for a code.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned when a Put collides with a live session.
	ErrDuplicate = errors.New("session already exists")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("session store unavailable")
)

// DefaultLoginTTL bounds the time between submitting the login form and
// the follow-up authorize redirect.
const DefaultLoginTTL = 120 * time.Second

// AuthSession is a single entry in the code/session store.
type AuthSession struct {
	Type       Type           `json:"type"`
	TenantName string         `json:"tenant"`
	Subject    string         `json:"subject"`
	Code       string         `json:"code"`
	Scopes     []string       `json:"scopes,omitempty"`
	Payload    *oauth.Payload `json:"payload,omitempty"`
	Redirect   string         `json:"redirect,omitempty"`
	TTL        time.Duration  `json:"ttl"`
	Generated  time.Time      `json:"generated"`

	CodeChallenge       string                    `json:"code_challenge,omitempty"`
	CodeChallengeMethod oauth.CodeChallengeMethod `json:"code_challenge_method,omitempty"`

	// LoginID binds the session to the login ticket that produced it.
	LoginID string `json:"login_id,omitempty"`

	// Confirmed marks a device session as approved by the user.
	Confirmed bool `json:"confirmed,omitempty"`
}

// Expired reports whether the session outlived its TTL at the given time.
func (s *AuthSession) Expired(now time.Time) bool {
	return now.After(s.Generated.Add(s.TTL))
}

// LoginSession is the short-lived ticket proving that an authorize redirect
// originated at our own login page.
type LoginSession struct {
	LoginID   uuid.UUID     `json:"login_id"`
	TTL       time.Duration `json:"ttl"`
	Generated time.Time     `json:"generated"`
}

// NewLoginSession creates a login ticket with the default TTL.
func NewLoginSession() LoginSession {
	return LoginSession{
		LoginID:   uuid.New(),
		TTL:       DefaultLoginTTL,
		Generated: time.Now(),
	}
}

// Store is the capability set of the auth code / session store. A consume
// on Get applies to code and refresh sessions: any two concurrent consumers
// of the same code see exactly one success.
type Store interface {
	// Put stores a session. Fails with ErrDuplicate if a live session with
	// the same (Type, Code) exists.
	Put(ctx context.Context, s *AuthSession) error

	// Update overwrites a live session in place, keeping its remaining
	// lifetime. Fails with ErrNotFound when no live session with the same
	// (Type, Code) exists.
	Update(ctx context.Context, s *AuthSession) error

	// Get retrieves a session. For TypeCode and TypeRefresh the read
	// atomically deletes the entry (consume-once). Expired entries are
	// refused with ErrNotFound.
	Get(ctx context.Context, t Type, code string) (*AuthSession, error)

	// Delete removes a session unconditionally.
	Delete(ctx context.Context, t Type, code string) error

	// Count returns the number of live sessions of type t; t == "" counts
	// every type.
	Count(ctx context.Context, t Type) (int, error)

	// CountTenant counts the live sessions of a tenant; t == "" counts every
	// type. Entries that fail to decode are skipped, never an error.
	CountTenant(ctx context.Context, tenant string, t Type) (int, error)

	// Wipe removes every session of the given tenant and subject.
	Wipe(ctx context.Context, tenant, subject string) error

	// PutLoginID stores a login ticket.
	PutLoginID(ctx context.Context, login LoginSession) error

	// ConsumeLoginID redeems a login ticket exactly once.
	ConsumeLoginID(ctx context.Context, id uuid.UUID) bool

	// GenerateCode produces a new urlsafe code of the configured length.
	GenerateCode() string

	// Close releases the store's resources.
	Close() error
}

// GenerateCode returns n urlsafe random characters.
func GenerateCode(n int) string {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n]
}

// consumes reports whether a Get on this type deletes the entry.
func consumes(t Type) bool {
	return t == TypeCode || t == TypeRefresh
}
