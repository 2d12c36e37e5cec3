// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// DefaultSweepInterval is how often the background sweeper removes
// expired entries.
const DefaultSweepInterval = time.Second

type memoryKey struct {
	t    Type
	code string
}

// MemoryStore implements Store with in-memory maps. It is safe for
// concurrent use and suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[memoryKey]*AuthSession
	logins   map[uuid.UUID]LoginSession

	codeLength    int
	sweepInterval time.Duration

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSweepInterval sets a custom sweeper interval.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweepInterval = interval
	}
}

// WithCodeLength sets the length of generated codes.
func WithCodeLength(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.codeLength = n
	}
}

// NewMemoryStore creates an in-memory session store and starts the
// background sweeper.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:      make(map[memoryKey]*AuthSession),
		logins:        make(map[uuid.UUID]LoginSession),
		codeLength:    16,
		sweepInterval: DefaultSweepInterval,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	for id, login := range s.logins {
		if now.After(login.Generated.Add(login.TTL)) {
			delete(s.logins, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugw("swept expired sessions", "count", removed)
	}
}

// Put stores a session, refusing duplicates that are still live.
func (s *MemoryStore) Put(_ context.Context, sess *AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{t: sess.Type, code: sess.Code}
	if existing, ok := s.sessions[key]; ok && !existing.Expired(time.Now()) {
		return ErrDuplicate
	}
	cp := *sess
	s.sessions[key] = &cp
	return nil
}

// Update overwrites a live session, keeping its original lifetime.
func (s *MemoryStore) Update(_ context.Context, sess *AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{t: sess.Type, code: sess.Code}
	existing, ok := s.sessions[key]
	if !ok || existing.Expired(time.Now()) {
		return ErrNotFound
	}
	cp := *sess
	cp.TTL = existing.TTL
	cp.Generated = existing.Generated
	s.sessions[key] = &cp
	return nil
}

// Get retrieves a session; code and refresh reads consume the entry.
func (s *MemoryStore) Get(_ context.Context, t Type, code string) (*AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{t: t, code: code}
	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Expired(time.Now()) {
		delete(s.sessions, key)
		return nil, ErrNotFound
	}
	if consumes(t) {
		delete(s.sessions, key)
	}
	// Callers get a copy so store state cannot be mutated through the
	// returned pointer.
	cp := *sess
	return &cp, nil
}

// Delete removes a session unconditionally.
func (s *MemoryStore) Delete(_ context.Context, t Type, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, memoryKey{t: t, code: code})
	return nil
}

// Count returns the number of live sessions of type t ("" counts all).
func (s *MemoryStore) Count(_ context.Context, t Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) {
			continue
		}
		if t == "" || key.t == t {
			count++
		}
	}
	return count, nil
}

// CountTenant counts the live sessions of a tenant.
func (s *MemoryStore) CountTenant(_ context.Context, tenant string, t Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) || sess.TenantName != tenant {
			continue
		}
		if t == "" || key.t == t {
			count++
		}
	}
	return count, nil
}

// Wipe removes every session of the given tenant and subject.
func (s *MemoryStore) Wipe(_ context.Context, tenant, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sess := range s.sessions {
		if sess.TenantName == tenant && sess.Subject == subject {
			delete(s.sessions, key)
		}
	}
	return nil
}

// PutLoginID stores a login ticket.
func (s *MemoryStore) PutLoginID(_ context.Context, login LoginSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[login.LoginID] = login
	return nil
}

// ConsumeLoginID redeems a login ticket exactly once.
func (s *MemoryStore) ConsumeLoginID(_ context.Context, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.logins[id]
	if !ok {
		return false
	}
	delete(s.logins, id)
	return !time.Now().After(login.Generated.Add(login.TTL))
}

// GenerateCode produces a new urlsafe code of the configured length.
func (s *MemoryStore) GenerateCode() string {
	return GenerateCode(s.codeLength)
}

// Close stops the sweeper and waits for it to exit.
func (s *MemoryStore) Close() error {
	close(s.stopSweep)
	<-s.sweepDone
	return nil
}

var _ Store = (*MemoryStore)(nil)
