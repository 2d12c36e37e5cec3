// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const (
	authKeyPrefix  = "auth:"
	loginKeyPrefix = "loginid:"
	scanBatchSize  = 100
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// CodeLength is the length of generated codes; 0 uses the default of 16.
	CodeLength int

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis backend. Entries use native key
// expiry; consume-once reads use GETDEL so concurrent consumers of the
// same code see exactly one success.
//
// The store starts even when the server is unavailable; operations fail
// fast with ErrUnavailable until the first successful round trip.
type RedisStore struct {
	client     redis.UniversalClient
	codeLength int
}

// NewRedisStore creates a Redis-backed session store. Connectivity is not
// required at construction time; use Ping for readiness probing.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &RedisStore{client: client, codeLength: normalizeCodeLength(cfg.CodeLength)}
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, codeLength int) *RedisStore {
	return &RedisStore{client: client, codeLength: normalizeCodeLength(codeLength)}
}

func normalizeCodeLength(n int) int {
	if n <= 0 {
		return 16
	}
	return n
}

// Ping checks Redis connectivity (readiness probe).
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func authKey(t Type, code string) string {
	return fmt.Sprintf("%s%s:%s", authKeyPrefix, t, code)
}

func loginKey(id uuid.UUID) string {
	return loginKeyPrefix + id.String()
}

// Put stores a session under auth:{type}:{code} with its TTL.
func (s *RedisStore) Put(ctx context.Context, sess *AuthSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, authKey(sess.Type, sess.Code), data, sess.TTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Update overwrites a live session, keeping its key expiry (SET XX with
// KEEPTTL).
func (s *RedisStore) Update(ctx context.Context, sess *AuthSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.SetArgs(ctx, authKey(sess.Type, sess.Code), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a session; code and refresh reads consume atomically via
// GETDEL.
func (s *RedisStore) Get(ctx context.Context, t Type, code string) (*AuthSession, error) {
	key := authKey(t, code)

	var data []byte
	var err error
	if consumes(t) {
		data, err = s.client.GetDel(ctx, key).Bytes()
	} else {
		data, err = s.client.Get(ctx, key).Bytes()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var sess AuthSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Expired(time.Now()) {
		// Key expiry should have removed it already; refuse regardless.
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Delete removes a session unconditionally.
func (s *RedisStore) Delete(ctx context.Context, t Type, code string) error {
	if err := s.client.Del(ctx, authKey(t, code)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Count scans the matching auth keys and counts them.
func (s *RedisStore) Count(ctx context.Context, t Type) (int, error) {
	pattern := authKeyPrefix + "*"
	if t != "" {
		pattern = fmt.Sprintf("%s%s:*", authKeyPrefix, t)
	}

	count := 0
	err := s.scan(ctx, pattern, func(string) error {
		count++
		return nil
	})
	return count, err
}

// CountTenant scans matching keys, decodes each entry, and counts those of
// the tenant. Entries that fail to decode (e.g. a login ticket encountered
// during a session count) are skipped, never surfaced as an error.
func (s *RedisStore) CountTenant(ctx context.Context, tenant string, t Type) (int, error) {
	pattern := authKeyPrefix + "*"
	if t != "" {
		pattern = fmt.Sprintf("%s%s:*", authKeyPrefix, t)
	}

	count := 0
	err := s.scan(ctx, pattern, func(key string) error {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// Deleted between scan and read, or transient failure: skip.
			return nil
		}
		var sess AuthSession
		if json.Unmarshal(data, &sess) != nil {
			return nil
		}
		if sess.TenantName == tenant {
			count++
		}
		return nil
	})
	return count, err
}

// Wipe scans all auth keys and deletes those of the tenant and subject.
func (s *RedisStore) Wipe(ctx context.Context, tenant, subject string) error {
	return s.scan(ctx, authKeyPrefix+"*", func(key string) error {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil
		}
		var sess AuthSession
		if json.Unmarshal(data, &sess) != nil {
			return nil
		}
		if sess.TenantName == tenant && sess.Subject == subject {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				logger.Warnw("failed to wipe session", "key", key, "error", err)
			}
		}
		return nil
	})
}

func (s *RedisStore) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// PutLoginID stores a login ticket under loginid:{uuid} with its TTL.
func (s *RedisStore) PutLoginID(ctx context.Context, login LoginSession) error {
	if err := s.client.Set(ctx, loginKey(login.LoginID), "1", login.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// ConsumeLoginID redeems a login ticket exactly once via GETDEL.
func (s *RedisStore) ConsumeLoginID(ctx context.Context, id uuid.UUID) bool {
	err := s.client.GetDel(ctx, loginKey(id)).Err()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warnw("failed to consume login ticket", "error", err)
		}
		return false
	}
	return true
}

// GenerateCode produces a new urlsafe code of the configured length.
func (s *RedisStore) GenerateCode() string {
	return GenerateCode(s.codeLength)
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
