// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the signing key material: RSA key pairs with a
// distributed active-kid pointer, the HS256 process secret, the JWT
// signer, and the JWKS document.
package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKVNotFound is returned when a key does not exist in the KV store.
var ErrKVNotFound = errors.New("key not found")

// KV is the small key-value capability the key storage needs. The Redis
// variant makes key material and the active-kid pointer visible to every
// instance; the memory variant serves single-node deployments and tests.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetNX stores the value only if the key does not exist; the ttl bounds
	// lock lifetimes.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryKV is an in-process KV for single-node deployments.
type MemoryKV struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

// NewMemoryKV creates an empty in-process KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *MemoryKV) expired(key string, now time.Time) bool {
	exp, ok := m.expires[key]
	return ok && now.After(exp)
}

// Get returns the value for key or ErrKVNotFound.
func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key, time.Now()) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrKVNotFound
	}
	return v, nil
}

// Set stores the value without expiry.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	delete(m.expires, key)
	return nil
}

// SetNX stores the value only if the key does not exist.
func (m *MemoryKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.expired(key, now) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	if ttl > 0 {
		m.expires[key] = now.Add(ttl)
	}
	return true, nil
}

// Delete removes the key.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

// List returns all keys with the given prefix.
func (m *MemoryKV) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []string
	for k := range m.values {
		if m.expired(k, now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// RedisKV implements KV on a Redis client.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps a Redis client as a KV.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// Get returns the value for key or ErrKVNotFound.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKVNotFound
		}
		return "", fmt.Errorf("kv get: %w", err)
	}
	return v, nil
}

// Set stores the value without expiry.
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// SetNX stores the value only if the key does not exist.
func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes the key.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// List returns all keys with the given prefix.
func (r *RedisKV) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("kv list: %w", err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*RedisKV)(nil)
)
