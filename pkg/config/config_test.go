// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()
	require.NotNil(t, s)

	assert.Equal(t, Development, s.Environment)
	assert.Equal(t, BackendMemory, s.StorageBackend)
	assert.Equal(t, DefaultTokenLength, s.TokenLength)
	assert.Equal(t, DefaultScriptTimeout, s.ScriptTimeout)
	assert.Equal(t, DefaultRenewWindow, s.RenewWindow)
	assert.Equal(t, time.Duration(DefaultCookieExpirationDays)*24*time.Hour, s.CookieExpiration)
	assert.Equal(t, time.Duration(DefaultTokenExpirationHours)*time.Hour, s.TokenExpiration)
	assert.False(t, s.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_HOST", "redis:6379")
	t.Setenv("TOKEN_LENGTH", "24")
	t.Setenv("TOKEN_EXPIRATION_HOURS", "4")
	t.Setenv("COOKIE_EXPIRATION_DAYS", "14")
	t.Setenv("PROVIDER_SCRIPT_TIMEOUT", "3")
	t.Setenv("TOKEN_RENEW_WINDOW", "30m")

	s := Load()

	assert.Equal(t, Production, s.Environment)
	assert.True(t, s.IsProduction())
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "s3cret", s.JWTSecret)
	assert.Equal(t, "redis:6379", s.RedisHost)
	// Redis host implies the redis backend unless overridden.
	assert.Equal(t, BackendRedis, s.StorageBackend)
	assert.Equal(t, 24, s.TokenLength)
	assert.Equal(t, 4*time.Hour, s.TokenExpiration)
	assert.Equal(t, 14*24*time.Hour, s.CookieExpiration)
	assert.Equal(t, 3*time.Second, s.ScriptTimeout)
	assert.Equal(t, 30*time.Minute, s.RenewWindow)
}

func TestUnknownEnvironmentFallsBackToDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	s := Load()
	assert.Equal(t, Development, s.Environment)
}
