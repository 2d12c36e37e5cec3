// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process configuration from the environment.
//
// All recognized options are enumerated here; everything else a deployment
// may set is ignored. The resulting Settings value is constructed once at
// startup and passed explicitly to the components that need it.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Environment describes the deployment environment the process runs in.
type Environment string

// Recognized environments.
const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Storage backends for sessions and keys.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Defaults for options that are not set in the environment.
const (
	DefaultTokenLength          = 16
	DefaultCookieExpirationDays = 7
	DefaultTokenExpirationHours = 2
	DefaultScriptTimeout        = 10 * time.Second
	DefaultRenewWindow          = 2 * time.Hour
	DefaultRefreshTTL           = 30 * 24 * time.Hour
	DefaultLoginTTL             = 120 * time.Second
	DefaultAuthCodeTTL          = 60 * time.Second
	DefaultDeviceCodeTTL        = 10 * time.Minute
)

// Settings holds every recognized configuration option.
type Settings struct {
	// Host and Port are the listen address of the HTTP server.
	Host string
	Port int

	// Environment toggles development conveniences, e.g. assuming refresh
	// validity when a tenant has no validation provider.
	Environment Environment

	// LogLevel is one of trace, debug, info, warning, error.
	LogLevel string
	// LogFormat is console or ndjson.
	LogFormat logger.Format

	// JWTSecret is the HS256 signing secret. Empty outside production means
	// a random secret is generated at boot.
	JWTSecret string

	// RedisHost selects the Redis backend when set; RedisPassword is optional.
	RedisHost     string
	RedisPassword string

	// StorageBackend is memory or redis. Defaults to redis when RedisHost is
	// set, memory otherwise.
	StorageBackend string

	// TenantDir is the directory scanned for tenant and client YAML files.
	TenantDir string

	// CookieExpiration is how long issued SSO cookies and their payloads live.
	CookieExpiration time.Duration
	// TokenExpiration is the lifetime of issued access tokens.
	TokenExpiration time.Duration
	// TokenLength is the length of generated codes in urlsafe characters.
	TokenLength int
	// ScriptTimeout is the wall-clock budget for one provider script run.
	ScriptTimeout time.Duration
	// RenewWindow is how close to expiry an interceptor cookie gets re-signed.
	RenewWindow time.Duration
	// RefreshTTL is the lifetime of refresh token sessions.
	RefreshTTL time.Duration
}

// Load reads the settings from the environment.
func Load() *Settings {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("ENVIRONMENT", string(Development))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", string(logger.FormatNDJSON))
	v.SetDefault("TENANT_DIR", "/etc/uitsmijter/tenants")
	v.SetDefault("COOKIE.EXPIRATION_DAYS", DefaultCookieExpirationDays)
	v.SetDefault("TOKEN.EXPIRATION_HOURS", DefaultTokenExpirationHours)
	v.SetDefault("TOKEN.LENGTH", DefaultTokenLength)
	v.SetDefault("TOKEN.REFRESH_EXPIRATION_HOURS", int(DefaultRefreshTTL.Hours()))
	v.SetDefault("PROVIDER.SCRIPT_TIMEOUT", int(DefaultScriptTimeout.Seconds()))
	v.SetDefault("TOKEN.RENEW_WINDOW", DefaultRenewWindow.String())

	s := &Settings{
		Host:             v.GetString("HOST"),
		Port:             v.GetInt("PORT"),
		Environment:      Environment(strings.ToLower(v.GetString("ENVIRONMENT"))),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        logger.Format(v.GetString("LOG_FORMAT")),
		JWTSecret:        v.GetString("JWT_SECRET"),
		RedisHost:        v.GetString("REDIS_HOST"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		StorageBackend:   strings.ToLower(v.GetString("STORAGE_BACKEND")),
		TenantDir:        v.GetString("TENANT_DIR"),
		CookieExpiration: time.Duration(v.GetInt("COOKIE.EXPIRATION_DAYS")) * 24 * time.Hour,
		TokenExpiration:  time.Duration(v.GetInt("TOKEN.EXPIRATION_HOURS")) * time.Hour,
		TokenLength:      v.GetInt("TOKEN.LENGTH"),
		ScriptTimeout:    time.Duration(v.GetInt("PROVIDER.SCRIPT_TIMEOUT")) * time.Second,
		RefreshTTL:       time.Duration(v.GetInt("TOKEN.REFRESH_EXPIRATION_HOURS")) * time.Hour,
	}

	if renew, err := time.ParseDuration(v.GetString("TOKEN.RENEW_WINDOW")); err == nil {
		s.RenewWindow = renew
	} else {
		s.RenewWindow = DefaultRenewWindow
	}

	if s.Environment != Production {
		s.Environment = Development
	}

	if s.StorageBackend == "" {
		if s.RedisHost != "" {
			s.StorageBackend = BackendRedis
		} else {
			s.StorageBackend = BackendMemory
		}
	}

	if s.TokenLength <= 0 {
		s.TokenLength = DefaultTokenLength
	}

	return s
}

// IsProduction reports whether the process runs in a production environment.
func (s *Settings) IsProduction() bool {
	return s.Environment == Production
}
