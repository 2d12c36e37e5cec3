// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth holds the protocol-level types shared between the
// controllers: token payloads, scope filtering, and the machine-readable
// error kinds surfaced to clients.
package oauth

import (
	"fmt"
	"net/http"
)

// Kind is a machine-readable error token surfaced to clients inside an
// HTTP error status.
type Kind string

// Error kinds. The string values are part of the public API; clients match
// on them.
const (
	ErrNotAcceptableRequest   Kind = "NOT_ACCEPTABLE_REQUEST"
	ErrNoClient               Kind = "NO_CLIENT"
	ErrNoTenant               Kind = "NO_TENANT"
	ErrMissingTenant          Kind = "MISSING_TENANT"
	ErrFormNotParseable       Kind = "FORM_NOT_PARSEABLE"
	ErrConstructDate          Kind = "CONSTRUCT_DATE_ERROR"
	ErrMissingLocation        Kind = "MISSING_LOCATION"
	ErrRedirectMismatch       Kind = "REDIRECT_MISMATCH"
	ErrWrongReferer           Kind = "WRONG_REFERER"
	ErrTenantMismatch         Kind = "TENANT_MISMATCH"
	ErrWrongCredentials       Kind = "WRONG_CREDENTIALS"
	ErrInvalidate             Kind = "INVALIDATE"
	ErrWrongClientSecret      Kind = "WRONG_CLIENT_SECRET"
	ErrExpiredToken           Kind = "EXPIRED_TOKEN"
	ErrInvalidToken           Kind = "INVALID_TOKEN"
	ErrUnsupportedGrantType   Kind = "UNSUPPORTED_GRANT_TYPE"
	ErrChallengeNotSupported  Kind = "CODE_CHALLENGE_METHOD_NOT_IMPLEMENTED"
	ErrAuthorizationPending   Kind = "AUTHORIZATION_PENDING"
)

// statusByKind maps each kind to the HTTP status it is surfaced with.
var statusByKind = map[Kind]int{
	ErrNotAcceptableRequest:  http.StatusBadRequest,
	ErrNoClient:              http.StatusBadRequest,
	ErrNoTenant:              http.StatusBadRequest,
	ErrMissingTenant:         http.StatusBadRequest,
	ErrFormNotParseable:      http.StatusBadRequest,
	ErrConstructDate:         http.StatusBadRequest,
	ErrMissingLocation:       http.StatusBadRequest,
	ErrRedirectMismatch:      http.StatusForbidden,
	ErrWrongReferer:          http.StatusForbidden,
	ErrTenantMismatch:        http.StatusForbidden,
	ErrWrongCredentials:      http.StatusForbidden,
	ErrInvalidate:            http.StatusForbidden,
	ErrWrongClientSecret:     http.StatusUnauthorized,
	ErrExpiredToken:          http.StatusUnauthorized,
	ErrInvalidToken:          http.StatusUnauthorized,
	ErrUnsupportedGrantType:  http.StatusBadRequest,
	ErrChallengeNotSupported: http.StatusNotImplemented,
	ErrAuthorizationPending:  http.StatusBadRequest,
}

// Error is a protocol error with a machine-readable kind. Internal causes
// are kept for logging and never leak to the client.
type Error struct {
	Kind  Kind
	Cause error
}

// NewError creates a protocol error of the given kind.
func NewError(kind Kind) *Error {
	return &Error{Kind: kind}
}

// WrapError creates a protocol error of the given kind with an internal cause.
func WrapError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Error returns the error string; the cause is included for logs only.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code this error is surfaced with.
func (e *Error) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusBadRequest
}
