// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the Prometheus counters the server increments on
// the hot paths. Everything registers on the default registry so the
// /metrics handler picks it up without wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logins counts login attempts by tenant and outcome (success, denied,
	// error).
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uitsmijter_logins_total",
		Help: "Login attempts by tenant and outcome.",
	}, []string{"tenant", "outcome"})

	// TokensIssued counts issued access tokens by tenant and grant type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uitsmijter_tokens_issued_total",
		Help: "Access tokens issued by tenant and grant type.",
	}, []string{"tenant", "grant_type"})

	// InterceptorRequests counts forward-auth decisions by tenant.
	InterceptorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uitsmijter_interceptor_requests_total",
		Help: "Interceptor requests by tenant and decision.",
	}, []string{"tenant", "decision"})
)

// Outcome labels for the Logins counter.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Decision labels for the InterceptorRequests counter.
const (
	DecisionAllowed    = "allowed"
	DecisionRedirected = "redirected"
	DecisionRenewed    = "renewed"
)
