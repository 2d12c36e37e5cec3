// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  zapcore.Level
	}{
		{name: "trace maps to debug", input: "trace", want: zapcore.DebugLevel},
		{name: "debug", input: "debug", want: zapcore.DebugLevel},
		{name: "info", input: "info", want: zapcore.InfoLevel},
		{name: "warning", input: "warning", want: zapcore.WarnLevel},
		{name: "error", input: "ERROR", want: zapcore.ErrorLevel},
		{name: "unknown falls back to info", input: "bogus", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSingletonReplacement(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := Get()
	t.Cleanup(func() { Set(prev) })

	Set(zap.New(core).Sugar())

	Infow("login succeeded", "tenant", "acme")
	Debugw("should be filtered", "tenant", "acme")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "login succeeded", entries[0].Message)
	assert.Equal(t, "acme", entries[0].ContextMap()["tenant"])
}

func TestInitializeDoesNotPanic(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { Set(prev) })

	Initialize("debug", FormatConsole)
	require.NotNil(t, Get())

	Initialize("info", FormatNDJSON)
	require.NotNil(t, Get())
}
