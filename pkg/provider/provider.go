// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package provider runs tenant-supplied scripts that answer authentication
// questions. Each invocation gets a fresh, isolated interpreter; the script
// surfaces its decision through a one-shot commit callback, raced against a
// wall-clock timeout.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Class names a script-provided constructor the host invokes.
type Class string

// Provider classes.
const (
	ClassUserLogin      Class = "UserLoginProvider"
	ClassUserValidation Class = "UserValidationProvider"
)

// ErrorKind classifies script failures.
type ErrorKind string

// Script failure kinds. Each of these denies the attempt.
const (
	KindSyntax       ErrorKind = "SyntaxError"
	KindTimeout      ErrorKind = "Timeout"
	KindNoResults    ErrorKind = "NoResults"
	KindPropertyCast ErrorKind = "PropertyCast"
	KindScript       ErrorKind = "ScriptError"
)

// Error is a script failure with its classification.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a script failure of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// CommitMeta is the optional second commit argument.
type CommitMeta struct {
	Subject string   `json:"subject,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Result carries the committed decision and the getter values read from
// the provider instance after commit.
type Result struct {
	// Committed is the first commit argument: a boolean or an object.
	Committed any

	// Meta is the optional second commit argument.
	Meta CommitMeta

	// Getter values; read lazily from the instance after commit.
	CanLogin bool
	IsValid  bool
	Role     string
	Scopes   []string

	// Profile is the script's userProfile getter exported as an opaque
	// JSON-compatible value; never validated.
	Profile any
}

// DefaultTimeout is the wall-clock budget for one script run.
const DefaultTimeout = 10 * time.Second

// interruptTimeout is the sentinel installed via vm.Interrupt when the
// wall clock wins the race.
const interruptTimeout = "timeout"

// Host evaluates the concatenated provider sources of a tenant. A Host is
// cheap to construct and never shared across requests.
type Host struct {
	sources []string
	timeout time.Duration
	fetcher Fetcher
}

// Option configures a Host.
type Option func(*Host)

// WithTimeout overrides the wall-clock script budget.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithFetcher overrides the HTTP fetch implementation exposed to scripts.
func WithFetcher(f Fetcher) Option {
	return func(h *Host) {
		h.fetcher = f
	}
}

// NewHost creates a script host over the given sources.
func NewHost(sources []string, opts ...Option) *Host {
	h := &Host{
		sources: sources,
		timeout: DefaultTimeout,
		fetcher: defaultFetcher(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HasSources reports whether any provider script is configured.
func (h *Host) HasSources() bool {
	for _, src := range h.sources {
		if src != "" {
			return true
		}
	}
	return false
}

// commitState captures the one-shot commit call.
type commitState struct {
	called bool
	value  any
	meta   CommitMeta
}

// Run loads the sources, constructs the requested class with the given
// arguments, and races the commit callback against the wall-clock timer.
// The first to complete wins; the loser is cancelled.
func (h *Host) Run(ctx context.Context, class Class, args map[string]any) (*Result, error) {
	programs := make([]*goja.Program, 0, len(h.sources))
	for i, src := range h.sources {
		prog, err := goja.Compile(fmt.Sprintf("provider-%d", i), src, true)
		if err != nil {
			return nil, &Error{Kind: KindSyntax, Cause: err}
		}
		programs = append(programs, prog)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	commit := &commitState{}
	if err := h.install(ctx, vm, commit); err != nil {
		return nil, &Error{Kind: KindScript, Cause: err}
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := h.evaluate(vm, programs, class, args, commit)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		vm.Interrupt(interruptTimeout)
		<-done
		return nil, &Error{Kind: KindTimeout}
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		<-done
		return nil, &Error{Kind: KindTimeout, Cause: ctx.Err()}
	}
}

// evaluate runs the scripts and constructs the provider instance. It runs
// on its own goroutine; cancellation happens via vm.Interrupt.
func (h *Host) evaluate(
	vm *goja.Runtime, programs []*goja.Program, class Class, args map[string]any, commit *commitState,
) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindScript, Cause: fmt.Errorf("script panic: %v", r)}
		}
	}()

	for _, prog := range programs {
		if _, runErr := vm.RunProgram(prog); runErr != nil {
			return nil, classifyRunError(runErr)
		}
	}

	ctorValue := vm.Get(string(class))
	if ctorValue == nil || goja.IsUndefined(ctorValue) || goja.IsNull(ctorValue) {
		return nil, &Error{Kind: KindScript, Cause: fmt.Errorf("class %s is not defined", class)}
	}

	instance, ctorErr := vm.New(ctorValue, vm.ToValue(args))
	if ctorErr != nil {
		return nil, classifyRunError(ctorErr)
	}

	if !commit.called {
		// The commit may be pending in a promise reaction, e.g. inside a
		// fetch().then() callback. Pump the job queue before concluding the
		// script never committed.
		if _, runErr := vm.RunString("undefined"); runErr != nil {
			return nil, classifyRunError(runErr)
		}
	}
	if !commit.called {
		return nil, &Error{Kind: KindNoResults}
	}

	return h.collect(vm, instance, class, commit)
}

// collect reads the getter values relevant for the class from the
// constructed instance.
func (h *Host) collect(vm *goja.Runtime, instance *goja.Object, class Class, commit *commitState) (*Result, error) {
	result := &Result{Committed: commit.value, Meta: commit.meta}

	switch class {
	case ClassUserLogin:
		canLogin, err := getBool(instance, "canLogin")
		if err != nil {
			return nil, err
		}
		result.CanLogin = canLogin
	case ClassUserValidation:
		isValid, err := getBool(instance, "isValid")
		if err != nil {
			return nil, err
		}
		result.IsValid = isValid
	}

	if role := instance.Get("role"); valueDefined(role) {
		s, ok := role.Export().(string)
		if !ok {
			return nil, &Error{Kind: KindPropertyCast, Cause: fmt.Errorf("role is not a string")}
		}
		result.Role = s
	}

	if scopes := instance.Get("scopes"); valueDefined(scopes) {
		var list []string
		if err := vm.ExportTo(scopes, &list); err != nil {
			return nil, &Error{Kind: KindPropertyCast, Cause: fmt.Errorf("scopes is not a string list: %w", err)}
		}
		result.Scopes = list
	}

	if profile := instance.Get("userProfile"); valueDefined(profile) {
		result.Profile = profile.Export()
	}

	return result, nil
}

func getBool(instance *goja.Object, name string) (bool, error) {
	v := instance.Get(name)
	if !valueDefined(v) {
		return false, &Error{Kind: KindPropertyCast, Cause: fmt.Errorf("%s is not defined", name)}
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, &Error{Kind: KindPropertyCast, Cause: fmt.Errorf("%s is not a boolean", name)}
	}
	return b, nil
}

func valueDefined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func classifyRunError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: KindScript, Cause: err}
}
