// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"crypto/md5" //nolint:gosec // exposed as a script helper, not used for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// FetchResponse is what the fetch helper hands back to scripts.
type FetchResponse struct {
	Status int    `json:"status"`
	OK     bool   `json:"ok"`
	Body   string `json:"body"`
}

// Fetcher performs an HTTP request on behalf of a script.
type Fetcher func(ctx context.Context, method, url string, headers map[string]string, body string) (*FetchResponse, error)

// fetchBodyLimit caps the response size scripts may pull in.
const fetchBodyLimit = 1 << 20

func defaultFetcher() Fetcher {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context, method, url string, headers map[string]string, body string) (*FetchResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
		if err != nil {
			return nil, err
		}
		return &FetchResponse{
			Status: resp.StatusCode,
			OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
			Body:   string(data),
		}, nil
	}
}

// install registers the host functions scripts may call: commit, the log
// helpers, the digest helpers, and fetch.
func (h *Host) install(ctx context.Context, vm *goja.Runtime, commit *commitState) error {
	err := vm.Set("commit", func(call goja.FunctionCall) goja.Value {
		// One-shot: the first commit wins, later calls are ignored.
		if commit.called {
			return goja.Undefined()
		}
		commit.called = true
		if len(call.Arguments) > 0 {
			commit.value = call.Arguments[0].Export()
		}
		if len(call.Arguments) > 1 {
			var meta CommitMeta
			if exportErr := vm.ExportTo(call.Arguments[1], &meta); exportErr == nil {
				commit.meta = meta
			}
		}
		return goja.Undefined()
	})
	if err != nil {
		return err
	}

	say := func(level func(string)) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			level("provider: " + strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	if err := vm.Set("say", say(logger.Info)); err != nil {
		return err
	}

	console := vm.NewObject()
	if err := console.Set("log", say(logger.Info)); err != nil {
		return err
	}
	if err := console.Set("error", say(logger.Error)); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if err := vm.Set("md5", func(input string) string {
		sum := md5.Sum([]byte(input)) //nolint:gosec // script helper
		return hex.EncodeToString(sum[:])
	}); err != nil {
		return err
	}

	if err := vm.Set("sha256", func(input string) string {
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	}); err != nil {
		return err
	}

	// fetch returns a Promise so scripts can use the natural
	// fetch(url).then(...) style. The request itself runs synchronously on
	// the script goroutine; the reaction callbacks run through the
	// runtime's promise job queue.
	return vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("fetch requires a url"))
		}
		url := call.Arguments[0].String()

		method := http.MethodGet
		body := ""
		headers := map[string]string{}
		if len(call.Arguments) > 1 {
			var opts struct {
				Method  string            `json:"method"`
				Body    string            `json:"body"`
				Headers map[string]string `json:"headers"`
			}
			if exportErr := vm.ExportTo(call.Arguments[1], &opts); exportErr != nil {
				panic(vm.NewTypeError(fmt.Sprintf("invalid fetch options: %s", exportErr)))
			}
			if opts.Method != "" {
				method = strings.ToUpper(opts.Method)
			}
			body = opts.Body
			if opts.Headers != nil {
				headers = opts.Headers
			}
		}
		if method != http.MethodGet && method != http.MethodPost {
			panic(vm.NewTypeError("fetch supports GET and POST only"))
		}

		promise, resolve, reject := vm.NewPromise()
		resp, fetchErr := h.fetcher(ctx, method, url, headers, body)
		if fetchErr != nil {
			reject(vm.NewGoError(fetchErr))
			return vm.ToValue(promise)
		}

		out := vm.NewObject()
		_ = out.Set("status", resp.Status)
		_ = out.Set("ok", resp.OK)
		_ = out.Set("body", resp.Body)
		_ = out.Set("json", func(goja.FunctionCall) goja.Value {
			parsed, parseErr := parseJSON(vm, resp.Body)
			if parseErr != nil {
				panic(vm.NewGoError(parseErr))
			}
			return parsed
		})
		resolve(out)
		return vm.ToValue(promise)
	})
}

// parseJSON evaluates the body through the runtime's own JSON object so
// scripts get native values back.
func parseJSON(vm *goja.Runtime, body string) (goja.Value, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse unavailable")
	}
	return parse(jsonObj, vm.ToValue(body))
}
