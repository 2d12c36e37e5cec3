// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/oauth"
)

// fail surfaces a protocol error to the client. Internal causes are logged
// but never leak; the client only sees the machine-readable kind. HTML
// clients get the tenant's error page, everyone else JSON.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, tenant *entities.Tenant, err error) {
	var oerr *oauth.Error
	if !errors.As(err, &oerr) {
		oerr = oauth.WrapError(oauth.ErrNotAcceptableRequest, err)
	}
	if oerr.Cause != nil {
		logger.Warnw("request failed", "path", r.URL.Path, "kind", oerr.Kind, "cause", oerr.Cause)
	}

	if acceptsHTML(r) {
		h.renderer.Render(w, oerr.Status(), tenant, "error.html", map[string]any{
			"Reason": string(oerr.Kind),
		})
		return
	}
	writeJSON(w, oerr.Status(), map[string]any{
		"error":  true,
		"reason": string(oerr.Kind),
	})
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Errorw("encode response", "err", err)
	}
}
