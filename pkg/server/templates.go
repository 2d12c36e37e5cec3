// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

//go:embed templates
var templateFS embed.FS

// Renderer resolves and executes the HTML templates for login, logout, and
// error pages. Resolution tries the tenant's slug directory first and falls
// back to the default set, so tenants can ship their own pages without
// touching the defaults.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded template tree. Templates are addressed by
// their path relative to the templates root, e.g. "default/login.html".
func NewRenderer() (*Renderer, error) {
	root := template.New("")
	err := fs.WalkDir(templateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".html") {
			return err
		}
		raw, err := templateFS.ReadFile(path)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(path, "templates/")
		_, err = root.New(name).Parse(string(raw))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{templates: root}, nil
}

// Render writes the named page for the tenant with the given status code.
func (re *Renderer) Render(w http.ResponseWriter, status int, tenant *entities.Tenant, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	if tenant != nil {
		data["Tenant"] = tenant.Name
		if infos := tenant.Config.Infos; infos != nil {
			data["Imprint"] = infos.Imprint
			data["Privacy"] = infos.PrivacyPerms
			data["Registration"] = infos.Registration
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := re.templates.ExecuteTemplate(w, re.resolve(tenant, name), data); err != nil {
		logger.Errorw("render template", "template", name, "err", err)
	}
}

// resolve returns the template path to execute: the tenant slug variant when
// it exists, the default otherwise.
func (re *Renderer) resolve(tenant *entities.Tenant, name string) string {
	if tenant != nil {
		candidate := slugify(tenant.Name) + "/" + name
		if re.templates.Lookup(candidate) != nil {
			return candidate
		}
	}
	return "default/" + name
}

func slugify(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}
