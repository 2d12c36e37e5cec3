// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package loader populates the entity store from the outside world: YAML
// files on disk and custom resources streamed from a cluster API. Loaders
// are the only writers of the store. A single bad definition is logged and
// skipped; it never aborts a loader.
package loader

import (
	"fmt"

	"github.com/google/uuid"
	"sigs.k8s.io/yaml"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
)

// tenantDocument is the on-disk shape of a tenant definition.
type tenantDocument struct {
	Name   string                `json:"name"`
	Config entities.TenantConfig `json:"config"`
}

// clientDocument is the on-disk shape of a client definition.
type clientDocument struct {
	Name   string                `json:"name"`
	Ident  string                `json:"ident"`
	Config entities.ClientConfig `json:"config"`
}

func parseTenant(raw []byte, ref entities.SourceRef) (*entities.Tenant, error) {
	var doc tenantDocument
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tenant %s: %w", ref, err)
	}
	tenant := &entities.Tenant{Name: doc.Name, Config: doc.Config, Ref: ref}
	if err := tenant.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tenant %s: %w", ref, err)
	}
	return tenant, nil
}

func parseClient(raw []byte, ref entities.SourceRef) (*entities.Client, error) {
	var doc clientDocument
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse client %s: %w", ref, err)
	}
	client := &entities.Client{Name: doc.Name, Config: doc.Config, Ref: ref}
	if doc.Ident != "" {
		ident, err := uuid.Parse(doc.Ident)
		if err != nil {
			return nil, fmt.Errorf("invalid client ident in %s: %w", ref, err)
		}
		client.Ident = ident
	}
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client %s: %w", ref, err)
	}
	return client, nil
}
