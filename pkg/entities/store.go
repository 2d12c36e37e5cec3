// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// ChangeKind names the entity set a change event refers to.
type ChangeKind string

// Change event kinds.
const (
	TenantsChanged ChangeKind = "TenantsChanged"
	ClientsChanged ChangeKind = "ClientsChanged"
)

// Store keeps the current tenants and clients in memory. Reads take a
// shared lock; mutations come from the loaders only and notify observers
// after each batch.
type Store struct {
	mu      sync.RWMutex
	tenants []*Tenant
	clients []*Client

	subMu       sync.Mutex
	subscribers []chan ChangeKind
}

// NewStore creates an empty entity store.
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers an observer for change notifications. The returned
// channel is buffered; slow consumers drop events rather than block the
// loaders.
func (s *Store) Subscribe() <-chan ChangeKind {
	ch := make(chan ChangeKind, 16)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify(kind ChangeKind) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- kind:
		default:
		}
	}
}

// UpsertTenant adds a tenant or replaces the one with the same SourceRef.
func (s *Store) UpsertTenant(t *Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	replaced := false
	for i, existing := range s.tenants {
		if existing.Ref == t.Ref {
			s.tenants[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.tenants = append(s.tenants, t)
	}
	s.mu.Unlock()

	logger.Debugw("tenant upserted", "tenant", t.Name, "source", t.Ref.String(), "replaced", replaced)
	s.notify(TenantsChanged)
	return nil
}

// UpsertClient adds a client or replaces the one with the same SourceRef.
func (s *Store) UpsertClient(c *Client) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	replaced := false
	for i, existing := range s.clients {
		if existing.Ref == c.Ref {
			s.clients[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.clients = append(s.clients, c)
	}
	s.mu.Unlock()

	logger.Debugw("client upserted", "client", c.Name, "source", c.Ref.String(), "replaced", replaced)
	s.notify(ClientsChanged)
	return nil
}

// RemoveBySource drops every tenant and client originating from ref.
func (s *Store) RemoveBySource(ref SourceRef) {
	s.mu.Lock()
	tenantsRemoved := false
	tenants := s.tenants[:0]
	for _, t := range s.tenants {
		if t.Ref == ref {
			tenantsRemoved = true
			continue
		}
		tenants = append(tenants, t)
	}
	s.tenants = tenants

	clientsRemoved := false
	clients := s.clients[:0]
	for _, c := range s.clients {
		if c.Ref == ref {
			clientsRemoved = true
			continue
		}
		clients = append(clients, c)
	}
	s.clients = clients
	s.mu.Unlock()

	if tenantsRemoved {
		s.notify(TenantsChanged)
	}
	if clientsRemoved {
		s.notify(ClientsChanged)
	}
}

// FindTenantByHost resolves a tenant for a request host. Exact pattern
// matches win over wildcard matches; ties break by first-insertion order.
func (s *Store) FindTenantByHost(host string) *Tenant {
	host = canonicalHost(host)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		for _, pattern := range t.Config.Hosts {
			if strings.EqualFold(strings.TrimSpace(pattern), host) {
				return t
			}
		}
	}
	for _, t := range s.tenants {
		if t.MatchesHost(host) {
			return t
		}
	}
	return nil
}

// FindTenantByName resolves a tenant by its unique name.
func (s *Store) FindTenantByName(name string) *Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FindClientByIdent resolves a client by its UUID ident.
func (s *Store) FindClientByIdent(ident uuid.UUID) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Ident == ident {
			return c
		}
	}
	return nil
}

// ClientsFor returns all clients belonging to the named tenant, in
// insertion order.
func (s *Store) ClientsFor(tenantName string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Client
	for _, c := range s.clients {
		if c.Config.TenantName == tenantName {
			out = append(out, c)
		}
	}
	return out
}

// Tenants returns a snapshot of all tenants in insertion order.
func (s *Store) Tenants() []*Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tenant, len(s.tenants))
	copy(out, s.tenants)
	return out
}
