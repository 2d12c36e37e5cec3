// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Custom resource groups served by the cluster loader.
var (
	TenantGVR = schema.GroupVersionResource{
		Group: "uitsmijter.io", Version: "v1", Resource: "tenants",
	}
	ClientGVR = schema.GroupVersionResource{
		Group: "uitsmijter.io", Version: "v1", Resource: "clients",
	}
)

// ClusterLoader materializes tenants and clients from custom resources. It
// lists each resource once, then follows the watch stream; dropped streams
// are re-established with exponential backoff (base 500ms, cap 30s, full
// jitter). The namespace/name pair is the SourceRef key.
type ClusterLoader struct {
	store  *entities.Store
	client dynamic.Interface
}

// NewClusterLoader creates a loader on top of a dynamic cluster client.
func NewClusterLoader(store *entities.Store, client dynamic.Interface) *ClusterLoader {
	return &ClusterLoader{store: store, client: client}
}

// Load seeds the store with the current state of both resources. Callers
// gate readiness on its return.
func (l *ClusterLoader) Load(ctx context.Context) error {
	for _, gvr := range []schema.GroupVersionResource{TenantGVR, ClientGVR} {
		list, err := l.client.Resource(gvr).List(ctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("list %s: %w", gvr.Resource, err)
		}
		for i := range list.Items {
			l.applyEvent(gvr, watch.Added, &list.Items[i])
		}
	}
	return nil
}

// Watch follows both resource streams until the context is cancelled.
func (l *ClusterLoader) Watch(ctx context.Context) error {
	errs := make(chan error, 2)
	for _, gvr := range []schema.GroupVersionResource{TenantGVR, ClientGVR} {
		go func(gvr schema.GroupVersionResource) {
			errs <- l.watchResource(ctx, gvr)
		}(gvr)
	}
	return <-errs
}

func (l *ClusterLoader) watchResource(ctx context.Context, gvr schema.GroupVersionResource) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 30 * time.Second
	retry.RandomizationFactor = 1
	retry.Reset()

	for {
		healthy, err := l.streamOnce(ctx, gvr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if healthy {
			retry.Reset()
		}
		wait := retry.NextBackOff()
		logger.Warnw("resource stream interrupted",
			"resource", gvr.Resource, "retry_in", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// streamOnce opens one watch and consumes it until it breaks. It reports
// whether the stream delivered at least one event, so the caller can reset
// the backoff after a healthy connection.
func (l *ClusterLoader) streamOnce(ctx context.Context, gvr schema.GroupVersionResource) (bool, error) {
	stream, err := l.client.Resource(gvr).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("watch %s: %w", gvr.Resource, err)
	}
	defer stream.Stop()

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case event, ok := <-stream.ResultChan():
			if !ok {
				return delivered, fmt.Errorf("%s watch closed", gvr.Resource)
			}
			if event.Type == watch.Error {
				return delivered, fmt.Errorf("%s watch error event", gvr.Resource)
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			delivered = true
			l.applyEvent(gvr, event.Type, obj)
		}
	}
}

// applyEvent maps one stream event to a store mutation. Conversion errors
// are logged and the event skipped; other resources stay untouched.
func (l *ClusterLoader) applyEvent(gvr schema.GroupVersionResource, kind watch.EventType, obj *unstructured.Unstructured) {
	ref := entities.SourceRef{
		Kind: entities.SourceCluster,
		Key:  gvr.Resource + "/" + cacheKey(obj),
	}
	if kind == watch.Deleted {
		l.store.RemoveBySource(ref)
		logger.Infow("removed entity resource", "ref", ref.String())
		return
	}
	switch gvr {
	case TenantGVR:
		tenant, err := tenantFromUnstructured(obj, ref)
		if err != nil {
			logger.Errorw("load tenant resource", "ref", ref.String(), "err", err)
			return
		}
		if err := l.store.UpsertTenant(tenant); err != nil {
			logger.Errorw("upsert tenant resource", "ref", ref.String(), "err", err)
			return
		}
		logger.Infow("loaded tenant resource", "name", tenant.Name, "ref", ref.String())
	case ClientGVR:
		client, err := clientFromUnstructured(obj, ref)
		if err != nil {
			logger.Errorw("load client resource", "ref", ref.String(), "err", err)
			return
		}
		if err := l.store.UpsertClient(client); err != nil {
			logger.Errorw("upsert client resource", "ref", ref.String(), "err", err)
			return
		}
		logger.Infow("loaded client resource", "name", client.Name, "ref", ref.String())
	}
}

func cacheKey(obj *unstructured.Unstructured) string {
	if ns := obj.GetNamespace(); ns != "" {
		return ns + "/" + obj.GetName()
	}
	return obj.GetName()
}

func tenantFromUnstructured(obj *unstructured.Unstructured, ref entities.SourceRef) (*entities.Tenant, error) {
	spec, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil || !found {
		return nil, fmt.Errorf("tenant %s has no spec", obj.GetName())
	}
	var config entities.TenantConfig
	if err := convertSpec(spec, &config); err != nil {
		return nil, err
	}
	tenant := &entities.Tenant{Name: obj.GetName(), Config: config, Ref: ref}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return tenant, nil
}

func clientFromUnstructured(obj *unstructured.Unstructured, ref entities.SourceRef) (*entities.Client, error) {
	spec, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil || !found {
		return nil, fmt.Errorf("client %s has no spec", obj.GetName())
	}
	rawIdent, _, _ := unstructured.NestedString(obj.Object, "spec", "ident")
	delete(spec, "ident")
	var config entities.ClientConfig
	if err := convertSpec(spec, &config); err != nil {
		return nil, err
	}
	client := &entities.Client{Name: obj.GetName(), Config: config, Ref: ref}
	if rawIdent != "" {
		ident, err := uuid.Parse(rawIdent)
		if err != nil {
			return nil, fmt.Errorf("client %s ident: %w", obj.GetName(), err)
		}
		client.Ident = ident
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	return client, nil
}

// convertSpec round-trips an unstructured spec through JSON into the typed
// config structs, so file and cluster definitions share one schema.
func convertSpec(spec map[string]any, out any) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	return nil
}
