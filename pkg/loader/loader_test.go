// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
)

const tenantYAML = `name: acme
config:
  hosts:
    - login.acme.example
    - "*.acme.example"
`

const clientYAML = `name: shop
ident: 1e20f58d-65a4-4cd7-8f8f-52be48b8b4d4
config:
  tenantname: acme
  redirect_urls:
    - https://shop\.acme\.example/.*
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileLoaderInitialScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tenants", "acme.yaml"), tenantYAML)
	writeFile(t, filepath.Join(dir, "clients", "shop.yaml"), clientYAML)
	writeFile(t, filepath.Join(dir, "tenants", "broken.yaml"), "name: [")
	writeFile(t, filepath.Join(dir, "README.md"), "not yaml")

	store := entities.NewStore()
	loader := NewFileLoader(store, dir)
	require.NoError(t, loader.Load())

	tenant := store.FindTenantByName("acme")
	require.NotNil(t, tenant)
	assert.True(t, tenant.MatchesHost("deep.acme.example"))
	assert.Equal(t, entities.SourceFile, tenant.Ref.Kind)

	clients := store.ClientsFor("acme")
	require.Len(t, clients, 1)
	assert.Equal(t, "shop", clients[0].Name)

	// The broken file was skipped without aborting the scan.
	assert.Len(t, store.Tenants(), 1)
}

func TestFileLoaderWatchUpsertAndRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tenants"), 0o755))

	store := entities.NewStore()
	loader := NewFileLoader(store, dir)
	require.NoError(t, loader.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loader.Watch(ctx)
	}()
	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "tenants", "acme.yaml")
	writeFile(t, path, tenantYAML)
	require.Eventually(t, func() bool {
		return store.FindTenantByName("acme") != nil
	}, 3*time.Second, 20*time.Millisecond)

	// Rewriting the file replaces the entity in place.
	writeFile(t, path, "name: acme\nconfig:\n  hosts:\n    - other.acme.example\n")
	require.Eventually(t, func() bool {
		tenant := store.FindTenantByName("acme")
		return tenant != nil && tenant.MatchesHost("other.acme.example")
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return store.FindTenantByName("acme") == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "tenants", classify("/etc/uitsmijter/tenants/acme.yaml"))
	assert.Equal(t, "clients", classify("/etc/uitsmijter/Clients/shop.yml"))
	assert.Equal(t, "", classify("/etc/uitsmijter/other/file.yaml"))
}

func TestParseClientRejectsBadIdent(t *testing.T) {
	_, err := parseClient([]byte("name: x\nident: nope\nconfig:\n  tenantname: t\n"),
		entities.SourceRef{Kind: entities.SourceFile, Key: "x"})
	require.Error(t, err)
}

func tenantResource(name string, hosts []string) *unstructured.Unstructured {
	hostList := make([]any, len(hosts))
	for i, h := range hosts {
		hostList[i] = h
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "uitsmijter.io/v1",
		"kind":       "Tenant",
		"metadata":   map[string]any{"name": name, "namespace": "default"},
		"spec":       map[string]any{"hosts": hostList},
	}}
}

func clientResource(name, ident, tenant string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "uitsmijter.io/v1",
		"kind":       "Client",
		"metadata":   map[string]any{"name": name, "namespace": "default"},
		"spec": map[string]any{
			"ident":         ident,
			"tenantname":    tenant,
			"redirect_urls": []any{"https://.*"},
		},
	}}
}

func fakeDynamic(objects ...runtime.Object) *dynamicfake.FakeDynamicClient {
	scheme := runtime.NewScheme()
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme,
		map[schema.GroupVersionResource]string{
			TenantGVR: "TenantList",
			ClientGVR: "ClientList",
		}, objects...)
}

func TestClusterLoaderSeedsFromList(t *testing.T) {
	client := fakeDynamic(
		tenantResource("acme", []string{"login.acme.example"}),
		clientResource("shop", "1e20f58d-65a4-4cd7-8f8f-52be48b8b4d4", "acme"),
	)
	store := entities.NewStore()
	loader := NewClusterLoader(store, client)
	require.NoError(t, loader.Load(context.Background()))

	tenant := store.FindTenantByName("acme")
	require.NotNil(t, tenant)
	assert.Equal(t, entities.SourceCluster, tenant.Ref.Kind)
	assert.Equal(t, "tenants/default/acme", tenant.Ref.Key)
	require.Len(t, store.ClientsFor("acme"), 1)
}

func TestClusterLoaderWatchAppliesEvents(t *testing.T) {
	client := fakeDynamic()
	store := entities.NewStore()
	loader := NewClusterLoader(store, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	_, err := client.Resource(TenantGVR).Namespace("default").
		Create(context.Background(), tenantResource("acme", []string{"login.acme.example"}), metav1.CreateOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.FindTenantByName("acme") != nil
	}, 3*time.Second, 20*time.Millisecond)

	err = client.Resource(TenantGVR).Namespace("default").
		Delete(context.Background(), "acme", metav1.DeleteOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.FindTenantByName("acme") == nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestTenantFromUnstructuredRejectsMissingSpec(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "uitsmijter.io/v1",
		"kind":       "Tenant",
		"metadata":   map[string]any{"name": "empty"},
	}}
	_, err := tenantFromUnstructured(obj, entities.SourceRef{Kind: entities.SourceCluster, Key: "x"})
	require.Error(t, err)
}
