// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/keys"
	"github.com/uitsmijter/uitsmijter/pkg/loader"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/server"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the HTTP server that answers OAuth2, login and interceptor
requests for all configured tenants.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	settings := config.Load()
	logger.Initialize(settings.LogLevel, settings.LogFormat)

	info := versions.GetVersionInfo()
	logger.Infow("starting uitsmijter", "version", info.Version, "commit", info.Commit)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := entities.NewStore()

	sessions, kv, err := buildStorage(settings)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	keyStorage := keys.NewStorage(kv)
	if _, err := keyStorage.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap signing keys: %w", err)
	}

	signer := keys.NewSigner(keyStorage, settings.JWTSecret, entities.AlgHS256,
		keys.WithTokenTTL(settings.TokenExpiration))

	renderer, err := server.NewRenderer()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	handler := server.NewHandler(settings, store, sessions, signer, keyStorage, renderer)

	group, ctx := errgroup.WithContext(ctx)

	if err := startLoaders(ctx, group, settings, store); err != nil {
		return err
	}
	handler.SetLoaded()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	group.Go(func() error {
		logger.Infow("server listening", "addr", srv.Addr, "environment", settings.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildStorage selects the session store and the key-value backend from the
// configured storage backend. Both share one Redis connection when Redis is
// selected.
func buildStorage(settings *config.Settings) (session.Store, keys.KV, error) {
	if settings.StorageBackend == config.BackendRedis {
		if settings.RedisHost == "" {
			return nil, nil, fmt.Errorf("storage backend is redis but no redis host is configured")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisHost,
			Password: settings.RedisPassword,
		})
		logger.Infow("using redis storage", "addr", settings.RedisHost)
		return session.NewRedisStoreWithClient(client, settings.TokenLength), keys.NewRedisKV(client), nil
	}

	logger.Info("using in-memory storage; sessions and keys do not survive restarts")
	return session.NewMemoryStore(session.WithCodeLength(settings.TokenLength)), keys.NewMemoryKV(), nil
}

// startLoaders runs the initial entity load and keeps watching for changes.
// The file loader is always active; the cluster loader joins when the
// process runs inside Kubernetes.
func startLoaders(ctx context.Context, group *errgroup.Group, settings *config.Settings, store *entities.Store) error {
	fileLoader := loader.NewFileLoader(store, settings.TenantDir)
	if err := fileLoader.Load(); err != nil {
		logger.Warnw("initial tenant directory scan failed", "dir", settings.TenantDir, "err", err)
	}
	group.Go(func() error {
		if err := fileLoader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("file watcher: %w", err)
		}
		return nil
	})

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		if !errors.Is(err, rest.ErrNotInCluster) {
			logger.Warnw("kubernetes config unavailable", "err", err)
		}
		return nil
	}

	dynClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("create kubernetes client: %w", err)
	}

	clusterLoader := loader.NewClusterLoader(store, dynClient)
	if err := clusterLoader.Load(ctx); err != nil {
		return fmt.Errorf("list tenant resources: %w", err)
	}
	group.Go(func() error {
		if err := clusterLoader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("cluster watcher: %w", err)
		}
		return nil
	})

	logger.Info("watching cluster tenant and client resources")
	return nil
}
