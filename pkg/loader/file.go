// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// FileLoader materializes tenants and clients from a directory tree. Files
// under a "tenants" directory parse as tenants, files under a "clients"
// directory as clients; everything else is ignored. The absolute file path
// is the SourceRef key, so rewriting a file replaces its entity and
// deleting it removes the entity.
type FileLoader struct {
	store *entities.Store
	dir   string
}

// NewFileLoader creates a loader for the given directory.
func NewFileLoader(store *entities.Store, dir string) *FileLoader {
	return &FileLoader{store: store, dir: dir}
}

// Load reads the initial snapshot. Callers gate readiness on its return.
// Individual bad files are logged and skipped; only a missing or unreadable
// directory is an error.
func (l *FileLoader) Load() error {
	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		l.apply(path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan entity directory %s: %w", l.dir, err)
	}
	return nil
}

// Watch follows file-change events until the context is cancelled. Create
// and modify re-parse and upsert, delete and rename remove by source.
func (l *FileLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.watchTree(watcher); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorw("file watcher", "dir", l.dir, "err", err)
		}
	}
}

func (l *FileLoader) watchTree(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (l *FileLoader) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				logger.Errorw("watch new directory", "path", event.Name, "err", err)
			}
			return
		}
		fallthrough
	case event.Has(fsnotify.Write):
		if isYAML(event.Name) {
			l.apply(event.Name)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if isYAML(event.Name) {
			ref := entities.SourceRef{Kind: entities.SourceFile, Key: event.Name}
			l.store.RemoveBySource(ref)
			logger.Infow("removed entity source", "ref", ref.String())
		}
	}
}

// apply parses one file and upserts the result. Parse and validation errors
// are logged so an operator sees them, but never stop the loader.
func (l *FileLoader) apply(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Errorw("read entity file", "path", path, "err", err)
		return
	}
	ref := entities.SourceRef{Kind: entities.SourceFile, Key: path}
	switch classify(path) {
	case "tenants":
		tenant, err := parseTenant(raw, ref)
		if err != nil {
			logger.Errorw("load tenant", "path", path, "err", err)
			return
		}
		if err := l.store.UpsertTenant(tenant); err != nil {
			logger.Errorw("upsert tenant", "path", path, "err", err)
			return
		}
		logger.Infow("loaded tenant", "name", tenant.Name, "path", path)
	case "clients":
		client, err := parseClient(raw, ref)
		if err != nil {
			logger.Errorw("load client", "path", path, "err", err)
			return
		}
		if err := l.store.UpsertClient(client); err != nil {
			logger.Errorw("upsert client", "path", path, "err", err)
			return
		}
		logger.Infow("loaded client", "name", client.Name, "path", path)
	default:
		logger.Debugw("ignoring file outside tenants/clients", "path", path)
	}
}

// classify returns "tenants" or "clients" when one of those directory names
// appears in the file's path, or an empty string.
func classify(path string) string {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		switch strings.ToLower(part) {
		case "tenants":
			return "tenants"
		case "clients":
			return "clients"
		}
	}
	return ""
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
