package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

// manifestGlob matches YAML and TOML manifests at any depth.
const manifestGlob = "**/*.{yaml,yml,toml}"

// Seeder loads app manifests from a directory and, when hot reload is
// enabled, watches it for new or changed manifests.
type Seeder struct {
	manager *Manager
	dir     string
	log     *zap.Logger

	mu     sync.Mutex
	loaded map[string]id.AppID // manifest path -> app
}

// NewSeeder creates a seeder over a manifest directory.
func NewSeeder(manager *Manager, dir string, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{
		manager: manager,
		dir:     dir,
		log:     log.Named("seeder"),
		loaded:  make(map[string]id.AppID),
	}
}

// SeedApps loads every manifest under the directory. A missing
// directory is not an error: hosts without declarative apps are fine.
// Individual bad manifests are logged and skipped.
func (s *Seeder) SeedApps() error {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.log.Info("apps directory not found, skipping seed", zap.String("dir", s.dir))
		return nil
	}

	matches, err := doublestar.Glob(os.DirFS(s.dir), manifestGlob)
	if err != nil {
		return err
	}

	var loaded, failed int
	for _, rel := range matches {
		if err := s.loadOne(filepath.Join(s.dir, rel)); err != nil {
			s.log.Warn("manifest load failed", zap.String("path", rel), zap.Error(err))
			failed++
			continue
		}
		loaded++
	}
	s.log.Info("seeded apps", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return nil
}

// loadOne loads or re-loads a single manifest file. Re-loading an
// already-seeded path unloads the prior instance first so quotas and
// capabilities reflect the file on disk.
func (s *Seeder) loadOne(path string) error {
	manifest, err := LoadManifest(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.loaded[path]; ok {
		if _, err := s.manager.Unload(prior); err != nil && err != ErrAppNotFound {
			return err
		}
		delete(s.loaded, path)
	}

	a, err := s.manager.Load(*manifest, nil)
	if err != nil {
		return err
	}
	s.loaded[path] = a.ID
	return nil
}

// forget drops bookkeeping for a removed manifest and unloads its app.
func (s *Seeder) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appID, ok := s.loaded[path]; ok {
		if _, err := s.manager.Unload(appID); err != nil && err != ErrAppNotFound {
			s.log.Warn("unload on manifest removal failed", zap.Error(err))
		}
		delete(s.loaded, path)
	}
}

// Watch hot-reloads manifests until ctx is done. Blocks; run in its
// own goroutine.
func (s *Seeder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}
	s.log.Info("watching apps directory", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isManifest(ev.Name) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
				if err := s.loadOne(ev.Name); err != nil {
					s.log.Warn("hot reload failed", zap.String("path", ev.Name), zap.Error(err))
				}
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				s.forget(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func isManifest(path string) bool {
	ok, err := doublestar.Match(manifestGlob, filepath.Base(path))
	return err == nil && ok
}
