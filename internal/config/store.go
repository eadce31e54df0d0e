package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
)

const configTOMLFileName = "config.toml"

// Store is the durable key/value configuration plus its in-process
// snapshot. Save writes synchronously to disk and then swaps the
// snapshot; Snapshot returns a deep copy.
type Store struct {
	dir string

	mu       sync.RWMutex
	snapshot Config
	loaded   bool
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, configTOMLFileName)
}

// LoadOrInit reads config.toml, creating it with defaults when absent.
// The legacy allow-list migrates into the session-mode map here.
func (s *Store) LoadOrInit() (Config, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Config{}, err
	}

	if b, err := os.ReadFile(s.path()); err == nil {
		var cfg Config
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
		cfg = ApplyEnv(Normalize(cfg))
		s.swap(cfg)
		return cfg.Clone(), nil
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := ApplyEnv(Normalize(Config{}))
	if err := writeTOMLAtomically(s.path(), cfg); err != nil {
		return Config{}, err
	}
	s.swap(cfg)
	return cfg.Clone(), nil
}

// Save persists cfg and then replaces the snapshot.
func (s *Store) Save(cfg Config) error {
	cfg = Normalize(cfg)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := writeTOMLAtomically(s.path(), cfg); err != nil {
		return err
	}
	s.swap(cfg)
	return nil
}

// Snapshot returns the current in-process snapshot, loading from disk on
// first use.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	if s.loaded {
		out := s.snapshot.Clone()
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	cfg, err := s.LoadOrInit()
	if err != nil {
		return Normalize(Config{})
	}
	return cfg
}

// SetSessionMode updates one (sessionType, project) mode and persists.
func (s *Store) SetSessionMode(sessionType, project, mode string) error {
	cfg := s.Snapshot()
	cfg.Tmux.SessionModes[SessionModeKey(sessionType, project)] = mode
	return s.Save(cfg)
}

func (s *Store) swap(cfg Config) {
	s.mu.Lock()
	s.snapshot = cfg
	s.loaded = true
	s.mu.Unlock()
}

// Watch refreshes the snapshot when config.toml changes on disk. Editors
// replace the file, so both Write and Create (post-rename) count. The
// watcher stops when ctx is done.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var lastReload time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(evt.Name) != configTOMLFileName {
					continue
				}
				if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
					continue
				}
				// Atomic saves produce a rename plus a write; debounce.
				if time.Since(lastReload) < 200*time.Millisecond {
					continue
				}
				lastReload = time.Now()
				if _, err := s.LoadOrInit(); err != nil {
					if logger != nil {
						logger.Warn("config reload failed", "err", err)
					}
					continue
				}
				if logger != nil {
					logger.Info("config reloaded", "path", evt.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn("config watcher error", "err", err)
				}
			}
		}
	}()
	return nil
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
