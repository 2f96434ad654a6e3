package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Store serves the current catalog and swaps it when the backing file changes.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Catalog
	onReload []func(*Catalog)
}

func Open(path string) (*Store, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: c}, nil
}

// NewStore wraps an already loaded catalog. Reload and Watch need a path.
func NewStore(c *Catalog) *Store {
	return &Store{current: c}
}

func (s *Store) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Lookup(id int) (Flower, bool) {
	return s.Catalog().Lookup(id)
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Catalog)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Reload re-reads the file. On error the previous catalog stays in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("catalog store has no backing file")
	}
	c, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = c
	hooks := append([]func(*Catalog){}, s.onReload...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}
	return nil
}

// Watch reloads the catalog whenever its file is written, created or renamed
// into place. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("catalog store has no backing file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Warn().Err(err).Str("path", s.path).Msg("catalog reload failed; keeping previous entries")
				continue
			}
			log.Info().Str("path", s.path).Int("flowers", s.Catalog().Len()).Msg("catalog reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("catalog watcher error")
		}
	}
}
