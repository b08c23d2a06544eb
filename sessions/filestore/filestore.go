// Package filestore persists sessions as one JSON file per session under a
// directory. Writes are atomic (temp file + rename) so a concurrent reader
// never observes a torn record. A fsnotify watcher evicts the in-process
// read cache when another process rewrites a session file, which keeps
// multi-process deployments sharing a directory coherent within one event
// delivery.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/parleyproto/parley/sessions"
)

const fileExt = ".json"

// Store is a directory-backed sessions.Store.
type Store struct {
	dir     string
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	cache map[string]*sessions.Session

	closeOnce sync.Once
	closed    chan struct{}
}

var _ sessions.Store = (*Store)(nil)

// New creates the directory if needed and starts the change watcher.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch session dir: %w", err)
	}

	s := &Store{
		dir:     dir,
		watcher: w,
		cache:   make(map[string]*sessions.Session),
		closed:  make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// watch evicts cached records whose backing file changed on disk. Our own
// writes evict too; that only costs one re-read on the next load.
func (s *Store) watch() {
	for {
		select {
		case <-s.closed:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, fileExt) {
				continue
			}
			id := strings.TrimSuffix(name, fileExt)
			s.mu.Lock()
			delete(s.cache, id)
			s.mu.Unlock()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher. Load and Save keep working without cache
// invalidation afterwards.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.watcher.Close()
	})
	return err
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s *Store) Load(ctx context.Context, id string) (*sessions.Session, error) {
	s.mu.Lock()
	if rec, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return rec.Clone(), nil
	}
	s.mu.Unlock()

	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var rec sessions.Session
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	s.mu.Lock()
	s.cache[id] = rec.Clone()
	s.mu.Unlock()
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, sess *sessions.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+sess.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(sess.ID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	s.cache[sess.ID] = sess.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
