// Package paramstore keeps the live strategy parameters in a YAML file.
//
// The optimizer writes the file; the trader loads it at start and reloads it
// whenever it changes on disk. An invalid file never replaces the last good
// parameters.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"fxtrader/internal/strategy"
)

// Rank is one optimizer ranking entry.
type Rank struct {
	Strategy    string  `yaml:"strategy" json:"strategy"`
	Performance float64 `yaml:"performance" json:"performance"`
}

// Document is the on-disk layout.
type Document struct {
	UpdatedAt time.Time    `yaml:"updated_at"`
	Params    strategy.Set `yaml:"params"`
	Ranking   []Rank       `yaml:"ranking,omitempty"`
}

// Snapshot is a loaded parameter set.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Document
}

// ChangeListener runs after every successful reload.
type ChangeListener func(Snapshot)

// Store serves the current parameters and watches the file.
type Store struct {
	path string

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Open loads path. A missing file yields strategy.DefaultSet.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("paramstore: path required")
	}
	s := &Store{path: path}
	doc, err := Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("[paramstore] %s not found, using defaults", path)
		doc = Document{Params: strategy.DefaultSet()}
	case err != nil:
		return nil, err
	}
	s.snapshot = Snapshot{Version: 1, LoadedAt: time.Now().UTC(), Document: doc}
	return s, nil
}

// Current returns the live parameter set.
func (s *Store) Current() strategy.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Params
}

// Snapshot returns the full loaded document.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.Ranking = append([]Rank(nil), s.snapshot.Ranking...)
	return snap
}

// OnChange registers fn for future reloads.
func (s *Store) OnChange(fn ChangeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload re-reads the file. On error the previous parameters stay live.
func (s *Store) Reload() error {
	doc, err := Read(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = Snapshot{Version: s.snapshot.Version + 1, LoadedAt: time.Now().UTC(), Document: doc}
	snap := s.snapshot
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.Unlock()

	log.Printf("[paramstore] reloaded %s (version %d)", filepath.Base(s.path), snap.Version)
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// Watch reloads the file whenever it is written, until ctx is cancelled.
// The parent directory is watched so atomic rename-over writes are seen.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("paramstore: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("paramstore: watch %s: %w", dir, err)
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
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Printf("[paramstore] reload rejected, keeping version %d: %v", s.Snapshot().Version, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("[paramstore] watcher error: %v", err)
		}
	}
}

// Read parses and validates a parameter file.
func Read(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("paramstore: read %s: %w", path, err)
	}
	doc := Document{Params: strategy.DefaultSet()}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("paramstore: parse %s: %w", path, err)
	}
	if err := doc.Params.Validate(); err != nil {
		return Document{}, fmt.Errorf("paramstore: %s: %w", path, err)
	}
	return doc, nil
}

// Write stores doc at path atomically (temp file + rename).
func Write(path string, doc Document) error {
	if err := doc.Params.Validate(); err != nil {
		return fmt.Errorf("paramstore: write: %w", err)
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("paramstore: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("paramstore: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".params-*.yaml")
	if err != nil {
		return fmt.Errorf("paramstore: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("paramstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("paramstore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("paramstore: rename: %w", err)
	}
	return nil
}
