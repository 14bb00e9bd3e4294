package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"regionping/internal/models"
)

// PreferenceStorage keeps user settings between runs.
type PreferenceStorage struct {
	mu    sync.RWMutex
	path  string
	prefs models.Preferences
}

// NewPreferenceStorage loads preferences from path, seeding defaults when the
// file does not exist yet.
func NewPreferenceStorage(path string, defaults models.Preferences) (*PreferenceStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	store := &PreferenceStorage{path: path, prefs: defaults}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Get returns the current preferences.
func (s *PreferenceStorage) Get() models.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Update applies fn and persists the result if anything changed.
func (s *PreferenceStorage) Update(fn func(*models.Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	fn(&next)
	if next == s.prefs {
		return nil
	}
	s.prefs = next
	return s.persistLocked()
}

func (s *PreferenceStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read preferences: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	prefs := s.prefs
	if err := json.Unmarshal(data, &prefs); err != nil {
		return fmt.Errorf("parse preferences: %w", err)
	}
	s.prefs = prefs
	return nil
}

func (s *PreferenceStorage) persistLocked() error {
	bytes, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return writeAtomic(s.path, bytes)
}
