package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"regionping/internal/models"
)

// SampleStorage persists recorded latency samples to disk.
type SampleStorage struct {
	mu         sync.RWMutex
	path       string
	maxHistory int
	history    []models.LatencySample
}

// NewSampleStorage creates a storage instance and loads existing history if present.
// maxHistory <= 0 keeps every sample.
func NewSampleStorage(path string, maxHistory int) (*SampleStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &SampleStorage{path: path, maxHistory: maxHistory}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append adds a sample and persists the history.
func (s *SampleStorage) Append(sample models.LatencySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, sample)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	return s.persist()
}

// Latest returns the most recent sample if it exists.
func (s *SampleStorage) Latest() (models.LatencySample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.LatencySample{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the entire history.
func (s *SampleStorage) History() []models.LatencySample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]models.LatencySample, len(s.history))
	copy(copied, s.history)
	return copied
}

// HistoryN returns up to the last n samples, or all of them when n <= 0.
func (s *SampleStorage) HistoryN(n int) []models.LatencySample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	copied := make([]models.LatencySample, len(s.history)-start)
	copy(copied, s.history[start:])
	return copied
}

func (s *SampleStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.history = []models.LatencySample{}
			return nil
		}
		return fmt.Errorf("read latency history: %w", err)
	}

	if len(data) == 0 {
		s.history = []models.LatencySample{}
		return nil
	}

	var entries []models.LatencySample
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse latency history: %w", err)
	}

	s.history = entries
	return nil
}

func (s *SampleStorage) persist() error {
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode latency history: %w", err)
	}
	return writeAtomic(s.path, bytes)
}

// writeAtomic replaces path through a temporary sibling file.
func writeAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
