// Package storage persists monitor status and observation history.
package storage

import (
	"encoding/json"
	"os"
	"sync"

	"tab-element-monitor/internal/snapshot"
)

// FileStore keeps the published status in a JSON file so the last config,
// value and error survive restarts.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the persisted status. ok is false when the file does not
// exist yet or cannot be decoded.
func (s *FileStore) Load() (snapshot.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return snapshot.Status{}, false
	}
	defer f.Close()

	var st snapshot.Status
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return snapshot.Status{}, false
	}
	return st, true
}

func (s *FileStore) Save(st snapshot.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, s.path)
}
