// Package session is the persistent session-state store consumed by tool
// handlers. The protocol layer itself never touches it.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/pkg/util"
)

const FileName = "session.json"

// Store is a mutex-guarded key/value map persisted as one JSON file.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]interface{}
}

// New loads the store from dir, starting empty when no file exists yet.
func New(dir string) (*Store, error) {
	if err := util.PrepareDir(dir); err != nil {
		return nil, err
	}

	s := &Store{
		path: filepath.Join(dir, FileName),
		data: make(map[string]interface{}),
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("discarding unreadable session state")
		s.data = make(map[string]interface{})
	}
	return s, nil
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a value and persists the whole map.
func (s *Store) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flushLocked()
}

// Delete removes a key and persists.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.flushLocked()
}

// Snapshot returns a copy of the full state.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *Store) flushLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0644)
}
