// Package state persists the server's install identity and paired
// clients across restarts, the Go equivalent of original_source's
// State{unique_id}/state.toml handling in lib.rs.
package state

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/nestream/nestream/internal/nesterr"
)

// fileState is the on-disk state.toml shape.
type fileState struct {
	UniqueID string            `toml:"unique_id"`
	Clients  map[string]string `toml:"clients"` // client ID -> base64 DER certificate
}

// Store owns the server's persistent identity and the paired-client
// table, serialized to a single state.toml under dataDir.
type Store struct {
	path string

	mu    sync.RWMutex
	state fileState
}

// Open loads state.toml from dataDir, creating a fresh server identity
// (a random UUID) if the file doesn't exist yet.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "state.toml")

	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.state = fileState{UniqueID: uuid.NewString(), Clients: make(map[string]string)}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, nesterr.New(nesterr.KindConfig, "state.Open", err)
	}

	var parsed fileState
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, nesterr.New(nesterr.KindConfig, "state.Open", err)
	}
	if parsed.Clients == nil {
		parsed.Clients = make(map[string]string)
	}
	s.state = parsed
	return s, nil
}

// UniqueID returns the server's persistent install identifier, used to
// populate `serverinfo`'s UniqueId field.
func (s *Store) UniqueID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UniqueID
}

// save writes the current state to disk, creating dataDir if needed.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nesterr.New(nesterr.KindConfig, "state.save", err)
	}
	data, err := toml.Marshal(s.state)
	if err != nil {
		return nesterr.New(nesterr.KindConfig, "state.save", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return nesterr.New(nesterr.KindConfig, "state.save", err)
	}
	return nil
}
