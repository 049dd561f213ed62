package state

import (
	"encoding/base64"

	"github.com/nestream/nestream/internal/nesterr"
	"github.com/nestream/nestream/internal/pairing"
)

// SaveClient persists a paired client's certificate, implementing
// pairing.Store. The client record is written to disk immediately so a
// server restart during an active session doesn't lose pairing state.
func (s *Store) SaveClient(record pairing.ClientRecord) error {
	s.mu.Lock()
	s.state.Clients[record.ID] = base64.StdEncoding.EncodeToString(record.Certificate)
	s.mu.Unlock()
	return s.save()
}

// DeleteClient removes a client's persisted pairing, implementing
// pairing.Store — used by the `/unpair` HTTP endpoint.
func (s *Store) DeleteClient(id string) error {
	s.mu.Lock()
	delete(s.state.Clients, id)
	s.mu.Unlock()
	return s.save()
}

// Client looks up a paired client's certificate by ID.
func (s *Store) Client(id string) (pairing.ClientRecord, bool, error) {
	s.mu.RLock()
	encoded, ok := s.state.Clients[id]
	s.mu.RUnlock()
	if !ok {
		return pairing.ClientRecord{}, false, nil
	}
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return pairing.ClientRecord{}, false, nesterr.New(nesterr.KindConfig, "state.Client", err)
	}
	return pairing.ClientRecord{ID: id, Certificate: der}, true, nil
}

// Clients returns every currently-paired client ID.
func (s *Store) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.state.Clients))
	for id := range s.state.Clients {
		ids = append(ids, id)
	}
	return ids
}
