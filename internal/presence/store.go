package presence

import (
	"context"
	"sync"

	"github.com/taskboard-live/backend/internal/model"
)

// Store is the backing storage of board rosters.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the roster for a board, or nil if the board has none.
	Load(ctx context.Context, boardID string) ([]model.Participant, error)

	// Save replaces the roster for a board.
	Save(ctx context.Context, boardID string, roster []model.Participant) error

	// Delete removes the roster for a board. Missing boards are not an error.
	Delete(ctx context.Context, boardID string) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps rosters in process memory. It is the default store for a
// single server instance.
type MemoryStore struct {
	mu      sync.RWMutex
	rosters map[string][]model.Participant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rosters: make(map[string][]model.Participant)}
}

// Load returns a copy of the stored roster.
func (m *MemoryStore) Load(_ context.Context, boardID string) ([]model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roster, ok := m.rosters[boardID]
	if !ok {
		return nil, nil
	}
	return append([]model.Participant(nil), roster...), nil
}

// Save stores a copy of roster.
func (m *MemoryStore) Save(_ context.Context, boardID string, roster []model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rosters[boardID] = append([]model.Participant(nil), roster...)
	return nil
}

// Delete drops the roster for boardID.
func (m *MemoryStore) Delete(_ context.Context, boardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rosters, boardID)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
