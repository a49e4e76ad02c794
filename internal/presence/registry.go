// Package presence tracks which participants are connected to each board.
package presence

import (
	"context"

	"github.com/taskboard-live/backend/internal/model"
)

// Registry maps board identifiers to the participants currently connected.
// A roster never holds two entries for the same connection ID, and keeps
// join order.
type Registry struct {
	store Store
}

// NewRegistry creates a Registry over store. A nil store means a MemoryStore.
func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{store: store}
}

// Join adds p to the roster of boardID, replacing any entry with the same
// connection ID in place. It returns the updated roster.
func (r *Registry) Join(ctx context.Context, boardID string, p model.Participant) ([]model.Participant, error) {
	roster, err := r.store.Load(ctx, boardID)
	if err != nil {
		return nil, err
	}

	p.BoardID = boardID
	replaced := false
	for i := range roster {
		if roster[i].ConnectionID == p.ConnectionID {
			roster[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		roster = append(roster, p)
	}

	if err := r.store.Save(ctx, boardID, roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// Leave removes the entry for connectionID from boardID. It is a no-op if the
// connection is not on the roster. It returns the remaining roster and
// whether an entry was removed.
func (r *Registry) Leave(ctx context.Context, boardID, connectionID string) ([]model.Participant, bool, error) {
	roster, err := r.store.Load(ctx, boardID)
	if err != nil {
		return nil, false, err
	}

	kept := make([]model.Participant, 0, len(roster))
	for _, p := range roster {
		if p.ConnectionID != connectionID {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(roster)
	if !removed {
		return kept, false, nil
	}

	if len(kept) == 0 {
		err = r.store.Delete(ctx, boardID)
	} else {
		err = r.store.Save(ctx, boardID, kept)
	}
	if err != nil {
		return nil, false, err
	}
	return kept, true, nil
}

// Get returns the roster for boardID, or an empty roster.
func (r *Registry) Get(ctx context.Context, boardID string) ([]model.Participant, error) {
	roster, err := r.store.Load(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if roster == nil {
		return []model.Participant{}, nil
	}
	return roster, nil
}

// Close closes the backing store.
func (r *Registry) Close() error {
	return r.store.Close()
}
