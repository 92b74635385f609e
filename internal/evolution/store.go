package evolution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgebench/forgebench/internal/storage"
)

// ProfileStore persists Profile/ProfileResult history to a storage.Store,
// keyed "profile/<id>" and "profile_result/<id>" — the same KV-plus-FTS
// store the teacher uses for its skill library and long-term memory,
// reused here as the evolutionary tuner's population archive so a prior
// generation's winners survive a process restart.
type ProfileStore struct {
	store storage.Store
}

// NewProfileStore wraps an existing storage.Store (typically a
// storage.SQLiteStore) for profile/result persistence.
func NewProfileStore(store storage.Store) *ProfileStore {
	return &ProfileStore{store: store}
}

func profileKey(id string) string       { return "profile/" + id }
func profileResultKey(id string) string { return "profile_result/" + id }

// SaveProfile persists one profile, upserting by ID.
func (s *ProfileStore) SaveProfile(ctx context.Context, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("evolution: marshal profile %q: %w", p.ID, err)
	}
	return s.store.Put(ctx, storage.Record{
		Key:   profileKey(p.ID),
		Value: data,
		Metadata: map[string]string{
			"kind":       "profile",
			"generation": fmt.Sprintf("%d", p.Generation),
		},
	})
}

// SaveResult persists one profile's evaluated fitness, upserting by
// profile ID.
func (s *ProfileStore) SaveResult(ctx context.Context, r ProfileResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("evolution: marshal profile result %q: %w", r.Profile.ID, err)
	}
	return s.store.Put(ctx, storage.Record{
		Key:   profileResultKey(r.Profile.ID),
		Value: data,
		Metadata: map[string]string{
			"kind": "profile_result",
		},
	})
}

// LoadProfile fetches a previously saved profile by ID. Returns nil, nil
// if it does not exist.
func (s *ProfileStore) LoadProfile(ctx context.Context, id string) (*Profile, error) {
	rec, err := s.store.Get(ctx, profileKey(id))
	if err != nil {
		return nil, fmt.Errorf("evolution: get profile %q: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	var p Profile
	if err := json.Unmarshal(rec.Value, &p); err != nil {
		return nil, fmt.Errorf("evolution: unmarshal profile %q: %w", id, err)
	}
	return &p, nil
}

// ListGenerations lists archived profile IDs, at most limit of them, in the
// order the underlying store's List returns keys; that is not generation
// order — callers sort by Profile.Generation after loading if ordering
// matters.
func (s *ProfileStore) ListGenerations(ctx context.Context, limit int) ([]string, error) {
	keys, err := s.store.List(ctx, "profile/", limit)
	if err != nil {
		return nil, fmt.Errorf("evolution: list profiles: %w", err)
	}
	return keys, nil
}
