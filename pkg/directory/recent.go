package directory

import (
	"context"
	"fmt"
	"sync"
)

const DefaultRecentLimit = 5

// RecentStore is durable storage for the recent list (db.Store in production).
type RecentStore interface {
	RecentProjects(ctx context.Context) ([]string, error)
	SetRecentProjects(ctx context.Context, ids []string) error
}

// Recent is the most-recently-used project list. It is shared by every page
// and is never reset by navigation.
type Recent struct {
	store RecentStore
	limit int

	mu     sync.Mutex
	ids    []string
	loaded bool
}

func NewRecent(store RecentStore, limit int) *Recent {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Recent{store: store, limit: limit}
}

// IDs returns the list, most recent first, reading storage on first use.
func (r *Recent) IDs(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(ctx)
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Touch records id as just used and persists the new list. The in-memory list
// only changes if the write succeeds.
func (r *Recent) Touch(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(ctx)

	next := PushRecent(r.ids, id, r.limit)
	if r.store != nil {
		if err := r.store.SetRecentProjects(ctx, next); err != nil {
			return r.ids, fmt.Errorf("persist recent projects: %w", err)
		}
	}
	r.ids = next
	out := make([]string, len(next))
	copy(out, next)
	return out, nil
}

func (r *Recent) loadLocked(ctx context.Context) {
	if r.loaded || r.store == nil {
		r.loaded = true
		return
	}
	ids, err := r.store.RecentProjects(ctx)
	if err != nil {
		// stays unloaded so the next call retries the read
		return
	}
	r.ids = PushAll(ids, r.limit)
	r.loaded = true
}

// PushRecent returns ids with id moved to the front, duplicates removed and
// the result truncated to limit. ids is not modified.
func PushRecent(ids []string, id string, limit int) []string {
	out := make([]string, 0, limit)
	out = append(out, id)
	for _, existing := range ids {
		if len(out) >= limit {
			break
		}
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// PushAll de-duplicates a stored list, keeping first occurrences, capped at limit.
func PushAll(ids []string, limit int) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, limit)
	for _, id := range ids {
		if seen[id] || len(out) >= limit {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
