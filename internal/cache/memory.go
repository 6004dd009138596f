package cache

import (
	"context"
	"sync"

	"github.com/haileyok/fanline/models"
)

// Memory is the in-process cache used by tests and single-node runs. Each
// insert-then-trim happens under the lock, which gives the same atomicity
// the Lua script gives the Redis implementation.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	timelines map[int64][]models.TimelineEntry
	authors   map[int64][]models.PostRef
}

func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity:  capacity,
		timelines: make(map[int64][]models.TimelineEntry),
		authors:   make(map[int64][]models.PostRef),
	}
}

func (m *Memory) Insert(ctx context.Context, userID int64, entry models.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tl := m.timelines[userID]

	// Dedup-by-replace: drop any existing entry for the same post before
	// placing the new one.
	kept := tl[:0]
	for _, e := range tl {
		if e.PostID != entry.PostID {
			kept = append(kept, e)
		}
	}

	inserted := false
	tl = make([]models.TimelineEntry, 0, len(kept)+1)
	for _, e := range kept {
		if !inserted && entry.PostID > e.PostID {
			tl = append(tl, entry)
			inserted = true
		}
		tl = append(tl, e)
	}
	if !inserted {
		tl = append(tl, entry)
	}

	if len(tl) > m.capacity {
		tl = tl[:m.capacity]
	}

	m.timelines[userID] = tl
	return nil
}

func (m *Memory) GetRecent(ctx context.Context, userID int64, limit int, before int64) ([]models.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.TimelineEntry
	for _, e := range m.timelines[userID] {
		if before > 0 && e.PostID >= before {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (m *Memory) Remove(ctx context.Context, userID, postID, authorID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tl := m.timelines[userID]
	kept := tl[:0]
	for _, e := range tl {
		if e.PostID != postID {
			kept = append(kept, e)
		}
	}
	m.timelines[userID] = kept

	return nil
}

func (m *Memory) Invalidate(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timelines, userID)
	return nil
}

func (m *Memory) InsertAuthor(ctx context.Context, ref models.PostRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.authors[ref.AuthorID]

	kept := window[:0]
	for _, r := range window {
		if r.PostID != ref.PostID {
			kept = append(kept, r)
		}
	}

	inserted := false
	window = make([]models.PostRef, 0, len(kept)+1)
	for _, r := range kept {
		if !inserted && ref.PostID > r.PostID {
			window = append(window, ref)
			inserted = true
		}
		window = append(window, r)
	}
	if !inserted {
		window = append(window, ref)
	}

	if len(window) > m.capacity {
		window = window[:m.capacity]
	}

	m.authors[ref.AuthorID] = window
	return nil
}

func (m *Memory) RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PostRef
	for _, r := range m.authors[authorID] {
		if before > 0 && r.PostID >= before {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (m *Memory) RemoveAuthor(ctx context.Context, authorID, postID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.authors[authorID]
	kept := window[:0]
	for _, r := range window {
		if r.PostID != postID {
			kept = append(kept, r)
		}
	}
	m.authors[authorID] = kept

	return nil
}

// Len reports the cached timeline size for a user. Test helper.
func (m *Memory) Len(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timelines[userID])
}
