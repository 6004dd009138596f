package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/haileyok/fanline/models"
	"github.com/stretchr/testify/require"
)

func pushed(postID, authorID int64) models.TimelineEntry {
	return models.TimelineEntry{
		PostRef: models.PostRef{PostID: postID, AuthorID: authorID},
		Reason:  models.ReasonPushed,
	}
}

func TestMemoryInsertOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	// Arrival order deliberately scrambled.
	for _, id := range []int64{30, 10, 50, 20, 40} {
		require.NoError(t, m.Insert(ctx, 1, pushed(id, 7)))
	}

	got, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)

	ids := make([]int64, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.PostID)
	}
	require.Equal(t, []int64{50, 40, 30, 20, 10}, ids)
}

func TestMemoryInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Insert(ctx, 1, pushed(10, 7)))
	require.NoError(t, m.Insert(ctx, 1, pushed(20, 7)))

	once, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)

	require.NoError(t, m.Insert(ctx, 1, pushed(10, 7)))

	twice, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestMemoryCapacityTrim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(5)

	for id := int64(1); id <= 20; id++ {
		require.NoError(t, m.Insert(ctx, 1, pushed(id, 7)))
	}

	require.Equal(t, 5, m.Len(1))

	got, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)

	// Oldest entries were the ones evicted.
	require.Equal(t, int64(20), got[0].PostID)
	require.Equal(t, int64(16), got[4].PostID)
}

func TestMemoryCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	for id := int64(1); id <= 9; id++ {
		require.NoError(t, m.Insert(ctx, 1, pushed(id, 7)))
	}

	got, err := m.GetRecent(ctx, 1, 3, 7)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(6), got[0].PostID)
	require.Equal(t, int64(4), got[2].PostID)
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Insert(ctx, 1, pushed(10, 7)))
	require.NoError(t, m.Invalidate(ctx, 1))

	got, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMemoryRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Insert(ctx, 1, pushed(10, 7)))
	require.NoError(t, m.Insert(ctx, 1, pushed(20, 7)))
	require.NoError(t, m.Remove(ctx, 1, 10, 7))

	got, err := m.GetRecent(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].PostID)
}

func TestMemoryConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100)

	// Two followees fanning out to the same follower at once, with
	// overlapping post ids, must leave a sorted deduplicated timeline.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := int64(1); id <= 50; id++ {
				_ = m.Insert(ctx, 1, pushed(id, id%3))
			}
		}()
	}
	wg.Wait()

	got, err := m.GetRecent(ctx, 1, 100, 0)
	require.NoError(t, err)
	require.Len(t, got, 50)

	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i-1].PostID, got[i].PostID)
	}
}

func TestMemoryAuthorWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, m.InsertAuthor(ctx, models.PostRef{PostID: id, AuthorID: 9}))
	}

	got, err := m.RecentByAuthor(ctx, 9, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(5), got[0].PostID)

	require.NoError(t, m.RemoveAuthor(ctx, 9, 5))

	got, err = m.RecentByAuthor(ctx, 9, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), got[0].PostID)
}
