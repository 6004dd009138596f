package fanline

import (
	"context"
	"testing"

	"github.com/haileyok/fanline/internal/cache"
	"github.com/haileyok/fanline/models"
	"github.com/stretchr/testify/require"
)

func pageIDs(page *models.FeedPage) []int64 {
	ids := make([]int64, 0, len(page.Posts))
	for _, p := range page.Posts {
		ids = append(ids, p.PostID)
	}
	return ids
}

func TestHomeTimelineMergesPushAndPull(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(800)
	env := newTestEngine(t, mem)

	// User 1 follows a push-classified account (100) and a
	// pull-classified one (200).
	env.graph.follow(1, 100)
	for _, f := range []int64{1, 2, 3, 4} {
		env.graph.follow(f, 200)
	}

	// Push side already fanned out p1, p3, p5.
	for _, id := range []int64{1, 5} {
		require.NoError(t, mem.Insert(ctx, 1, models.TimelineEntry{
			PostRef: models.PostRef{PostID: id, AuthorID: 100},
			Reason:  models.ReasonPushed,
		}))
	}
	require.NoError(t, mem.Insert(ctx, 1, models.TimelineEntry{
		PostRef: models.PostRef{PostID: 3, AuthorID: 200},
		Reason:  models.ReasonPushed,
	}))

	// Pull side yields p2, p3, p4, with p3 overlapping the cache.
	for _, id := range []int64{2, 3, 4} {
		env.posts.addPost(id, 200)
	}

	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4, 3, 2, 1}, pageIDs(page))
	require.Equal(t, "1", page.NextCursor)
	require.False(t, page.HasMore)
}

func TestHomeTimelineOwnPostVisibleBeforeFanout(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	post, err := env.engine.CreatePost(ctx, 1, "hello", nil)
	require.NoError(t, err)

	// No waiting on fan-out: the requester's own posts are fetched
	// directly.
	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Contains(t, pageIDs(page), post.ID)
}

func TestHomeTimelineRebuildOnCacheMiss(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(800)
	env := newTestEngine(t, mem)

	env.graph.follow(1, 100)
	for _, id := range []int64{10, 11, 12} {
		env.posts.addPost(id, 100)
	}

	// Cold cache: the page is still served, reconstructed from the
	// durable store.
	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, []int64{12, 11, 10}, pageIDs(page))
}

func TestHomeTimelineUnfollowInvalidation(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(800)
	env := newTestEngine(t, mem)

	env.graph.follow(1, 100)
	env.posts.addPost(10, 100)

	res, err := env.engine.Dispatch(ctx, models.PostRef{PostID: 10, AuthorID: 100})
	require.NoError(t, err)
	res.Wait()

	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Contains(t, pageIDs(page), int64(10))

	env.graph.unfollow(1, 100)
	require.NoError(t, env.engine.OnUnfollow(ctx, 1, 100))

	page, err = env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.NotContains(t, pageIDs(page), int64(10))
}

func TestHomeTimelineOmitsTimedOutPull(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(800)
	env := newTestEngine(t, mem)

	// Two pull-classified followees, one of which never answers.
	for _, f := range []int64{1, 2, 3, 4} {
		env.graph.follow(f, 200)
		env.graph.follow(f, 300)
	}

	env.posts.addPost(10, 200)
	env.posts.slowAuthors[300] = true

	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, []int64{10}, pageIDs(page))
}

func TestHomeTimelineCacheOutageFallsBackToPull(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, brokenCache{})

	env.graph.follow(1, 100)
	env.posts.addPost(10, 100)
	env.posts.addPost(11, 100)

	// Push-classified followees get pulled too when the cache is down.
	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Equal(t, []int64{11, 10}, pageIDs(page))
}

func TestHomeTimelinePagination(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	// A pull-classified followee keeps every page on the store path,
	// independent of cache warmup.
	for _, f := range []int64{1, 2, 3, 4} {
		env.graph.follow(f, 200)
	}
	for id := int64(1); id <= 25; id++ {
		env.posts.addPost(id, 200)
	}

	page1, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Len(t, page1.Posts, 10)
	require.True(t, page1.HasMore)
	require.Equal(t, int64(25), page1.Posts[0].PostID)
	require.Equal(t, "16", page1.NextCursor)

	page2, err := env.engine.GetHomeTimeline(ctx, 1, 10, page1.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Posts, 10)
	require.Equal(t, int64(15), page2.Posts[0].PostID)

	seen := make(map[int64]bool)
	for _, id := range pageIDs(page1) {
		seen[id] = true
	}
	for _, id := range pageIDs(page2) {
		require.False(t, seen[id], "post %d returned twice", id)
	}
}

func TestHomeTimelinePolicyViolations(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	_, err := env.engine.GetHomeTimeline(ctx, 1, -1, "")
	require.True(t, IsPolicy(err))

	_, err = env.engine.GetHomeTimeline(ctx, 1, 10, "not-a-cursor")
	require.True(t, IsPolicy(err))

	_, err = env.engine.GetHomeTimeline(ctx, 1, 10, "-5")
	require.True(t, IsPolicy(err))
}

func TestHomeTimelineEmpty(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	page, err := env.engine.GetHomeTimeline(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Empty(t, page.Posts)
	require.False(t, page.HasMore)
	require.Empty(t, page.NextCursor)
}

func TestUserTimelineExcludesReplies(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	parent, err := env.engine.CreatePost(ctx, 100, "original", nil)
	require.NoError(t, err)

	_, err = env.engine.CreatePost(ctx, 100, "a reply", &parent.ID)
	require.NoError(t, err)

	page, err := env.engine.GetUserTimeline(ctx, 100, 10, "")
	require.NoError(t, err)
	require.Equal(t, []int64{parent.ID}, pageIDs(page))
}

func TestUserTimelinePagination(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, cache.NewMemory(800))

	for id := int64(1); id <= 15; id++ {
		env.posts.addPost(id, 100)
	}

	page1, err := env.engine.GetUserTimeline(ctx, 100, 10, "")
	require.NoError(t, err)
	require.Len(t, page1.Posts, 10)
	require.True(t, page1.HasMore)

	page2, err := env.engine.GetUserTimeline(ctx, 100, 10, page1.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Posts, 5)
	require.False(t, page2.HasMore)
}
