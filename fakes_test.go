package fanline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haileyok/fanline/internal/cache"
	"github.com/haileyok/fanline/models"
)

type fakeGraph struct {
	mu        sync.Mutex
	followers map[int64][]int64
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{followers: make(map[int64][]int64)}
}

func (g *fakeGraph) follow(followerID, followeeID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.followers[followeeID] = append(g.followers[followeeID], followerID)
}

func (g *fakeGraph) unfollow(followerID, followeeID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.followers[followeeID][:0]
	for _, f := range g.followers[followeeID] {
		if f != followerID {
			kept = append(kept, f)
		}
	}
	g.followers[followeeID] = kept
}

func (g *fakeGraph) FollowerCount(ctx context.Context, userID int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.followers[userID]), nil
}

func (g *fakeGraph) Followers(ctx context.Context, userID int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.followers[userID]...), nil
}

func (g *fakeGraph) Followees(ctx context.Context, userID int64) ([]models.Followee, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []models.Followee
	for followee, fs := range g.followers {
		for _, f := range fs {
			if f == userID {
				out = append(out, models.Followee{UserID: followee, FollowerCount: len(fs)})
				break
			}
		}
	}
	return out, nil
}

type fakePosts struct {
	mu    sync.Mutex
	seq   int64
	posts map[int64]*models.Post
	// slowAuthors makes RecentByAuthor for that author block until the
	// context gives up.
	slowAuthors map[int64]bool
}

func newFakePosts() *fakePosts {
	return &fakePosts{
		posts:       make(map[int64]*models.Post),
		slowAuthors: make(map[int64]bool),
	}
}

// addPost seeds a post with an explicit id.
func (s *fakePosts) addPost(id, authorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts[id] = &models.Post{ID: id, AuthorID: authorID, Content: "seeded", CreatedAt: time.Now()}
	if id > s.seq {
		s.seq = id
	}
}

func (s *fakePosts) Create(ctx context.Context, authorID int64, content string, replyTo *int64) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	p := &models.Post{
		ID:        s.seq,
		AuthorID:  authorID,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: time.Now(),
	}
	s.posts[p.ID] = p
	return p, nil
}

func (s *fakePosts) Get(ctx context.Context, postID int64) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *fakePosts) Delete(ctx context.Context, postID, authorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok || p.AuthorID != authorID {
		return ErrNotFound
	}
	delete(s.posts, postID)
	return nil
}

func (s *fakePosts) RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error) {
	s.mu.Lock()
	slow := s.slowAuthors[authorID]
	s.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return s.RecentByAuthors(ctx, []int64{authorID}, limit, before)
}

func (s *fakePosts) RecentByAuthors(ctx context.Context, authorIDs []int64, limit int, before int64) ([]models.PostRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := make(map[int64]bool, len(authorIDs))
	for _, id := range authorIDs {
		match[id] = true
	}

	var refs []models.PostRef
	for _, p := range s.posts {
		if !match[p.AuthorID] || p.IsReply() {
			continue
		}
		if before > 0 && p.ID >= before {
			continue
		}
		refs = append(refs, p.Ref())
	}

	// Descending by id, bounded.
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			if refs[j].PostID > refs[i].PostID {
				refs[i], refs[j] = refs[j], refs[i]
			}
		}
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}

	return refs, nil
}

type fakeTransport struct {
	mu        sync.Mutex
	connected map[int64]bool
	events    map[int64][]models.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: make(map[int64]bool),
		events:    make(map[int64][]models.Event),
	}
}

func (t *fakeTransport) connect(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[userID] = true
}

func (t *fakeTransport) IsConnected(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected[userID]
}

func (t *fakeTransport) Push(userID int64, ev models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[userID] = append(t.events[userID], ev)
	return nil
}

func (t *fakeTransport) received(userID int64) []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Event(nil), t.events[userID]...)
}

// flakyCache fails the first N inserts per user, then behaves.
type flakyCache struct {
	*cache.Memory
	mu       sync.Mutex
	failures map[int64]int
	attempts map[int64]int
}

func newFlakyCache(capacity int) *flakyCache {
	return &flakyCache{
		Memory:   cache.NewMemory(capacity),
		failures: make(map[int64]int),
		attempts: make(map[int64]int),
	}
}

func (c *flakyCache) failNext(userID int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[userID] = n
}

func (c *flakyCache) attemptCount(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[userID]
}

func (c *flakyCache) Insert(ctx context.Context, userID int64, entry models.TimelineEntry) error {
	c.mu.Lock()
	c.attempts[userID]++
	if c.failures[userID] > 0 {
		c.failures[userID]--
		c.mu.Unlock()
		return errors.New("cache store unavailable")
	}
	c.mu.Unlock()

	return c.Memory.Insert(ctx, userID, entry)
}

// brokenCache errors on everything, simulating a cache outage.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Insert(ctx context.Context, userID int64, entry models.TimelineEntry) error {
	return errCacheDown
}

func (brokenCache) GetRecent(ctx context.Context, userID int64, limit int, before int64) ([]models.TimelineEntry, error) {
	return nil, errCacheDown
}

func (brokenCache) Remove(ctx context.Context, userID, postID, authorID int64) error {
	return errCacheDown
}

func (brokenCache) Invalidate(ctx context.Context, userID int64) error { return errCacheDown }

func (brokenCache) InsertAuthor(ctx context.Context, ref models.PostRef) error { return errCacheDown }

func (brokenCache) RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error) {
	return nil, errCacheDown
}

func (brokenCache) RemoveAuthor(ctx context.Context, authorID, postID int64) error {
	return errCacheDown
}
