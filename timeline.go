package fanline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/haileyok/fanline/models"
)

// GetHomeTimeline merges the pushed cache contents, fresh pulls from
// pull-classified followees, and the requester's own recent posts into
// one descending page. A total cache failure degrades to pulling every
// followee; a slow pull-side followee is omitted from this response.
func (e *Engine) GetHomeTimeline(ctx context.Context, userID int64, limit int, cursor string) (*models.FeedPage, error) {
	start := time.Now()
	defer func() {
		timelineReadDuration.Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		return nil, &PolicyError{Reason: fmt.Sprintf("limit must be positive, got %d", limit)}
	}
	if limit > e.cfg.MaxPageSize {
		limit = e.cfg.MaxPageSize
	}

	before, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	fetch := limit + 1

	cached, cacheErr := e.cache.GetRecent(ctx, userID, fetch, before)
	if cacheErr != nil {
		cacheFallbacks.Inc()
		e.logger.Error("timeline cache unavailable, falling back to full pull",
			"user", userID, "error", cacheErr)
	}

	followees, graphErr := e.graph.Followees(ctx, userID)
	if graphErr != nil {
		if cacheErr != nil {
			return nil, fmt.Errorf("both cache and follow graph unavailable: %w", graphErr)
		}
		e.logger.Error("follow graph unavailable, serving cached entries only",
			"user", userID, "error", graphErr)
	}

	candidates := make(map[int64]models.PostRef)
	for _, entry := range cached {
		candidates[entry.PostID] = entry.PostRef
	}

	fullPull := cacheErr != nil

	// An empty, healthy cache for a user who follows people is a miss,
	// not an empty timeline: rebuild the push side from the durable
	// store and repopulate in the background.
	if !fullPull && len(cached) == 0 && before == 0 && len(followees) > 0 {
		var pushSubset []int64
		for _, fe := range followees {
			if models.Classify(fe.FollowerCount, e.cfg.PushThreshold) == models.ClassPush {
				pushSubset = append(pushSubset, fe.UserID)
			}
		}

		refs, err := e.posts.RecentByAuthors(ctx, pushSubset, min(limit*2, e.cfg.CacheCapacity), 0)
		if err != nil {
			e.logger.Error("timeline rebuild fetch failed", "user", userID, "error", err)
		} else {
			for _, r := range refs {
				candidates[r.PostID] = r
			}
			e.repopulate(userID, refs)
		}
	}

	// Pull side: pull-classified followees always, everyone when the
	// cache is down.
	var pullSet []models.Followee
	for _, fe := range followees {
		if fullPull || models.Classify(fe.FollowerCount, e.cfg.PushThreshold) == models.ClassPull {
			pullSet = append(pullSet, fe)
		}
	}

	for _, entry := range e.gatherPulls(ctx, pullSet, fetch, before) {
		candidates[entry.PostID] = entry.PostRef
	}

	// Read-your-own-write: the requester's own posts are always an
	// implicit push source, fetched directly.
	selfRefs, err := e.posts.RecentByAuthor(ctx, userID, fetch, before)
	if err != nil {
		e.logger.Error("own-post fetch failed", "user", userID, "error", err)
	}
	for _, r := range selfRefs {
		candidates[r.PostID] = r
	}

	return buildPage(candidates, limit), nil
}

// gatherPulls fetches recent posts of each pull-side followee with a
// per-followee timeout, trying the author window before the post store.
// A followee that can't answer in time is dropped from this response.
func (e *Engine) gatherPulls(ctx context.Context, pullSet []models.Followee, fetch int, before int64) []models.TimelineEntry {
	if len(pullSet) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		pulled []models.TimelineEntry
		wg     sync.WaitGroup
	)

	for _, fe := range pullSet {
		wg.Add(1)
		go func(fe models.Followee) {
			defer wg.Done()

			tctx, cancel := context.WithTimeout(ctx, e.cfg.PullFetchTimeout)
			defer cancel()

			refs, err := e.cache.RecentByAuthor(tctx, fe.UserID, fetch, before)
			if err != nil || len(refs) == 0 {
				refs, err = e.posts.RecentByAuthor(tctx, fe.UserID, fetch, before)
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						pullTimeouts.Inc()
					}
					e.logger.Warn("pull fetch omitted", "followee", fe.UserID, "error", err)
					return
				}
			}

			// Synthesized entries exist only for this response; nothing
			// writes them back to the cache.
			entries := make([]models.TimelineEntry, 0, len(refs))
			for _, r := range refs {
				entries = append(entries, models.TimelineEntry{PostRef: r, Reason: models.ReasonSynthesized})
			}

			mu.Lock()
			pulled = append(pulled, entries...)
			mu.Unlock()
		}(fe)
	}

	wg.Wait()

	return pulled
}

// GetUserTimeline is an author's own top-level posts, straight from the
// post store.
func (e *Engine) GetUserTimeline(ctx context.Context, authorID int64, limit int, cursor string) (*models.FeedPage, error) {
	if limit <= 0 {
		return nil, &PolicyError{Reason: fmt.Sprintf("limit must be positive, got %d", limit)}
	}
	if limit > e.cfg.MaxPageSize {
		limit = e.cfg.MaxPageSize
	}

	before, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	refs, err := e.posts.RecentByAuthor(ctx, authorID, limit+1, before)
	if err != nil {
		return nil, fmt.Errorf("fetching user timeline: %w", err)
	}

	candidates := make(map[int64]models.PostRef, len(refs))
	for _, r := range refs {
		candidates[r.PostID] = r
	}

	return buildPage(candidates, limit), nil
}

func (e *Engine) repopulate(userID int64, refs []models.PostRef) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()

		for _, r := range refs {
			entry := models.TimelineEntry{PostRef: r, Reason: models.ReasonPushed}
			if err := e.cache.Insert(e.baseCtx, userID, entry); err != nil {
				e.logger.Warn("timeline repopulation insert failed",
					"user", userID, "post", r.PostID, "error", err)
				return
			}
		}
	}()
}

func buildPage(candidates map[int64]models.PostRef, limit int) *models.FeedPage {
	merged := make([]models.PostRef, 0, len(candidates))
	for _, r := range candidates {
		merged = append(merged, r)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].PostID > merged[j].PostID
	})

	page := &models.FeedPage{}
	if len(merged) > limit {
		page.HasMore = true
		merged = merged[:limit]
	}
	page.Posts = merged

	if len(merged) > 0 {
		page.NextCursor = strconv.FormatInt(merged[len(merged)-1].PostID, 10)
	}

	return page
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}

	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, &PolicyError{Reason: fmt.Sprintf("malformed cursor %q", cursor)}
	}

	return id, nil
}
