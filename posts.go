package fanline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haileyok/fanline/models"
)

const maxPostLength = 300

// CreatePost persists the post and then dispatches fan-out. Durability
// strictly precedes dispatch, and dispatch failures never fail the
// creation: a post that landed in the store is reachable over the pull
// path no matter what happened to the pushes.
func (e *Engine) CreatePost(ctx context.Context, authorID int64, content string, replyTo *int64) (*models.Post, error) {
	if content == "" {
		return nil, &PolicyError{Reason: "post content is empty"}
	}
	if len(content) > maxPostLength {
		return nil, &PolicyError{Reason: fmt.Sprintf("post content exceeds %d bytes", maxPostLength)}
	}

	post, err := e.posts.Create(ctx, authorID, content, replyTo)
	if err != nil {
		return nil, fmt.Errorf("persisting post: %w", err)
	}

	// Replies live under their parent, not in home timelines.
	if post.IsReply() {
		return post, nil
	}

	if _, err := e.Dispatch(ctx, post.Ref()); err != nil {
		e.logger.Error("fanout dispatch failed, post remains pull-reachable",
			"post", post.ID, "author", authorID, "error", err)
	}

	return post, nil
}

// DeletePost removes the post durably and then propagates the removal:
// follower timelines for push-classified authors, the author window for
// pull-classified ones.
func (e *Engine) DeletePost(ctx context.Context, postID, userID int64) error {
	post, err := e.posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		return &PolicyError{Reason: "cannot delete another user's post"}
	}

	if err := e.posts.Delete(ctx, postID, userID); err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}

	count, err := e.graph.FollowerCount(ctx, userID)
	if err != nil {
		e.logger.Error("follower count unavailable, skipping delete propagation",
			"post", postID, "author", userID, "error", err)
		return nil
	}

	ev := &models.Event{
		ID:       uuid.NewString(),
		Type:     models.EventPostDeleted,
		PostID:   postID,
		AuthorID: userID,
	}

	if models.Classify(count, e.cfg.PushThreshold) == models.ClassPull {
		if err := e.cache.RemoveAuthor(ctx, userID, postID); err != nil {
			e.logger.Warn("author window removal failed",
				"post", postID, "author", userID, "error", err)
		}
		return nil
	}

	followers, err := e.graph.Followers(ctx, userID)
	if err != nil {
		e.logger.Error("follower listing unavailable, skipping delete propagation",
			"post", postID, "author", userID, "error", err)
		return nil
	}

	entry := models.TimelineEntry{PostRef: post.Ref()}
	res := &FanoutResult{Class: models.ClassPush, start: time.Now()}
	for _, f := range followers {
		res.wg.Add(1)
		if !e.enqueue(fanoutJob{op: opRemove, followerID: f, entry: entry, event: ev, result: res}) {
			res.wg.Done()
			break
		}
	}

	return nil
}
