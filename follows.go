package fanline

import (
	"context"
	"fmt"
)

// OnUnfollow drops the follower's cached timeline. Partial removal from
// the cache would need per-entry provenance the cache doesn't keep, so
// the whole thing is invalidated and rebuilt lazily on the next read.
// In-flight fan-out from the unfollowed account is not cancelled; this
// invalidation is the correction mechanism.
func (e *Engine) OnUnfollow(ctx context.Context, followerID, followeeID int64) error {
	if err := e.cache.Invalidate(ctx, followerID); err != nil {
		return fmt.Errorf("invalidating timeline for unfollow: %w", err)
	}

	return nil
}

// OnFollow invalidates the same way so the next read rebuilds with the
// new followee's posts included.
func (e *Engine) OnFollow(ctx context.Context, followerID, followeeID int64) error {
	if err := e.cache.Invalidate(ctx, followerID); err != nil {
		return fmt.Errorf("invalidating timeline for follow: %w", err)
	}

	return nil
}
