package fanline

import (
	"context"

	"github.com/haileyok/fanline/models"
)

// TimelineCache is the shared hot path for reads. Implementations must
// make each Insert an atomic insert-then-trim; see internal/cache for the
// Redis and in-process versions. A miss is an empty result, never an
// error: missing means "reconstruct from pull", not "empty timeline".
type TimelineCache interface {
	Insert(ctx context.Context, userID int64, entry models.TimelineEntry) error
	GetRecent(ctx context.Context, userID int64, limit int, before int64) ([]models.TimelineEntry, error)
	Remove(ctx context.Context, userID, postID, authorID int64) error
	Invalidate(ctx context.Context, userID int64) error

	// Author windows hold the recent posts of pull-classified accounts so
	// the read-side pull can skip the durable store.
	InsertAuthor(ctx context.Context, ref models.PostRef) error
	RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error)
	RemoveAuthor(ctx context.Context, authorID, postID int64) error
}

// FollowGraph is a read-only view over the durable social graph.
type FollowGraph interface {
	FollowerCount(ctx context.Context, userID int64) (int, error)
	Followers(ctx context.Context, userID int64) ([]int64, error)
	Followees(ctx context.Context, userID int64) ([]models.Followee, error)
}

// PostStore is the durable post accessor. Recent* results are ordered by
// id descending; before <= 0 means no cursor.
type PostStore interface {
	Create(ctx context.Context, authorID int64, content string, replyTo *int64) (*models.Post, error)
	Get(ctx context.Context, postID int64) (*models.Post, error)
	Delete(ctx context.Context, postID, authorID int64) error
	RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error)
	RecentByAuthors(ctx context.Context, authorIDs []int64, limit int, before int64) ([]models.PostRef, error)
}

// RealtimeTransport is the downstream notification sink. Push is
// at-least-once; the transport dedups on post id.
type RealtimeTransport interface {
	IsConnected(userID int64) bool
	Push(userID int64, ev models.Event) error
}
