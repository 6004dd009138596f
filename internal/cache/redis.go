package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/haileyok/fanline/models"
	"github.com/redis/go-redis/v9"
)

// insertTrim is the atomic insert-then-trim. ZADD dedups by member, so
// re-inserting the same post replaces it rather than duplicating it, and
// the rank trim keeps the set bounded no matter how inserts interleave.
var insertTrim = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
if tonumber(ARGV[4]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[4])
end
return redis.call('ZCARD', KEYS[1])
`)

// Redis backs per-user timelines with sorted sets, one set per user,
// member "postID:authorID", score the post id. Scores above 2^53 lose
// their low bits in the float conversion, so ordering and cursor
// filtering are always redone exactly on the parsed ids.
type Redis struct {
	client   redis.UniversalClient
	capacity int
	ttl      time.Duration
	logger   *slog.Logger
}

type RedisArgs struct {
	Client   redis.UniversalClient
	Capacity int
	TTL      time.Duration
	Logger   *slog.Logger
}

func NewRedis(args *RedisArgs) *Redis {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Redis{
		client:   args.Client,
		capacity: args.Capacity,
		ttl:      args.TTL,
		logger:   args.Logger,
	}
}

func timelineKey(userID int64) string {
	return fmt.Sprintf("timeline:%d", userID)
}

func authorKey(authorID int64) string {
	return fmt.Sprintf("author:%d", authorID)
}

func (r *Redis) Insert(ctx context.Context, userID int64, entry models.TimelineEntry) error {
	member := fmt.Sprintf("%d:%d", entry.PostID, entry.AuthorID)
	ttl := int64(r.ttl.Seconds())

	if err := insertTrim.Run(ctx, r.client, []string{timelineKey(userID)},
		float64(entry.PostID), member, r.capacity, ttl).Err(); err != nil {
		return fmt.Errorf("inserting timeline entry: %w", err)
	}

	return nil
}

func (r *Redis) GetRecent(ctx context.Context, userID int64, limit int, before int64) ([]models.TimelineEntry, error) {
	// The set is bounded by the trim, so pulling it whole and filtering on
	// the exact ids is cheaper than fighting float score precision.
	members, err := r.client.ZRevRange(ctx, timelineKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading timeline: %w", err)
	}

	entries := make([]models.TimelineEntry, 0, limit)
	for _, m := range members {
		ref, err := parseMember(m)
		if err != nil {
			r.logger.Warn("dropping malformed timeline member", "user", userID, "member", m, "error", err)
			continue
		}

		if before > 0 && ref.PostID >= before {
			continue
		}

		entries = append(entries, models.TimelineEntry{PostRef: ref, Reason: models.ReasonPushed})
		if len(entries) == limit {
			break
		}
	}

	return entries, nil
}

func (r *Redis) Remove(ctx context.Context, userID, postID, authorID int64) error {
	member := fmt.Sprintf("%d:%d", postID, authorID)
	if err := r.client.ZRem(ctx, timelineKey(userID), member).Err(); err != nil {
		return fmt.Errorf("removing timeline entry: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, timelineKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidating timeline: %w", err)
	}
	return nil
}

func (r *Redis) InsertAuthor(ctx context.Context, ref models.PostRef) error {
	member := strconv.FormatInt(ref.PostID, 10)

	// The author window doubles the global TTL so read-side pulls keep
	// hitting it between posts from a rarely-posting account.
	ttl := int64((r.ttl * 2).Seconds())

	if err := insertTrim.Run(ctx, r.client, []string{authorKey(ref.AuthorID)},
		float64(ref.PostID), member, r.capacity, ttl).Err(); err != nil {
		return fmt.Errorf("inserting author entry: %w", err)
	}

	return nil
}

func (r *Redis) RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error) {
	members, err := r.client.ZRevRange(ctx, authorKey(authorID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading author window: %w", err)
	}

	refs := make([]models.PostRef, 0, limit)
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			r.logger.Warn("dropping malformed author member", "author", authorID, "member", m, "error", err)
			continue
		}

		if before > 0 && id >= before {
			continue
		}

		refs = append(refs, models.PostRef{PostID: id, AuthorID: authorID})
		if len(refs) == limit {
			break
		}
	}

	return refs, nil
}

func (r *Redis) RemoveAuthor(ctx context.Context, authorID, postID int64) error {
	if err := r.client.ZRem(ctx, authorKey(authorID), strconv.FormatInt(postID, 10)).Err(); err != nil {
		return fmt.Errorf("removing author entry: %w", err)
	}
	return nil
}

func parseMember(m string) (models.PostRef, error) {
	post, author, ok := strings.Cut(m, ":")
	if !ok {
		return models.PostRef{}, fmt.Errorf("member %q missing separator", m)
	}

	postID, err := strconv.ParseInt(post, 10, 64)
	if err != nil {
		return models.PostRef{}, err
	}

	authorID, err := strconv.ParseInt(author, 10, 64)
	if err != nil {
		return models.PostRef{}, err
	}

	return models.PostRef{PostID: postID, AuthorID: authorID}, nil
}
