package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haileyok/fanline/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements both the post store and the follow graph accessors
// over a single pool. The engine never mutates follow edges; OnFollow and
// OnUnfollow here exist for the boundary wiring in cmd.
type Postgres struct {
	pool   *pgxpool.Pool
	ids    *IDGen
	logger *slog.Logger
}

type PostgresArgs struct {
	Pool   *pgxpool.Pool
	Node   int64
	Logger *slog.Logger
}

func NewPostgres(args *PostgresArgs) *Postgres {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Postgres{
		pool:   args.Pool,
		ids:    NewIDGen(args.Node),
		logger: args.Logger,
	}
}

func (s *Postgres) Create(ctx context.Context, authorID int64, content string, replyTo *int64) (*models.Post, error) {
	if replyTo != nil {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, *replyTo).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking reply target: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("reply target %d: %w", *replyTo, ErrNotFound)
		}
	}

	p := &models.Post{
		ID:       s.ids.Next(),
		AuthorID: authorID,
		Content:  content,
		ReplyTo:  replyTo,
	}

	if err := s.pool.QueryRow(ctx,
		`INSERT INTO posts (id, author_id, content, reply_to_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		p.ID, p.AuthorID, p.Content, p.ReplyTo).Scan(&p.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting post: %w", err)
	}

	return p, nil
}

func (s *Postgres) Get(ctx context.Context, postID int64) (*models.Post, error) {
	var p models.Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, author_id, content, reply_to_id, created_at
		 FROM posts WHERE id = $1`, postID).
		Scan(&p.ID, &p.AuthorID, &p.Content, &p.ReplyTo, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching post: %w", err)
	}

	return &p, nil
}

func (s *Postgres) Delete(ctx context.Context, postID, authorID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM posts WHERE id = $1 AND author_id = $2`, postID, authorID)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// RecentByAuthor returns the author's own top-level posts, newest first.
// before <= 0 means no cursor.
func (s *Postgres) RecentByAuthor(ctx context.Context, authorID int64, limit int, before int64) ([]models.PostRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id FROM posts
		 WHERE author_id = $1 AND reply_to_id IS NULL AND ($2 <= 0 OR id < $2)
		 ORDER BY id DESC LIMIT $3`,
		authorID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching author posts: %w", err)
	}
	defer rows.Close()

	var refs []models.PostRef
	for rows.Next() {
		var r models.PostRef
		if err := rows.Scan(&r.PostID, &r.AuthorID); err != nil {
			return nil, fmt.Errorf("scanning post ref: %w", err)
		}
		refs = append(refs, r)
	}

	return refs, rows.Err()
}

// RecentByAuthors is the rebuild path: recent top-level posts across a set
// of followees in one round trip.
func (s *Postgres) RecentByAuthors(ctx context.Context, authorIDs []int64, limit int, before int64) ([]models.PostRef, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id FROM posts
		 WHERE author_id = ANY($1) AND reply_to_id IS NULL AND ($2 <= 0 OR id < $2)
		 ORDER BY id DESC LIMIT $3`,
		authorIDs, before, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching followee posts: %w", err)
	}
	defer rows.Close()

	var refs []models.PostRef
	for rows.Next() {
		var r models.PostRef
		if err := rows.Scan(&r.PostID, &r.AuthorID); err != nil {
			return nil, fmt.Errorf("scanning post ref: %w", err)
		}
		refs = append(refs, r)
	}

	return refs, rows.Err()
}

func (s *Postgres) FollowerCount(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM follows WHERE followee_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting followers: %w", err)
	}

	return n, nil
}

func (s *Postgres) Followers(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT follower_id FROM follows WHERE followee_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching followers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning follower id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Followees returns every account the user follows, each annotated with
// its current follower count so callers can classify it fresh.
func (s *Postgres) Followees(ctx context.Context, userID int64) ([]models.Followee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.followee_id, count(fc.follower_id)
		 FROM follows f
		 LEFT JOIN follows fc ON fc.followee_id = f.followee_id
		 WHERE f.follower_id = $1
		 GROUP BY f.followee_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching followees: %w", err)
	}
	defer rows.Close()

	var out []models.Followee
	for rows.Next() {
		var fe models.Followee
		if err := rows.Scan(&fe.UserID, &fe.FollowerCount); err != nil {
			return nil, fmt.Errorf("scanning followee: %w", err)
		}
		out = append(out, fe)
	}

	return out, rows.Err()
}

func (s *Postgres) IsFollowing(ctx context.Context, followerID, followeeID int64) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`,
		followerID, followeeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking follow edge: %w", err)
	}

	return exists, nil
}

func (s *Postgres) Follow(ctx context.Context, followerID, followeeID int64) error {
	if followerID == followeeID {
		return fmt.Errorf("user %d cannot follow themselves", followerID)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, followerID, followeeID); err != nil {
		return fmt.Errorf("inserting follow edge: %w", err)
	}

	return nil
}

func (s *Postgres) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID); err != nil {
		return fmt.Errorf("deleting follow edge: %w", err)
	}

	return nil
}
