package models

import "time"

// PostRef is the unit the cache and fan-out paths move around. The full
// post body stays in the post store; only references travel.
type PostRef struct {
	PostID   int64 `db:"id" json:"post_id"`
	AuthorID int64 `db:"author_id" json:"author_id"`
}

type Post struct {
	ID        int64     `db:"id" json:"id"`
	AuthorID  int64     `db:"author_id" json:"author_id"`
	Content   string    `db:"content" json:"content"`
	ReplyTo   *int64    `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (p *Post) Ref() PostRef {
	return PostRef{PostID: p.ID, AuthorID: p.AuthorID}
}

// IsReply reports whether the post is a reply. Replies are excluded from
// fan-out and from author timelines.
func (p *Post) IsReply() bool {
	return p.ReplyTo != nil
}
