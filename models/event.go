package models

const (
	EventPostCreated = "post_created"
	EventPostDeleted = "post_deleted"
)

// Event is the realtime delivery payload handed to the transport layer.
// Delivery is at-least-once; consumers dedup on PostID.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	PostID   int64  `json:"post_id"`
	AuthorID int64  `json:"author_id"`
}
