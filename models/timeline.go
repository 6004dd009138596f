package models

// EntryReason records how a PostRef ended up in a timeline page.
type EntryReason string

const (
	// ReasonPushed entries were written into the follower's cache at
	// post-creation time.
	ReasonPushed EntryReason = "pushed"
	// ReasonSynthesized entries are materialized per request from the pull
	// path and never persisted.
	ReasonSynthesized EntryReason = "synthesized"
)

// TimelineEntry is a PostRef placed into a specific user's cached timeline.
type TimelineEntry struct {
	PostRef
	Reason EntryReason `json:"reason"`
}

// FeedPage is one page of a merged home timeline.
type FeedPage struct {
	Posts      []PostRef `json:"posts"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}
