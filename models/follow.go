package models

// Followee is a followed account annotated with its current follower
// count, as returned by the follow graph accessor.
type Followee struct {
	UserID        int64 `db:"followee_id"`
	FollowerCount int   `db:"follower_count"`
}

// FanoutClass is derived fresh from the follower count on every dispatch
// and every read. It is never stored; persisting it is how threshold
// crossings turn into stale-classification bugs.
type FanoutClass string

const (
	ClassPush FanoutClass = "push"
	ClassPull FanoutClass = "pull"
)

// Classify is the whole fan-out policy: authors at or under the threshold
// are pushed to every follower's cache, the rest are pulled at read time.
func Classify(followerCount, threshold int) FanoutClass {
	if followerCount <= threshold {
		return ClassPush
	}
	return ClassPull
}
