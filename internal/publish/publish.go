package publish

import (
	"context"
	"errors"
	"time"
)

// Envelope is the final artifact handed to the CMS. The idempotency key is
// derived from (work item, attempt) so a retried publish cannot create a
// duplicate post.
type Envelope struct {
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	HTML           string    `json:"html"`
	Category       string    `json:"category"`
	MetaDesc       string    `json:"meta_description"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Publisher is the CMS boundary. CreatePost must be idempotent for a given
// idempotency key.
type Publisher interface {
	CreatePost(ctx context.Context, env Envelope) (postID string, err error)
}

var (
	// ErrRejected indicates the CMS refused the post for content reasons.
	// Never retried.
	ErrRejected = errors.New("publish: rejected")
	// ErrUnauthorized indicates bad credentials. Never retried; retrying
	// cannot fix a credential problem.
	ErrUnauthorized = errors.New("publish: unauthorized")
)

// Retryable reports whether a publish failure is worth another attempt.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrRejected) && !errors.Is(err, ErrUnauthorized)
}

// ClampSchedule enforces the minimum lead time: a post can never be
// scheduled closer to now than the configured lead, so the CMS always sees a
// future timestamp even after pipeline delays.
func ClampSchedule(scheduledAt, now time.Time, lead time.Duration) time.Time {
	earliest := now.Add(lead)
	if scheduledAt.Before(earliest) {
		return earliest
	}
	return scheduledAt
}
