package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a work item. Transitions are monotonic:
// an item only moves forward through the pipeline, except for an explicit
// retry which resets Failed to Pending with an incremented attempt counter.
type Status string

const (
	StatusPending        Status = "pending"
	StatusResearching    Status = "researching"
	StatusDrafting       Status = "drafting"
	StatusMutating       Status = "mutating"
	StatusReadyToPublish Status = "ready_to_publish"
	StatusPublished      Status = "published"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// statusRank orders the forward path for the monotonicity check. Terminal
// states share the highest rank.
var statusRank = map[Status]int{
	StatusPending:        0,
	StatusResearching:    1,
	StatusDrafting:       2,
	StatusMutating:       3,
	StatusReadyToPublish: 4,
	StatusPublished:      5,
	StatusFailed:         5,
	StatusCancelled:      5,
}

// CanTransition reports whether moving from one status to another respects
// the forward-only rule. The explicit retry reset (Failed -> Pending) is the
// single allowed regression.
func CanTransition(from, to Status) bool {
	if from == StatusFailed && to == StatusPending {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// Terminal reports whether a status ends the pipeline for this attempt.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

// Stage names of the fixed six-stage graph.
const (
	StageResearch = "research"
	StagePlan     = "plan"
	StageImages   = "images"
	StageDraft    = "draft"
	StageMutate   = "mutate"
	StagePublish  = "publish"
)

// WorkItem is one topic-to-publish unit of work.
type WorkItem struct {
	ID                  string    `json:"id"`
	Topic               string    `json:"topic"`
	Language            string    `json:"language"`
	Country             string    `json:"country"`
	TargetWordCount     int       `json:"target_word_count"`
	AvailableCategories []string  `json:"available_categories"`
	CreatedAt           time.Time `json:"created_at"`
	DueAt               time.Time `json:"due_at"`
	Cron                string    `json:"cron,omitempty"` // recurring schedule, empty for one-shot
	Status              Status    `json:"status"`
	Attempt             int       `json:"attempt"`
	LastError           string    `json:"last_error,omitempty"`
	PostID              string    `json:"post_id,omitempty"`
}

// StageResult is one attempt of one stage. Rows are immutable once written;
// exactly one per (work item, stage) is marked accepted when the stage
// succeeds.
type StageResult struct {
	WorkItemID string          `json:"work_item_id"`
	Stage      string          `json:"stage"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	Accepted   bool            `json:"accepted"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store is the persistence boundary the orchestrator and scheduler drive.
type Store interface {
	CreateWorkItem(ctx context.Context, item *WorkItem) error
	GetWorkItem(ctx context.Context, id string) (WorkItem, error)
	UpdateWorkItemStatus(ctx context.Context, id string, status Status, lastError string) error
	SetWorkItemPost(ctx context.Context, id, postID string) error
	ResetForRetry(ctx context.Context, id string) error
	RescheduleWorkItem(ctx context.Context, id string, dueAt time.Time) error

	AppendStageResult(ctx context.Context, res StageResult) error
	StageResults(ctx context.Context, workItemID string) ([]StageResult, error)

	DueWorkItems(ctx context.Context, now time.Time, limit int) ([]WorkItem, error)
}

// IdempotencyKey derives the publish key from the work item and publish
// attempt, so a crash-and-resume or retry cannot double-publish.
func IdempotencyKey(workItemID string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", workItemID, attempt)))
	return hex.EncodeToString(sum[:])
}

var (
	slugStripRe    = regexp.MustCompile(`[^a-z0-9]+`)
	slugCollapseRe = regexp.MustCompile(`-{2,}`)
)

// Slugify turns a title into a URL slug.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStripRe.ReplaceAllString(s, "-")
	s = slugCollapseRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ReadingTime estimates minutes to read at ~200 words per minute, minimum 1.
func ReadingTime(wordCount int) int {
	if wordCount <= 0 {
		return 1
	}
	minutes := (wordCount + 199) / 200
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
