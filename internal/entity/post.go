package entity

import "time"

type PostStatus string

const (
	StatusDraft       PostStatus = "draft"
	StatusNeedsReview PostStatus = "needs_review"
	StatusApproved    PostStatus = "approved"
	StatusRejected    PostStatus = "rejected"
	StatusScheduled   PostStatus = "scheduled"
	StatusPublishing  PostStatus = "publishing"
	StatusPublished   PostStatus = "published"
	StatusFailed      PostStatus = "failed"
	StatusArchived    PostStatus = "archived"

	// StatusDeleted is never persisted: a transition into it means the
	// row is hard-deleted.
	StatusDeleted PostStatus = "deleted"
)

// Post is the unit under lifecycle control. Status moves only through the
// lifecycle engine; the only exception is the scheduler's claim, which
// moves scheduled → publishing with a conditional update in the store.
type Post struct {
	ID                  string     `json:"id"`
	AuthorID            string     `json:"author_id"`
	Platform            string     `json:"platform"`
	Content             string     `json:"content"`
	Status              PostStatus `json:"status"`
	ScheduledTime       *time.Time `json:"scheduled_time,omitempty"`
	ScheduleAttemptedAt *time.Time `json:"schedule_attempted_at,omitempty"`
	RetryCount          int        `json:"retry_count"`
	LastError           string     `json:"last_error,omitempty"`
	ApprovedBy          string     `json:"approved_by,omitempty"`
	RejectedBy          string     `json:"rejected_by,omitempty"`
	RejectedReason      string     `json:"rejected_reason,omitempty"`
	ArchivedReason      string     `json:"archived_reason,omitempty"`
	ExternalPostID      string     `json:"external_post_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
