// Package lifecycle implements the post transition engine: a pure,
// table-driven state machine. Apply never touches storage; it decides a
// transition and returns the updated snapshot for the caller to persist.
package lifecycle

import (
	"fmt"
	"time"

	"postline/internal/entity"
)

type Event string

const (
	EventSubmitForReview Event = "submit_for_review"
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventEdit            Event = "edit"
	EventSchedule        Event = "schedule"
	EventUnschedule      Event = "unschedule"
	EventPublishSuccess  Event = "publish_success"
	EventPublishFailed   Event = "publish_failed"
	EventRetry           Event = "retry"
	EventArchive         Event = "archive"
	EventDelete          Event = "delete"
)

// MaxRetries bounds the failed → scheduled retry cycle. Beyond the cap the
// post stays failed until a human unschedules or archives it.
const MaxRetries = 3

// Payload carries event-specific inputs. Unused fields are ignored by
// events that don't read them.
type Payload struct {
	Actor         string
	Reason        string
	Content       string
	Platform      string
	ScheduledTime *time.Time
	ExternalID    string
}

type transition struct {
	to    entity.PostStatus
	guard func(entity.Post, Payload) error
	apply func(*entity.Post, Payload)
}

// eventOrder fixes the iteration order so LegalEvents is deterministic.
var eventOrder = []Event{
	EventSubmitForReview,
	EventApprove,
	EventReject,
	EventEdit,
	EventSchedule,
	EventUnschedule,
	EventPublishSuccess,
	EventPublishFailed,
	EventRetry,
	EventArchive,
	EventDelete,
}

var transitions = map[entity.PostStatus]map[Event]transition{
	entity.StatusDraft: {
		EventSubmitForReview: {to: entity.StatusNeedsReview},
		EventArchive:         {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:          {to: entity.StatusDeleted},
	},
	entity.StatusNeedsReview: {
		EventApprove: {to: entity.StatusApproved, apply: applyApprove},
		EventReject:  {to: entity.StatusRejected, apply: applyReject},
		EventEdit:    {to: entity.StatusDraft, apply: applyEdit},
		EventArchive: {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:  {to: entity.StatusDeleted},
	},
	entity.StatusApproved: {
		EventSchedule: {to: entity.StatusScheduled, guard: guardSchedule, apply: applySchedule},
		EventEdit:     {to: entity.StatusNeedsReview, apply: applyEdit},
		EventArchive:  {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:   {to: entity.StatusDeleted},
	},
	entity.StatusRejected: {
		EventEdit:    {to: entity.StatusDraft, apply: applyEdit},
		EventArchive: {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:  {to: entity.StatusDeleted},
	},
	entity.StatusScheduled: {
		EventPublishSuccess: {to: entity.StatusPublished, apply: applyPublishSuccess},
		EventPublishFailed:  {to: entity.StatusFailed, apply: applyPublishFailed},
		EventUnschedule:     {to: entity.StatusApproved, apply: applyUnschedule},
		EventArchive:        {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:         {to: entity.StatusDeleted},
	},
	// A claimed post can only resolve. Unschedule and archive must wait
	// for the in-flight attempt.
	entity.StatusPublishing: {
		EventPublishSuccess: {to: entity.StatusPublished, apply: applyPublishSuccess},
		EventPublishFailed:  {to: entity.StatusFailed, apply: applyPublishFailed},
	},
	entity.StatusPublished: {
		EventArchive: {to: entity.StatusArchived, apply: applyArchive},
	},
	entity.StatusFailed: {
		EventRetry:      {to: entity.StatusScheduled, guard: guardRetry},
		EventUnschedule: {to: entity.StatusApproved, apply: applyUnschedule},
		EventArchive:    {to: entity.StatusArchived, apply: applyArchive},
		EventDelete:     {to: entity.StatusDeleted},
	},
	entity.StatusArchived: {
		EventEdit:   {to: entity.StatusDraft, apply: applyEdit},
		EventDelete: {to: entity.StatusDeleted},
	},
}

// Apply evaluates the transition table for (post.Status, ev) and returns a
// copy of the post with the new status and side effects applied. The input
// is never mutated. An unknown pairing or a failed guard returns an
// InvalidTransitionError.
func Apply(post entity.Post, ev Event, p Payload) (entity.Post, error) {
	byEvent, ok := transitions[post.Status]
	if !ok {
		return post, &InvalidTransitionError{Status: post.Status, Event: ev, Legal: LegalEvents(post.Status)}
	}

	t, ok := byEvent[ev]
	if !ok {
		return post, &InvalidTransitionError{Status: post.Status, Event: ev, Legal: LegalEvents(post.Status)}
	}

	if t.guard != nil {
		if err := t.guard(post, p); err != nil {
			return post, &InvalidTransitionError{Status: post.Status, Event: ev, Legal: LegalEvents(post.Status), Reason: err.Error()}
		}
	}

	next := post
	if t.apply != nil {
		t.apply(&next, p)
	}
	next.Status = t.to
	return next, nil
}

// LegalEvents returns the events accepted from the given status, in a
// stable order.
func LegalEvents(status entity.PostStatus) []Event {
	byEvent, ok := transitions[status]
	if !ok {
		return nil
	}
	legal := make([]Event, 0, len(byEvent))
	for _, ev := range eventOrder {
		if _, ok := byEvent[ev]; ok {
			legal = append(legal, ev)
		}
	}
	return legal
}

func guardRetry(post entity.Post, _ Payload) error {
	if post.RetryCount >= MaxRetries {
		return fmt.Errorf("retry limit of %d reached", MaxRetries)
	}
	return nil
}

func guardSchedule(_ entity.Post, p Payload) error {
	if p.ScheduledTime == nil {
		return fmt.Errorf("scheduled time is required")
	}
	return nil
}

func applyApprove(post *entity.Post, p Payload) {
	post.ApprovedBy = p.Actor
	post.RejectedBy = ""
	post.RejectedReason = ""
}

func applyReject(post *entity.Post, p Payload) {
	post.RejectedBy = p.Actor
	post.RejectedReason = p.Reason
	post.ApprovedBy = ""
}

// applyEdit replaces content when given and wipes the failure trace. When
// the edit lands the post back in draft, provenance resets with it.
func applyEdit(post *entity.Post, p Payload) {
	if p.Content != "" {
		post.Content = p.Content
	}
	post.LastError = ""

	if editTarget(post.Status) == entity.StatusDraft {
		post.ApprovedBy = ""
		post.RejectedBy = ""
		post.RejectedReason = ""
		post.ArchivedReason = ""
	}
}

func applySchedule(post *entity.Post, p Payload) {
	post.ScheduledTime = p.ScheduledTime
	if p.Platform != "" {
		post.Platform = p.Platform
	}
}

func applyUnschedule(post *entity.Post, _ Payload) {
	post.ScheduledTime = nil
	post.ScheduleAttemptedAt = nil
}

func applyPublishSuccess(post *entity.Post, p Payload) {
	post.ExternalPostID = p.ExternalID
	post.LastError = ""
	post.ScheduledTime = nil
	post.ScheduleAttemptedAt = nil
}

func applyPublishFailed(post *entity.Post, p Payload) {
	reason := p.Reason
	if reason == "" {
		reason = "publish failed"
	}
	post.LastError = reason
	post.RetryCount++
}

func applyArchive(post *entity.Post, p Payload) {
	post.ArchivedReason = archiveReason(*post, p)
	post.ScheduledTime = nil
	post.ScheduleAttemptedAt = nil
}

// archiveReason records the prior provenance for audit, e.g.
// "stale campaign (was approved by alice)".
func archiveReason(post entity.Post, p Payload) string {
	var provenance string
	switch {
	case post.ApprovedBy != "":
		provenance = fmt.Sprintf("was approved by %s", post.ApprovedBy)
	case post.RejectedBy != "":
		provenance = fmt.Sprintf("was rejected by %s", post.RejectedBy)
	default:
		provenance = fmt.Sprintf("was %s", post.Status)
	}

	if p.Reason == "" {
		return provenance
	}
	return fmt.Sprintf("%s (%s)", p.Reason, provenance)
}

// editTarget mirrors the table's EDIT rows. It cannot read the table
// itself: the table references applyEdit during package initialization.
func editTarget(status entity.PostStatus) entity.PostStatus {
	switch status {
	case entity.StatusNeedsReview, entity.StatusRejected, entity.StatusArchived:
		return entity.StatusDraft
	case entity.StatusApproved:
		return entity.StatusNeedsReview
	}
	return status
}
