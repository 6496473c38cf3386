package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"postline/internal/entity"
	"postline/internal/lifecycle"
	"postline/internal/repo/persistent"
	"postline/pkg/logger"
	"postline/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// Routing keys published to the post.events exchange.
const (
	TopicStateChanged      = "post.state.changed"
	TopicApproved          = "post.approved"
	TopicRejected          = "post.rejected"
	TopicPublished         = "post.published"
	TopicPublicationFailed = "post.publication.failed"
	TopicTransitionInvalid = "post.transition.invalid"
)

const postCacheTTL = 24 * time.Hour

// LifecycleUseCase is the only caller of the transition engine. It bridges
// pure decisions to the store: load, decide, persist atomically, emit.
type LifecycleUseCase interface {
	CreateDraft(authorID, platform, content string) (*entity.Post, error)
	GetPost(postID string) (*entity.Post, error)
	ListByStatus(status entity.PostStatus, limit, offset int) ([]*entity.Post, error)

	Execute(postID string, ev lifecycle.Event, p lifecycle.Payload) (*entity.Post, error)

	SubmitForReview(postID string) (*entity.Post, error)
	Approve(postID, actor string) (*entity.Post, error)
	Reject(postID, actor, reason string) (*entity.Post, error)
	Edit(postID, content string) (*entity.Post, error)
	Schedule(postID string, at time.Time, platform string) (*entity.Post, error)
	Unschedule(postID string) (*entity.Post, error)
	Retry(postID string) (*entity.Post, error)
	Archive(postID, reason string) (*entity.Post, error)
	Delete(postID string) error
	PublishSuccess(postID, externalID string) (*entity.Post, error)
	PublishFailed(postID, reason string) (*entity.Post, error)

	// Scheduler-facing operations. They change status outside the engine
	// (the claim is the store's concern), so they must come through here
	// to keep the cache honest.
	ClaimForPublishing(postID string, now time.Time) (bool, error)
	ReclaimStale(olderThan time.Time) (int64, error)
}

type lifecycleUseCase struct {
	postRepo    persistent.PostRepository
	redisClient *redis.Client
	queueClient *queue.Client
	logger      *logger.Logger
}

func NewLifecycleUseCase(
	postRepo persistent.PostRepository,
	redisClient *redis.Client,
	queueClient *queue.Client,
	logger *logger.Logger,
) LifecycleUseCase {
	return &lifecycleUseCase{
		postRepo:    postRepo,
		redisClient: redisClient,
		queueClient: queueClient,
		logger:      logger,
	}
}

func (uc *lifecycleUseCase) CreateDraft(authorID, platform, content string) (*entity.Post, error) {
	post := &entity.Post{
		AuthorID: authorID,
		Platform: platform,
		Content:  content,
		Status:   entity.StatusDraft,
	}

	if err := uc.postRepo.Create(post); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	return post, nil
}

func (uc *lifecycleUseCase) GetPost(postID string) (*entity.Post, error) {
	if cached := uc.cachedPost(postID); cached != nil {
		return cached, nil
	}

	post, err := uc.postRepo.GetByID(postID)
	if err != nil {
		return nil, err
	}

	uc.cachePost(post)
	return post, nil
}

func (uc *lifecycleUseCase) ListByStatus(status entity.PostStatus, limit, offset int) ([]*entity.Post, error) {
	return uc.postRepo.ListByStatus(status, limit, offset)
}

// Execute runs one transition: load the current snapshot, ask the engine,
// persist the accepted result as a single conditional write, then emit the
// lifecycle events. A rejected transition mutates nothing.
func (uc *lifecycleUseCase) Execute(postID string, ev lifecycle.Event, p lifecycle.Payload) (*entity.Post, error) {
	post, err := uc.postRepo.GetByID(postID)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Apply(*post, ev, p)
	if err != nil {
		uc.emit(TopicTransitionInvalid, map[string]interface{}{
			"post_id": postID,
			"status":  string(post.Status),
			"event":   string(ev),
			"error":   err.Error(),
		})
		return nil, err
	}

	if next.Status == entity.StatusDeleted {
		if err := uc.postRepo.Delete(postID); err != nil {
			return nil, err
		}
	} else {
		if err := uc.postRepo.ApplyTransition(postID, post.Status, &next); err != nil {
			return nil, err
		}
	}

	uc.invalidateCache(postID)
	uc.emitTransition(post.Status, &next, ev)

	return &next, nil
}

func (uc *lifecycleUseCase) SubmitForReview(postID string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventSubmitForReview, lifecycle.Payload{})
}

func (uc *lifecycleUseCase) Approve(postID, actor string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventApprove, lifecycle.Payload{Actor: actor})
}

func (uc *lifecycleUseCase) Reject(postID, actor, reason string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventReject, lifecycle.Payload{Actor: actor, Reason: reason})
}

func (uc *lifecycleUseCase) Edit(postID, content string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventEdit, lifecycle.Payload{Content: content})
}

func (uc *lifecycleUseCase) Schedule(postID string, at time.Time, platform string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventSchedule, lifecycle.Payload{ScheduledTime: &at, Platform: platform})
}

func (uc *lifecycleUseCase) Unschedule(postID string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventUnschedule, lifecycle.Payload{})
}

func (uc *lifecycleUseCase) Retry(postID string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventRetry, lifecycle.Payload{})
}

func (uc *lifecycleUseCase) Archive(postID, reason string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventArchive, lifecycle.Payload{Reason: reason})
}

func (uc *lifecycleUseCase) Delete(postID string) error {
	_, err := uc.Execute(postID, lifecycle.EventDelete, lifecycle.Payload{})
	return err
}

func (uc *lifecycleUseCase) PublishSuccess(postID, externalID string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventPublishSuccess, lifecycle.Payload{ExternalID: externalID})
}

func (uc *lifecycleUseCase) PublishFailed(postID, reason string) (*entity.Post, error) {
	return uc.Execute(postID, lifecycle.EventPublishFailed, lifecycle.Payload{Reason: reason})
}

// ClaimForPublishing delegates the atomic claim to the store and drops
// the cached snapshot on success, so readers never see a stale scheduled
// status while the publish attempt is in flight.
func (uc *lifecycleUseCase) ClaimForPublishing(postID string, now time.Time) (bool, error) {
	claimed, err := uc.postRepo.ClaimForPublishing(postID, now)
	if err != nil || !claimed {
		return claimed, err
	}
	uc.invalidateCache(postID)
	return true, nil
}

// ReclaimStale sweeps abandoned publish attempts to failed and drops each
// reclaimed post's cached snapshot.
func (uc *lifecycleUseCase) ReclaimStale(olderThan time.Time) (int64, error) {
	ids, err := uc.postRepo.ReclaimStale(olderThan)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		uc.invalidateCache(id)
	}
	return int64(len(ids)), nil
}

func (uc *lifecycleUseCase) emitTransition(previous entity.PostStatus, post *entity.Post, ev lifecycle.Event) {
	payload := map[string]interface{}{
		"post_id":        post.ID,
		"previous_state": string(previous),
		"new_state":      string(post.Status),
		"event":          string(ev),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	uc.emit(TopicStateChanged, payload)

	switch ev {
	case lifecycle.EventApprove:
		uc.emit(TopicApproved, map[string]interface{}{
			"post_id":     post.ID,
			"approved_by": post.ApprovedBy,
		})
	case lifecycle.EventReject:
		uc.emit(TopicRejected, map[string]interface{}{
			"post_id":         post.ID,
			"rejected_by":     post.RejectedBy,
			"rejected_reason": post.RejectedReason,
		})
	case lifecycle.EventPublishSuccess:
		uc.emit(TopicPublished, map[string]interface{}{
			"post_id":          post.ID,
			"platform":         post.Platform,
			"external_post_id": post.ExternalPostID,
		})
	case lifecycle.EventPublishFailed:
		uc.emit(TopicPublicationFailed, map[string]interface{}{
			"post_id":     post.ID,
			"platform":    post.Platform,
			"retry_count": post.RetryCount,
			"last_error":  post.LastError,
		})
	}
}

// emit is fire-and-forget: the event sink is best effort and must never
// block or fail a transition.
func (uc *lifecycleUseCase) emit(topic string, payload map[string]interface{}) {
	if uc.queueClient == nil {
		return
	}
	go func() {
		if err := uc.queueClient.PublishEvent(topic, payload); err != nil {
			uc.logger.Warn("[EVENTS] Failed to publish %s: %v", topic, err)
		}
	}()
}

func (uc *lifecycleUseCase) cachedPost(postID string) *entity.Post {
	if uc.redisClient == nil {
		return nil
	}

	ctx := context.Background()
	data, err := uc.redisClient.Get(ctx, postCacheKey(postID)).Result()
	if err != nil {
		return nil
	}

	var post entity.Post
	if err := json.Unmarshal([]byte(data), &post); err != nil {
		return nil
	}
	return &post
}

func (uc *lifecycleUseCase) cachePost(post *entity.Post) {
	if uc.redisClient == nil {
		return
	}

	data, err := json.Marshal(post)
	if err != nil {
		return
	}

	ctx := context.Background()
	if err := uc.redisClient.Set(ctx, postCacheKey(post.ID), data, postCacheTTL).Err(); err != nil {
		uc.logger.Warn("[CACHE] Failed to cache post %s: %v", post.ID, err)
	}
}

func (uc *lifecycleUseCase) invalidateCache(postID string) {
	if uc.redisClient == nil {
		return
	}

	ctx := context.Background()
	if err := uc.redisClient.Del(ctx, postCacheKey(postID)).Err(); err != nil {
		uc.logger.Warn("[CACHE] Failed to invalidate post %s: %v", postID, err)
	}
}

func postCacheKey(postID string) string {
	return fmt.Sprintf("post:%s", postID)
}
