// Package scheduler runs the periodic due-post scan: claim each due post
// with an atomic conditional update, publish it, and reconcile the outcome
// through the lifecycle service. Multiple instances may run concurrently;
// the claim in the store is the only coordination between them.
package scheduler

import (
	"context"
	"time"

	"postline/internal/entity"
	"postline/internal/publisher"
	"postline/internal/repo/persistent"
	"postline/internal/usecase"
	"postline/pkg/config"
	"postline/pkg/logger"
)

type Scheduler struct {
	postRepo   persistent.PostRepository
	lifecycle  usecase.LifecycleUseCase
	publisher  publisher.Publisher
	logger     *logger.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration

	now func() time.Time
}

func New(
	postRepo persistent.PostRepository,
	lc usecase.LifecycleUseCase,
	pub publisher.Publisher,
	log *logger.Logger,
	cfg *config.Config,
) *Scheduler {
	return &Scheduler{
		postRepo:   postRepo,
		lifecycle:  lc,
		publisher:  pub,
		logger:     log,
		interval:   cfg.SchedulerInterval,
		batchSize:  cfg.SchedulerBatchSize,
		staleAfter: cfg.PublishStaleAfter,
		now:        time.Now,
	}
}

// Run executes scans on a fixed interval until ctx is cancelled. Scans
// never overlap within one instance: the next tick waits for the previous
// scan to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("[SCHEDULER] Starting: interval=%s batch=%d", s.interval, s.batchSize)

	// Catch up on already-due posts instead of waiting out the first tick.
	s.Scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[SCHEDULER] Stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan processes one batch of due posts. Store errors abort the scan only;
// the next interval tries again. Per-post failures never stop the batch.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.now()

	reclaimed, err := s.lifecycle.ReclaimStale(now.Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("[SCHEDULER] Failed to reclaim stale claims: %v", err)
		return
	}
	if reclaimed > 0 {
		s.logger.Warn("[SCHEDULER] Reclaimed %d abandoned publish attempts", reclaimed)
	}

	due, err := s.postRepo.FindDue(now, s.batchSize)
	if err != nil {
		s.logger.Error("[SCHEDULER] Failed to query due posts: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("[SCHEDULER] Found %d due posts", len(due))

	for _, post := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.processDuePost(ctx, post)
	}
}

func (s *Scheduler) processDuePost(ctx context.Context, post *entity.Post) {
	postID := post.ID

	claimed, err := s.lifecycle.ClaimForPublishing(postID, s.now())
	if err != nil {
		s.logger.Error("[SCHEDULER] Failed to claim post %s: %v", postID, err)
		return
	}
	if !claimed {
		// Another worker won the claim. Expected under concurrency.
		s.logger.Info("[SCHEDULER] Post %s already claimed, skipping", postID)
		return
	}

	externalID, err := s.publisher.Publish(ctx, post)
	if err != nil {
		s.logger.Warn("[SCHEDULER] Publish failed for post %s: %v", postID, err)
		if _, recErr := s.lifecycle.PublishFailed(postID, err.Error()); recErr != nil {
			s.logger.Error("[SCHEDULER] Failed to record publish failure for %s: %v", postID, recErr)
		}
		return
	}

	if _, recErr := s.lifecycle.PublishSuccess(postID, externalID); recErr != nil {
		s.logger.Error("[SCHEDULER] Failed to record publish success for %s: %v", postID, recErr)
		return
	}

	s.logger.Info("[SCHEDULER] Published post %s as %s", postID, externalID)
}
