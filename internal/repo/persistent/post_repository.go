package persistent

import (
	"errors"
	"time"

	"postline/internal/entity"
	"postline/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no post exists with the given id.
	ErrNotFound = errors.New("post not found")

	// ErrStaleState is returned when a conditional write matched the id
	// but not the expected status: another writer got there first.
	ErrStaleState = errors.New("post status changed concurrently")
)

type PostRepository interface {
	Create(post *entity.Post) error
	GetByID(id string) (*entity.Post, error)
	ListByStatus(status entity.PostStatus, limit, offset int) ([]*entity.Post, error)
	FindDue(before time.Time, limit int) ([]*entity.Post, error)
	ClaimForPublishing(id string, now time.Time) (bool, error)
	ApplyTransition(id string, expected entity.PostStatus, post *entity.Post) error
	Delete(id string) error
	ReclaimStale(olderThan time.Time) ([]string, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(post *entity.Post) error {
	postModel := ToPostModel(post)
	if postModel.ID == "" {
		postModel.ID = uuid.New().String()
	}

	if err := r.db.Create(postModel).Error; err != nil {
		return err
	}

	*post = *ToPostEntity(postModel)
	return nil
}

func (r *postRepository) GetByID(id string) (*entity.Post, error) {
	var postModel model.PostModel
	if err := r.db.Where("id = ?", id).First(&postModel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ToPostEntity(&postModel), nil
}

func (r *postRepository) ListByStatus(status entity.PostStatus, limit, offset int) ([]*entity.Post, error) {
	var postModels []model.PostModel
	query := r.db.Where("status = ?", string(status)).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	if err := query.Find(&postModels).Error; err != nil {
		return nil, err
	}

	posts := make([]*entity.Post, len(postModels))
	for i := range postModels {
		posts[i] = ToPostEntity(&postModels[i])
	}
	return posts, nil
}

// FindDue returns scheduled posts whose time has arrived, oldest first.
func (r *postRepository) FindDue(before time.Time, limit int) ([]*entity.Post, error) {
	var postModels []model.PostModel
	query := r.db.
		Where("status = ? AND scheduled_time <= ?", string(entity.StatusScheduled), before).
		Order("scheduled_time ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&postModels).Error; err != nil {
		return nil, err
	}

	posts := make([]*entity.Post, len(postModels))
	for i := range postModels {
		posts[i] = ToPostEntity(&postModels[i])
	}
	return posts, nil
}

// ClaimForPublishing is the only path into the publishing status. The
// WHERE clause on the current status makes the claim atomic: of any number
// of concurrent claimers, the database lets exactly one through. A false
// return means another worker already owns the post.
func (r *postRepository) ClaimForPublishing(id string, now time.Time) (bool, error) {
	result := r.db.Model(&model.PostModel{}).
		Where("id = ? AND status = ?", id, string(entity.StatusScheduled)).
		Updates(map[string]interface{}{
			"status":                string(entity.StatusPublishing),
			"schedule_attempted_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ApplyTransition persists an engine decision as one atomic UPDATE,
// guarded on the status the decision was computed from. Every lifecycle
// column is written so the row always matches the engine's snapshot.
func (r *postRepository) ApplyTransition(id string, expected entity.PostStatus, post *entity.Post) error {
	result := r.db.Model(&model.PostModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]interface{}{
			"status":                string(post.Status),
			"platform":              post.Platform,
			"content":               post.Content,
			"scheduled_time":        post.ScheduledTime,
			"schedule_attempted_at": post.ScheduleAttemptedAt,
			"retry_count":           post.RetryCount,
			"last_error":            post.LastError,
			"approved_by":           post.ApprovedBy,
			"rejected_by":           post.RejectedBy,
			"rejected_reason":       post.RejectedReason,
			"archived_reason":       post.ArchivedReason,
			"external_post_id":      post.ExternalPostID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&model.PostModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStaleState
	}
	return nil
}

func (r *postRepository) Delete(id string) error {
	result := r.db.Delete(&model.PostModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStale moves posts stuck in publishing past the deadline to
// failed, counting the lost attempt against the retry budget. This covers
// a worker that crashed between claim and resolution. The reclaimed ids
// are returned so the caller can drop their cached snapshots.
func (r *postRepository) ReclaimStale(olderThan time.Time) ([]string, error) {
	var reclaimed []model.PostModel
	result := r.db.Model(&reclaimed).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("status = ? AND schedule_attempted_at < ?", string(entity.StatusPublishing), olderThan).
		Updates(map[string]interface{}{
			"status":      string(entity.StatusFailed),
			"retry_count": clause.Expr{SQL: "retry_count + ?", Vars: []interface{}{1}},
			"last_error":  "publish attempt abandoned: worker did not resolve the claim",
		})
	if result.Error != nil {
		return nil, result.Error
	}

	ids := make([]string, len(reclaimed))
	for i := range reclaimed {
		ids[i] = reclaimed[i].ID
	}
	return ids, nil
}
