package persistent

import (
	"postline/internal/entity"
	"postline/internal/model"
)

func ToPostEntity(m *model.PostModel) *entity.Post {
	if m == nil {
		return nil
	}

	return &entity.Post{
		ID:                  m.ID,
		AuthorID:            m.AuthorID,
		Platform:            m.Platform,
		Content:             m.Content,
		Status:              entity.PostStatus(m.Status),
		ScheduledTime:       m.ScheduledTime,
		ScheduleAttemptedAt: m.ScheduleAttemptedAt,
		RetryCount:          m.RetryCount,
		LastError:           m.LastError,
		ApprovedBy:          m.ApprovedBy,
		RejectedBy:          m.RejectedBy,
		RejectedReason:      m.RejectedReason,
		ArchivedReason:      m.ArchivedReason,
		ExternalPostID:      m.ExternalPostID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func ToPostModel(e *entity.Post) *model.PostModel {
	if e == nil {
		return nil
	}

	return &model.PostModel{
		ID:                  e.ID,
		AuthorID:            e.AuthorID,
		Platform:            e.Platform,
		Content:             e.Content,
		Status:              string(e.Status),
		ScheduledTime:       e.ScheduledTime,
		ScheduleAttemptedAt: e.ScheduleAttemptedAt,
		RetryCount:          e.RetryCount,
		LastError:           e.LastError,
		ApprovedBy:          e.ApprovedBy,
		RejectedBy:          e.RejectedBy,
		RejectedReason:      e.RejectedReason,
		ArchivedReason:      e.ArchivedReason,
		ExternalPostID:      e.ExternalPostID,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}
