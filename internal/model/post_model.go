package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostModel struct {
	ID                  string     `gorm:"type:uuid;primary_key" json:"id"`
	AuthorID            string     `gorm:"type:uuid;not null;index" json:"author_id"`
	Platform            string     `gorm:"type:varchar(50);not null" json:"platform"`
	Content             string     `gorm:"type:text" json:"content"`
	Status              string     `gorm:"type:varchar(20);not null;default:'draft';index:idx_posts_due,priority:1" json:"status"`
	ScheduledTime       *time.Time `gorm:"index:idx_posts_due,priority:2" json:"scheduled_time"`
	ScheduleAttemptedAt *time.Time `json:"schedule_attempted_at"`
	RetryCount          int        `gorm:"not null;default:0" json:"retry_count"`
	LastError           string     `gorm:"type:text" json:"last_error"`
	ApprovedBy          string     `gorm:"type:varchar(255)" json:"approved_by"`
	RejectedBy          string     `gorm:"type:varchar(255)" json:"rejected_by"`
	RejectedReason      string     `gorm:"type:text" json:"rejected_reason"`
	ArchivedReason      string     `gorm:"type:text" json:"archived_reason"`
	ExternalPostID      string     `gorm:"type:varchar(255)" json:"external_post_id"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (PostModel) TableName() string {
	return "posts"
}

func (p *PostModel) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
