package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"gorm.io/gorm"
)

// DecisionMap records reviewer decisions keyed by reviewer id
// (DecisionApproved / DecisionFailed).
type DecisionMap map[string]string

func (m DecisionMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *DecisionMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// ReviewTask gates merge-on-failure behind human review. EntityID points at
// the ProgramUploadRecord of the upload under review.
type ReviewTask struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	EntityID      string      `gorm:"size:36;index;not null" json:"entity_id"`
	BusinessEvent string      `gorm:"size:100;not null" json:"business_event"`
	Status        TaskStatus  `gorm:"type:enum('RECEIVED','ACCEPTED','COMPLETED','FAILED');not null;default:'RECEIVED'" json:"status"`
	Data          JSONMap     `gorm:"type:json" json:"data"`
	Decisions     DecisionMap `gorm:"type:json" json:"decisions"`
	Resolution    JSONMap     `gorm:"type:json" json:"resolution"`
	TaskGroupID   *string     `gorm:"size:36;index" json:"task_group_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TaskGroup carries the completion policy its tasks are resolved under.
// ApprovalThreshold is only read for the N policy.
type TaskGroup struct {
	ID                string           `gorm:"primaryKey;size:36" json:"id"`
	Name              string           `gorm:"size:100;not null" json:"name"`
	CompletionPolicy  CompletionPolicy `gorm:"type:enum('ALL','ANY','N');not null;default:'ALL'" json:"completion_policy"`
	ApprovalThreshold int              `gorm:"not null;default:0" json:"approval_threshold"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// TaskExecutor is one reviewer assigned through a task group.
type TaskExecutor struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TaskGroupID string    `gorm:"size:36;index;not null" json:"task_group_id"`
	UserID      string    `gorm:"size:36;not null" json:"user_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetReviewTask(ctx context.Context, db *gorm.DB, id string) (*ReviewTask, error) {
	var task ReviewTask
	err := db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func CountTaskExecutors(ctx context.Context, db *gorm.DB, taskGroupID string) (int, error) {
	var count int64
	err := db.WithContext(ctx).Model(&TaskExecutor{}).
		Where("task_group_id = ?", taskGroupID).Count(&count).Error
	return int(count), err
}
