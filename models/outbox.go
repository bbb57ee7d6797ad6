package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"gorm.io/gorm"
)

// Transactional outbox for workflow hand-off: the event row is written inside
// the caller's DB transaction but is NOT published directly. Publishing is
// performed asynchronously by the outbox dispatcher after commit, giving the
// workflow engine at-least-once delivery.

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Pipeline stage events.
const (
	WorkflowEventUploadIngested  = "upload.ingested"
	WorkflowEventTaskApproved    = "task.approved"
	WorkflowEventMergeRequested  = "merge.requested"
	WorkflowEventUploadFinalized = "upload.finalized"
)

// WorkflowEventPayload is the documented payload schema carried on the
// workflow event channel.
type WorkflowEventPayload struct {
	UserUUID           string   `json:"user_uuid"`
	BenefitProgramUUID string   `json:"benefit_program_uuid"`
	UploadUUID         string   `json:"upload_uuid"`
	Workflow           string   `json:"workflow"`
	Accepted           []string `json:"accepted,omitempty"`
	Status             string   `json:"status,omitempty"`
}

type WorkflowEventRecord struct {
	ID               int        `gorm:"primary_key" json:"id"`
	Event            string     `gorm:"size:100;not null;index" json:"event"`
	UploadID         string     `gorm:"size:36;index;not null" json:"upload_id"`
	Payload          []byte     `gorm:"type:json" json:"payload"`
	CorrelationId    string     `gorm:"size:36" json:"correlation_id"`
	IsProcessed      bool       `gorm:"not null;default:false" json:"is_processed"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"size:1000" json:"last_publish_error"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:36" json:"locked_by"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// EmitWorkflowEvent writes the event record inside the caller's transaction.
func EmitWorkflowEvent(ctx context.Context, db *gorm.DB, event string, payload WorkflowEventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := WorkflowEventRecord{
		Event:         event,
		UploadID:      payload.UploadUUID,
		Payload:       body,
		CorrelationId: utils.CorrelationIdFromContextOrNew(ctx),
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
	}
	return db.WithContext(ctx).Create(&record).Error
}
