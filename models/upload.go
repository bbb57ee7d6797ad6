package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"gorm.io/gorm"
)

// Upload is an append-only audit record of one bulk registration attempt.
// It is never physically deleted.
type Upload struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	SourceName string       `gorm:"size:255;not null" json:"source_name"`
	SourceType string       `gorm:"size:100;not null" json:"source_type"`
	Status     UploadStatus `gorm:"type:enum('PENDING','TRIGGERED','SUCCESS','PARTIAL_SUCCESS','FAIL');not null;default:'PENDING'" json:"status"`
	Error      JSONMap      `gorm:"type:json" json:"error"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUpload(ctx context.Context, db *gorm.DB, id string) (*Upload, error) {
	var upload Upload
	err := db.WithContext(ctx).Where("id = ?", id).First(&upload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &upload, nil
}

// SetUploadStatus is the single place upload status transitions happen outside
// of the merge transaction; transitions are one atomic UPDATE each.
func SetUploadStatus(ctx context.Context, db *gorm.DB, id string, status UploadStatus) error {
	return db.WithContext(ctx).Model(&Upload{}).Where("id = ?", id).
		Update("status", status).Error
}

// ProgramUploadRecord links an upload to the program and workflow it was
// ingested for; the gate reads it back when a review task resolves.
type ProgramUploadRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UploadID  string    `gorm:"size:36;index;not null" json:"upload_id"`
	ProgramID string    `gorm:"size:36;index;not null" json:"program_id"`
	Workflow  string    `gorm:"size:100;not null" json:"workflow"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetProgramUploadRecord(ctx context.Context, db *gorm.DB, id string) (*ProgramUploadRecord, error) {
	var record ProgramUploadRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func GetProgramUploadRecordByUpload(ctx context.Context, db *gorm.DB, uploadID string) (*ProgramUploadRecord, error) {
	var record ProgramUploadRecord
	err := db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}
