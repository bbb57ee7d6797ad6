package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DataSourceRow is one parsed source row. The raw attribute map is immutable
// after creation; only the validation annotation and the person link change.
type DataSourceRow struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	UploadID    string           `gorm:"size:36;index;not null" json:"upload_id"`
	PersonID    *string          `gorm:"size:36;index" json:"person_id"`
	Attributes  AttributeMap     `gorm:"type:json" json:"attributes"`
	Validations ValidationResult `gorm:"type:json" json:"validations"`
	IsDeleted   bool             `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetUploadRows returns all non-deleted rows of an upload in creation order.
func GetUploadRows(ctx context.Context, db *gorm.DB, uploadID string) ([]*DataSourceRow, error) {
	var rows []*DataSourceRow
	err := db.WithContext(ctx).
		Where("upload_id = ? AND is_deleted = ?", uploadID, false).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInvalidUploadRows returns rows still carrying validation errors.
func GetInvalidUploadRows(ctx context.Context, db *gorm.DB, uploadID string) ([]*DataSourceRow, error) {
	var rows []*DataSourceRow
	err := db.WithContext(ctx).
		Where("upload_id = ? AND is_deleted = ?", uploadID, false).
		Where("JSON_LENGTH(validations, '$.validation_errors') > 0").
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
