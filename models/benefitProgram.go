package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"gorm.io/gorm"
)

type BenefitProgram struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	Code      string          `gorm:"size:8;not null" json:"code" binding:"required"`
	Name      string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Type      ProgramType     `gorm:"type:enum('INDIVIDUAL','GROUP');not null;default:'INDIVIDUAL'" json:"type"`
	Schema    json.RawMessage `gorm:"type:json" json:"schema"`
	ValidFrom time.Time       `json:"valid_from"`
	ValidTo   *time.Time      `json:"valid_to"`
	IsDeleted bool            `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// validate enforces code/name uniqueness among non-deleted programs and, once
// beneficiaries exist, keeps the program type consistent with the entity kind
// already linked to it.
func (p *BenefitProgram) validate(ctx context.Context, db *gorm.DB) error {
	var count int64
	q := db.WithContext(ctx).Model(&BenefitProgram{}).
		Where("is_deleted = ?", false).
		Where("code = ? OR name = ?", p.Code, p.Name)
	if p.ID != "" {
		q = q.Where("id <> ?", p.ID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("benefit program code and name must be unique")
	}

	if p.ID != "" {
		var linked int64
		switch p.Type {
		case ProgramTypeIndividual:
			if err := db.WithContext(ctx).Model(&GroupBeneficiary{}).Where("program_id = ?", p.ID).Count(&linked).Error; err != nil {
				return err
			}
		case ProgramTypeGroup:
			if err := db.WithContext(ctx).Model(&Beneficiary{}).Where("program_id = ?", p.ID).Count(&linked).Error; err != nil {
				return err
			}
		}
		if linked > 0 {
			return errors.New("program type cannot change once beneficiaries of the other kind exist")
		}
	}
	return nil
}

func SaveBenefitProgram(ctx context.Context, db *gorm.DB, program *BenefitProgram) error {
	if err := program.validate(ctx, db); err != nil {
		return err
	}
	return db.WithContext(ctx).Save(program).Error
}

// GetBenefitProgram fetches a non-deleted program by id.
// (may return ErrorProgramNotFound)
func GetBenefitProgram(ctx context.Context, db *gorm.DB, id string) (*BenefitProgram, error) {
	var program BenefitProgram
	err := db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&program).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorProgramNotFound
		}
		return nil, err
	}
	return &program, nil
}
