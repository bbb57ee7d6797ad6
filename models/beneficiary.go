package models

import (
	"time"
)

// Beneficiary links a Person to an INDIVIDUAL benefit program. Its status
// tracks program participation only, independent of the Person lifecycle.
type Beneficiary struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	PersonID  string            `gorm:"size:36;index;not null" json:"person_id"`
	ProgramID string            `gorm:"size:36;index;not null" json:"program_id"`
	Status    BeneficiaryStatus `gorm:"type:enum('POTENTIAL','ACTIVE','GRADUATED','SUSPENDED');not null;default:'POTENTIAL'" json:"status"`
	Ext       AttributeMap      `gorm:"type:json" json:"ext"`
	IsDeleted bool              `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// GroupBeneficiary links a registered group head to a GROUP benefit program.
// The person reference is the registering head of the group.
type GroupBeneficiary struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	PersonID  string            `gorm:"size:36;index;not null" json:"person_id"`
	ProgramID string            `gorm:"size:36;index;not null" json:"program_id"`
	Status    BeneficiaryStatus `gorm:"type:enum('POTENTIAL','ACTIVE','GRADUATED','SUSPENDED');not null;default:'POTENTIAL'" json:"status"`
	Ext       AttributeMap      `gorm:"type:json" json:"ext"`
	IsDeleted bool              `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
