package models

import (
	"time"
)

// Person is the canonical individual created from a validated row. Rows with
// byte-identical raw attribute maps in the same upload resolve to one Person.
type Person struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	FirstName string       `gorm:"size:255;not null" json:"first_name"`
	LastName  string       `gorm:"size:255;not null" json:"last_name"`
	Dob       time.Time    `gorm:"type:date;not null" json:"dob"`
	Ext       AttributeMap `gorm:"type:json" json:"ext"`
	IsDeleted bool         `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// Core demographic fields every mergeable row must carry.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldDob       = "dob"
)

// DemographicFields are stripped from a row's raw map when building the
// beneficiary extension attributes.
var DemographicFields = []string{FieldFirstName, FieldLastName, FieldDob}

// DobLayout is the date format registrations must use.
const DobLayout = "2006-01-02"
