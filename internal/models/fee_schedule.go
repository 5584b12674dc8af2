package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tranche is a named, ordered fee installment of a school year.
// Only Deadline and IsActive may change after creation.
type Tranche struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	SchoolYearID     uint                `gorm:"not null;index" json:"school_year_id"`
	Name             string              `gorm:"size:100;not null" json:"name"`
	SortOrder        int                 `gorm:"not null" json:"order"`
	Deadline         *time.Time          `gorm:"type:date" json:"deadline"`
	UseDefaultAmount bool                `gorm:"not null" json:"use_default_amount"`
	DefaultAmount    decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"default_amount"`
	IsRequired       bool                `gorm:"not null" json:"is_required"`
	IsActive         bool                `gorm:"not null" json:"is_active"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// TableName specifies the table name for Tranche
func (Tranche) TableName() string {
	return "tranches"
}

// ClassRequiredAmount is the amount a class owes for a tranche
type ClassRequiredAmount struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	ClassID   uint            `gorm:"not null;uniqueIndex:ux_class_required_amounts_class_tranche" json:"class_id"`
	TrancheID uint            `gorm:"not null;uniqueIndex:ux_class_required_amounts_class_tranche" json:"tranche_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	// OldStudentAmount replaces Amount for returning students when set
	OldStudentAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"old_student_amount"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// TableName specifies the table name for ClassRequiredAmount
func (ClassRequiredAmount) TableName() string {
	return "class_required_amounts"
}

// AmountFor returns the amount owed by a student with the given status
func (a *ClassRequiredAmount) AmountFor(status string) decimal.Decimal {
	if status == StudentStatusOld && a.OldStudentAmount.Valid {
		return a.OldStudentAmount.Decimal
	}
	return a.Amount
}

// ClassScholarship is a named discount a class offers
type ClassScholarship struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	ClassID   uint            `gorm:"not null;index" json:"class_id"`
	TrancheID *uint           `gorm:"index" json:"tranche_id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName specifies the table name for ClassScholarship
func (ClassScholarship) TableName() string {
	return "class_scholarships"
}

// StudentScholarship awards a class scholarship to a student for one tranche.
// IsUsed goes from false to true exactly once.
type StudentScholarship struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	StudentID          uint            `gorm:"not null;uniqueIndex:ux_student_scholarships_student_tranche" json:"student_id"`
	TrancheID          uint            `gorm:"not null;uniqueIndex:ux_student_scholarships_student_tranche" json:"tranche_id"`
	ClassScholarshipID uint            `gorm:"not null;index" json:"class_scholarship_id"`
	IsUsed             bool            `gorm:"not null" json:"is_used"`
	UsedAt             *time.Time      `json:"used_at"`
	AmountUsed         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_used"`
	PaymentID          *uint           `gorm:"index" json:"payment_id"`
	CreatedAt          time.Time       `json:"created_at"`

	// Associations
	ClassScholarship ClassScholarship `gorm:"foreignKey:ClassScholarshipID" json:"class_scholarship,omitempty"`
}

// TableName specifies the table name for StudentScholarship
func (StudentScholarship) TableName() string {
	return "student_scholarships"
}

// Scholarship state constants
const (
	ScholarshipStateUnused = "unused"
	ScholarshipStateUsed   = "used"
)

// State returns the lifecycle state of the scholarship
func (s *StudentScholarship) State() string {
	if s.IsUsed {
		return ScholarshipStateUsed
	}
	return ScholarshipStateUnused
}

// SchoolSettings holds the school-wide time reduction of a school year
type SchoolSettings struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	SchoolYearID        uint            `gorm:"not null;uniqueIndex" json:"school_year_id"`
	ReductionPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"reduction_percentage"`
	ScholarshipDeadline *time.Time      `gorm:"type:date" json:"scholarship_deadline"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TableName specifies the table name for SchoolSettings
func (SchoolSettings) TableName() string {
	return "school_settings"
}
