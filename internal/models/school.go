package models

import (
	"time"
)

// SchoolYear, Class and Student are owned by the school registry. This service
// only reads them.

// SchoolYear represents an academic year
type SchoolYear struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:50;not null" json:"name"`
	IsCurrent bool      `gorm:"not null" json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for SchoolYear
func (SchoolYear) TableName() string {
	return "school_years"
}

// Class represents a class of a school year
type Class struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SchoolYearID uint      `gorm:"not null;index" json:"school_year_id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for Class
func (Class) TableName() string {
	return "classes"
}

// Student represents an enrolled student
type Student struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SchoolYearID uint      `gorm:"not null;index" json:"school_year_id"`
	ClassID      uint      `gorm:"not null;index" json:"class_id"`
	FullName     string    `gorm:"size:150;not null" json:"full_name"`
	Status       string    `gorm:"size:10;not null" json:"status"` // new, old
	CreatedAt    time.Time `json:"created_at"`

	// Associations
	Class Class `gorm:"foreignKey:ClassID" json:"class,omitempty"`
}

// TableName specifies the table name for Student
func (Student) TableName() string {
	return "students"
}

// Student status constants
const (
	StudentStatusNew = "new"
	StudentStatusOld = "old"
)

// AllModels lists every table this service reads or writes, in dependency order
func AllModels() []any {
	return []any{
		&SchoolYear{},
		&Class{},
		&Student{},
		&Tranche{},
		&ClassRequiredAmount{},
		&ClassScholarship{},
		&StudentScholarship{},
		&SchoolSettings{},
		&Payment{},
		&PaymentDetail{},
		&AuditLog{},
	}
}
