package repository

import (
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Student     StudentRepository
	FeeSchedule FeeScheduleRepository
	Settings    SettingsRepository
	Ledger      LedgerRepository
	Report      ReportRepository
}

// LedgerOptions configures how the ledger store assigns receipt numbers
type LedgerOptions struct {
	Receipts        ledger.ReceiptGenerator
	ReceiptAttempts int
	Metrics         *metrics.LedgerMetrics
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB, opts LedgerOptions) *Repositories {
	return &Repositories{
		Student:     NewStudentRepository(db),
		FeeSchedule: NewFeeScheduleRepository(db),
		Settings:    NewSettingsRepository(db),
		Ledger:      NewLedgerRepository(db, opts),
		Report:      NewReportRepository(db),
	}
}

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
	}
}

// Offset returns the row offset of the requested page
func (q *ListQuery) Offset() int {
	if q.Page < 1 {
		q.Page = 1
	}
	return (q.Page - 1) * q.Limit()
}

// Limit returns the page size, capped at 100
func (q *ListQuery) Limit() int {
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	return q.PerPage
}
