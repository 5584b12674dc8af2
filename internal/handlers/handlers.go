package handlers

import (
	"github.com/sjperalta/school-ledger-api/internal/services"
	"gorm.io/gorm"
)

// Handlers holds all handler instances
type Handlers struct {
	Health      *HealthHandler
	Payment     *PaymentHandler
	FeeSchedule *FeeScheduleHandler
	Report      *ReportHandler
	Audit       *AuditHandler
	Job         *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, db *gorm.DB) *Handlers {
	return &Handlers{
		Health:      NewHealthHandler(db),
		Payment:     NewPaymentHandler(svcs.Payment),
		FeeSchedule: NewFeeScheduleHandler(svcs.FeeSchedule),
		Report:      NewReportHandler(svcs.Report),
		Audit:       NewAuditHandler(svcs.Audit),
		Job:         NewJobHandler(svcs.Job),
	}
}
