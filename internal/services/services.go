package services

import (
	"github.com/sjperalta/school-ledger-api/internal/config"
	"github.com/sjperalta/school-ledger-api/internal/jobs"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	FeeSchedule *FeeScheduleService
	Payment     *PaymentService
	Report      *ReportService
	Audit       *AuditService
	Job         *JobService
}

// NewServices creates all service instances
func NewServices(repos *repository.Repositories, worker *jobs.Worker, locker locking.Locker,
	cfg *config.Config, db *gorm.DB, m *metrics.LedgerMetrics) *Services {
	auditSvc := NewAuditService(db, worker)
	feeScheduleSvc := NewFeeScheduleService(repos.FeeSchedule, repos.Settings, repos.Student, auditSvc, cfg.ScheduleCacheTTL)

	paymentSvc := NewPaymentService(
		repos.Ledger,
		repos.Student,
		repos.Settings,
		feeScheduleSvc,
		auditSvc,
		locker,
		m,
		PaymentServiceConfig{
			CommitMaxRetries: cfg.CommitMaxRetries,
			SettingsTimeout:  cfg.SettingsTimeout,
			LockWait:         cfg.LockTTL,
		},
	)

	return &Services{
		FeeSchedule: feeScheduleSvc,
		Payment:     paymentSvc,
		Report:      NewReportService(repos.Report, repos.Student, repos.FeeSchedule, feeScheduleSvc),
		Audit:       auditSvc,
		Job:         NewJobService(worker, paymentSvc),
	}
}
