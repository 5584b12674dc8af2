package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/pkg/logger"
	"gorm.io/gorm"
)

// RecordPaymentInput is a cashier's payment with its split across tranches
type RecordPaymentInput struct {
	StudentID    uint
	SchoolYearID uint
	TotalAmount  decimal.Decimal
	Split        []ledger.AllocationRequest
	// PaymentDate defaults to today
	PaymentDate      time.Time
	ActingUserID     uint
	AllowOverpayment bool
	IP               string
	UserAgent        string
}

// TrancheBalance is what a student owes on one tranche
type TrancheBalance struct {
	TrancheID   uint            `json:"tranche_id"`
	TrancheName string          `json:"tranche_name"`
	Order       int             `json:"order"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Required    decimal.Decimal `json:"required"`
	Paid        decimal.Decimal `json:"paid"`
	Remaining   decimal.Decimal `json:"remaining"`
	IsFullyPaid bool            `json:"is_fully_paid"`
	WasReduced  bool            `json:"was_reduced"`
	Context     string          `json:"context,omitempty"`
}

// PaymentServiceConfig bounds retries and waits on the payment path
type PaymentServiceConfig struct {
	CommitMaxRetries int
	SettingsTimeout  time.Duration
	LockWait         time.Duration
}

type PaymentService struct {
	ledgerRepo   repository.LedgerRepository
	studentRepo  repository.StudentRepository
	settingsRepo repository.SettingsRepository
	feeSchedule  *FeeScheduleService
	auditSvc     *AuditService
	locker       locking.Locker
	metrics      *metrics.LedgerMetrics
	cfg          PaymentServiceConfig
	now          func() time.Time
}

func NewPaymentService(
	ledgerRepo repository.LedgerRepository,
	studentRepo repository.StudentRepository,
	settingsRepo repository.SettingsRepository,
	feeSchedule *FeeScheduleService,
	auditSvc *AuditService,
	locker locking.Locker,
	m *metrics.LedgerMetrics,
	cfg PaymentServiceConfig,
) *PaymentService {
	if cfg.CommitMaxRetries < 1 {
		cfg.CommitMaxRetries = 3
	}
	if cfg.SettingsTimeout <= 0 {
		cfg.SettingsTimeout = 2 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	return &PaymentService{
		ledgerRepo:   ledgerRepo,
		studentRepo:  studentRepo,
		settingsRepo: settingsRepo,
		feeSchedule:  feeSchedule,
		auditSvc:     auditSvc,
		locker:       locker,
		metrics:      m,
		cfg:          cfg,
		now:          time.Now,
	}
}

// RecordPayment allocates a payment across the requested tranches and commits it.
// A commit that loses a race with another payment of the same student is
// recomputed from fresh totals, up to CommitMaxRetries attempts.
func (s *PaymentService) RecordPayment(ctx context.Context, in RecordPaymentInput) (*models.Receipt, error) {
	start := time.Now()

	student, err := s.prepare(ctx, &in)
	if err != nil {
		s.metrics.ObserveRecord(outcomeFor(err), time.Since(start))
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.CommitMaxRetries; attempt++ {
		payment, err := s.attempt(ctx, student, in)
		if err == nil {
			s.recorded(ctx, payment, in, attempt)
			s.metrics.ObserveRecord(metrics.OutcomeRecorded, time.Since(start))
			receipt := payment.ToReceipt()
			return &receipt, nil
		}

		if !ledger.IsRetryable(err) {
			s.metrics.ObserveRecord(outcomeFor(err), time.Since(start))
			return nil, err
		}

		lastErr = err
		reason := conflictReason(err)
		s.metrics.CommitConflict(reason)
		logger.Ctx(ctx).Warn("Payment commit conflict, recomputing allocation",
			"student_id", student.ID, "attempt", attempt, "reason", reason, "error", err)
	}

	s.metrics.ObserveRecord(metrics.OutcomeRetriesExhausted, time.Since(start))
	logger.Ctx(ctx).Error("Payment not recorded after retries",
		"student_id", student.ID, "attempts", s.cfg.CommitMaxRetries, "error", lastErr)
	return nil, fmt.Errorf("%w: %d attempts, last error: %v", ledger.ErrRetryExhausted, s.cfg.CommitMaxRetries, lastErr)
}

// Quote computes the allocation a payment would produce without writing anything
func (s *PaymentService) Quote(ctx context.Context, in RecordPaymentInput) (*ledger.AllocationPlan, error) {
	student, err := s.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}
	return s.plan(ctx, student, in)
}

// prepare validates the request and resolves the student and defaults
func (s *PaymentService) prepare(ctx context.Context, in *RecordPaymentInput) (*models.Student, error) {
	if err := ledger.ValidateRequest(in.TotalAmount, in.Split); err != nil {
		return nil, err
	}

	student, err := s.studentRepo.FindByID(ctx, in.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	if in.SchoolYearID == 0 {
		in.SchoolYearID = student.SchoolYearID
	}
	if in.SchoolYearID != student.SchoolYearID {
		return nil, &ledger.ValidationError{Reason: fmt.Sprintf("el estudiante no está inscrito en el año escolar %d", in.SchoolYearID)}
	}
	if in.PaymentDate.IsZero() {
		y, m, d := s.now().Date()
		in.PaymentDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	return student, nil
}

// plan reads the schedule, settings, scholarships and current totals and runs the allocation
func (s *PaymentService) plan(ctx context.Context, student *models.Student, in RecordPaymentInput) (*ledger.AllocationPlan, error) {
	settings, err := s.loadSettings(ctx, in.SchoolYearID)
	if err != nil {
		return nil, err
	}

	schedule, err := s.feeSchedule.Schedule(ctx, student.ClassID, in.SchoolYearID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	scholarships, err := s.feeSchedule.ScholarshipsByTranche(ctx, student.ID, in.SchoolYearID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	trancheIDs := make([]uint, 0, len(in.Split))
	for _, entry := range in.Split {
		trancheIDs = append(trancheIDs, entry.TrancheID)
	}
	snapshot, err := s.ledgerRepo.Snapshot(ctx, student.ID, trancheIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	return ledger.Allocate(ledger.AllocationInput{
		StudentID:        student.ID,
		ClassID:          student.ClassID,
		SchoolYearID:     in.SchoolYearID,
		StudentStatus:    student.Status,
		TotalAmount:      in.TotalAmount,
		Split:            in.Split,
		PaymentDate:      in.PaymentDate,
		Schedule:         schedule,
		Settings:         *settings,
		Scholarships:     scholarships,
		Snapshot:         snapshot,
		AllowOverpayment: in.AllowOverpayment,
	})
}

// attempt plans and commits once, holding the student's lock around the commit
func (s *PaymentService) attempt(ctx context.Context, student *models.Student, in RecordPaymentInput) (*models.Payment, error) {
	plan, err := s.plan(ctx, student, in)
	if err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	lock, err := s.locker.Obtain(lockCtx, locking.StudentKey(student.ID))
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %w", ledger.ErrConcurrentModification, err)
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Ctx(ctx).Warn("Failed to release student lock", "student_id", student.ID, "error", err)
		}
	}()

	return s.ledgerRepo.Commit(ctx, plan, in.ActingUserID)
}

// loadSettings reads the school settings under SettingsTimeout. A missing row
// means no reduction; any other failure aborts the payment.
func (s *PaymentService) loadSettings(ctx context.Context, schoolYearID uint) (*models.SchoolSettings, error) {
	settingsCtx, cancel := context.WithTimeout(ctx, s.cfg.SettingsTimeout)
	defer cancel()

	settings, err := s.settingsRepo.FindBySchoolYear(settingsCtx, schoolYearID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.SchoolSettings{SchoolYearID: schoolYearID, ReductionPercentage: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrSettingsUnavailable, err)
	}
	return settings, nil
}

func (s *PaymentService) recorded(ctx context.Context, payment *models.Payment, in RecordPaymentInput, attempts int) {
	s.metrics.PaymentRecorded(payment.TotalAmount.InexactFloat64())

	logger.Ctx(ctx).Info("Payment recorded",
		"payment_id", payment.ID,
		"receipt_number", payment.ReceiptNumber,
		"student_id", payment.StudentID,
		"total_amount", payment.TotalAmount.StringFixed(2),
		"attempts", attempts)

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:   in.ActingUserID,
		Action:   models.AuditActionRecord,
		Entity:   "Payment",
		EntityID: payment.ID,
		Details: map[string]interface{}{
			"receipt_number": payment.ReceiptNumber,
			"student_id":     payment.StudentID,
			"total_amount":   payment.TotalAmount,
			"tranches":       len(payment.Details),
		},
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
}

// GetOutstandingBalance reports, per tranche, what the student owes. The required
// amount is the one frozen on the tranche's latest payment when there is one,
// otherwise it is resolved as of today without consuming any scholarship.
func (s *PaymentService) GetOutstandingBalance(ctx context.Context, studentID uint) ([]TrancheBalance, error) {
	student, err := s.studentRepo.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	settings, err := s.loadSettings(ctx, student.SchoolYearID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.feeSchedule.Schedule(ctx, student.ClassID, student.SchoolYearID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
	scholarships, err := s.feeSchedule.ScholarshipsByTranche(ctx, student.ID, student.SchoolYearID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
	latest, err := s.ledgerRepo.LatestDetails(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}

	today := s.now()
	balances := make([]TrancheBalance, 0)
	for _, t := range schedule.Tranches() {
		detail, paidInto := latest[t.ID]
		if !t.IsActive && !paidInto {
			continue
		}

		b := TrancheBalance{
			TrancheID:   t.ID,
			TrancheName: t.Name,
			Order:       t.SortOrder,
			Deadline:    t.Deadline,
			Paid:        decimal.Zero,
		}

		if paidInto {
			b.Required = detail.RequiredAmountAtTime
			b.Paid = detail.NewTotalAmount
			b.WasReduced = detail.WasReduced
			b.Context = detail.ReductionContext
			b.IsFullyPaid = detail.IsFullyPaid
		} else {
			base, err := schedule.RequiredAmount(student.ClassID, t.ID, student.Status)
			if err != nil {
				return nil, err
			}
			discount := ledger.ResolveDiscount(ledger.DiscountInput{
				BaseRequired: base,
				AsOf:         today,
				Settings:     *settings,
				Scholarship:  scholarships[t.ID],
			})
			b.Required = discount.Amount
			b.WasReduced = discount.WasReduced
			b.Context = discount.Context
			b.IsFullyPaid = discount.Amount.IsZero()
		}
		b.Remaining = ledger.Remaining(b.Required, b.Paid)

		balances = append(balances, b)
	}

	return balances, nil
}

// FindByID returns the receipt of a payment
func (s *PaymentService) FindByID(ctx context.Context, id uint) (*models.Receipt, error) {
	payment, err := s.ledgerRepo.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	receipt := payment.ToReceipt()
	return &receipt, nil
}

// FindByReceipt returns a payment's receipt by its number
func (s *PaymentService) FindByReceipt(ctx context.Context, number string) (*models.Receipt, error) {
	payment, err := s.ledgerRepo.FindPaymentByReceipt(ctx, number)
	if err != nil {
		return nil, notFound(err)
	}
	receipt := payment.ToReceipt()
	return &receipt, nil
}

// ListByStudent returns a student's payment history, newest first
func (s *PaymentService) ListByStudent(ctx context.Context, studentID uint, query *repository.ListQuery) ([]models.Payment, int64, error) {
	if _, err := s.studentRepo.FindByID(ctx, studentID); err != nil {
		return nil, 0, notFound(err)
	}
	if query == nil {
		query = repository.NewListQuery()
	}
	return s.ledgerRepo.ListPaymentsByStudent(ctx, studentID, query)
}

// VerifyLedgerIntegrity scans every (student, tranche) chain and publishes the
// number of broken links. Runs as a scheduled job.
func (s *PaymentService) VerifyLedgerIntegrity(ctx context.Context) error {
	violations, err := s.ledgerRepo.ChainViolations(ctx)
	if err != nil {
		return fmt.Errorf("ledger integrity check: %w", err)
	}

	s.metrics.SetChainViolations(len(violations))
	if len(violations) == 0 {
		logger.Debug("[Ledger] Integrity check passed")
		return nil
	}

	for i, v := range violations {
		if i == 20 {
			logger.Error("[Ledger] More chain violations omitted", "total", len(violations))
			break
		}
		logger.Error("[Ledger] Chain violation",
			"student_id", v.StudentID,
			"tranche_id", v.TrancheID,
			"detail_id", v.DetailID,
			"previous_amount", v.PreviousAmount.StringFixed(2),
			"expected_amount", v.ExpectedAmount.StringFixed(2))
	}
	return nil
}

func conflictReason(err error) string {
	switch {
	case errors.Is(err, locking.ErrNotObtained):
		return metrics.ReasonLockNotObtained
	case errors.Is(err, repository.ErrChainExtended):
		return metrics.ReasonChainViolation
	case errors.Is(err, repository.ErrScholarshipConsumed):
		return metrics.ReasonScholarshipStale
	case errors.Is(err, ledger.ErrRetryExhausted):
		return metrics.ReasonReceiptExhausted
	case errors.Is(err, ledger.ErrConcurrentModification):
		return metrics.ReasonSnapshotStale
	default:
		return metrics.ReasonUnknown
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ledger.ErrRetryExhausted):
		return metrics.OutcomeRetriesExhausted
	case errors.Is(err, ledger.ErrSettingsUnavailable):
		return metrics.OutcomeSettingsTimedOut
	case errors.Is(err, ledger.ErrStorage):
		return metrics.OutcomeStorageFailure
	default:
		return metrics.OutcomeRejected
	}
}
