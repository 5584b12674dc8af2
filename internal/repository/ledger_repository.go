package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/statemachine"
	"github.com/sjperalta/school-ledger-api/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the append-only store of payments and payment details
type LedgerRepository interface {
	// Snapshot returns the current running total per tranche for a student
	Snapshot(ctx context.Context, studentID uint, trancheIDs []uint) (map[uint]decimal.Decimal, error)
	// LatestDetails returns the newest detail of every tranche a student has paid into
	LatestDetails(ctx context.Context, studentID uint) (map[uint]models.PaymentDetail, error)
	// Commit persists a plan atomically and returns the stored payment with its details
	Commit(ctx context.Context, plan *ledger.AllocationPlan, actingUserID uint) (*models.Payment, error)

	FindPaymentByID(ctx context.Context, id uint) (*models.Payment, error)
	FindPaymentByReceipt(ctx context.Context, number string) (*models.Payment, error)
	ListPaymentsByStudent(ctx context.Context, studentID uint, query *ListQuery) ([]models.Payment, int64, error)
	ChainViolations(ctx context.Context) ([]ChainViolation, error)
}

// ChainViolation describes a detail that does not extend its predecessor
type ChainViolation struct {
	StudentID      uint            `json:"student_id"`
	TrancheID      uint            `json:"tranche_id"`
	DetailID       uint            `json:"detail_id"`
	PreviousAmount decimal.Decimal `json:"previous_amount"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
}

// ErrChainExtended reports that another payment already extended one of the
// plan's chains. It wraps ledger.ErrConcurrentModification.
var ErrChainExtended = fmt.Errorf("%w: ledger chain already extended", ledger.ErrConcurrentModification)

// ErrScholarshipConsumed reports that a scholarship the plan expected unused was
// consumed by another payment. It wraps ledger.ErrConcurrentModification.
var ErrScholarshipConsumed = fmt.Errorf("%w: scholarship consumed by another payment", ledger.ErrConcurrentModification)

type ledgerRepository struct {
	db              *gorm.DB
	receipts        ledger.ReceiptGenerator
	receiptAttempts int
	metrics         *metrics.LedgerMetrics
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB, opts LedgerOptions) LedgerRepository {
	if opts.Receipts == nil {
		opts.Receipts = ledger.NewULIDReceiptGenerator(ledger.DefaultReceiptPrefix)
	}
	if opts.ReceiptAttempts < 1 {
		opts.ReceiptAttempts = 5
	}
	return &ledgerRepository{
		db:              db,
		receipts:        opts.Receipts,
		receiptAttempts: opts.ReceiptAttempts,
		metrics:         opts.Metrics,
	}
}

type trancheTotal struct {
	TrancheID uint
	Total     decimal.Decimal
}

// totals are strictly increasing along a chain, so the max is the latest total
func currentTotals(db *gorm.DB, studentID uint, trancheIDs []uint) (map[uint]decimal.Decimal, error) {
	var rows []trancheTotal
	q := db.Model(&models.PaymentDetail{}).
		Select("tranche_id, MAX(new_total_amount) AS total").
		Where("student_id = ?", studentID).
		Group("tranche_id")
	if len(trancheIDs) > 0 {
		q = q.Where("tranche_id IN ?", trancheIDs)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	totals := make(map[uint]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.TrancheID] = row.Total
	}
	return totals, nil
}

func (r *ledgerRepository) Snapshot(ctx context.Context, studentID uint, trancheIDs []uint) (map[uint]decimal.Decimal, error) {
	return currentTotals(r.db.WithContext(ctx), studentID, trancheIDs)
}

func (r *ledgerRepository) LatestDetails(ctx context.Context, studentID uint) (map[uint]models.PaymentDetail, error) {
	var details []models.PaymentDetail
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("id ASC").
		Find(&details).Error
	if err != nil {
		return nil, err
	}

	latest := make(map[uint]models.PaymentDetail, len(details))
	for _, d := range details {
		latest[d.TrancheID] = d
	}
	return latest, nil
}

// Commit writes the payment header, its details and any scholarship consumption
// in one transaction. The plan's previous amounts are checked against the stored
// totals first; a mismatch means another payment landed since the plan was built.
func (r *ledgerRepository) Commit(ctx context.Context, plan *ledger.AllocationPlan, actingUserID uint) (*models.Payment, error) {
	if plan == nil || len(plan.Lines) == 0 {
		return nil, &ledger.ValidationError{Reason: "plan de asignación vacío"}
	}

	var payment *models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStudent(tx, plan.StudentID); err != nil {
			return err
		}

		current, err := currentTotals(tx, plan.StudentID, plan.TrancheIDs())
		if err != nil {
			return err
		}
		for _, line := range plan.Lines {
			stored := current[line.TrancheID]
			if !stored.Equal(line.PreviousAmount) {
				return fmt.Errorf("%w: tranche %d total is %s, plan expected %s",
					ledger.ErrConcurrentModification, line.TrancheID, stored.StringFixed(2), line.PreviousAmount.StringFixed(2))
			}
		}
		if err := checkScholarships(tx, plan); err != nil {
			return err
		}

		p := newPaymentHeader(plan, actingUserID)
		if err := r.insertHeader(ctx, tx, p); err != nil {
			return err
		}

		details := newPaymentDetails(plan, p.ID)
		if err := tx.Create(&details).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return ErrChainExtended
			}
			return err
		}

		for _, line := range plan.Lines {
			if line.ConsumeScholarshipID == 0 {
				continue
			}
			if err := consumeScholarship(ctx, tx, line, p); err != nil {
				return err
			}
		}

		p.Details = details
		payment = p
		return nil
	})
	if err != nil {
		return nil, classifyCommitErr(err)
	}

	return payment, nil
}

// lockStudent serializes commits of one student on databases with row locks
func lockStudent(tx *gorm.DB, studentID uint) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	var student models.Student
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&student, studentID).Error
}

// insertHeader assigns a receipt number, retrying inside a savepoint on collision
func (r *ledgerRepository) insertHeader(ctx context.Context, tx *gorm.DB, p *models.Payment) error {
	for attempt := 1; attempt <= r.receiptAttempts; attempt++ {
		number, err := r.receipts.Next()
		if err != nil {
			return fmt.Errorf("generate receipt number: %w", err)
		}
		p.ID = 0
		p.ReceiptNumber = number

		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Omit(clause.Associations).Create(p).Error
		})
		if err == nil {
			return nil
		}
		if !isDuplicateKeyErr(err) {
			return err
		}

		r.metrics.ReceiptCollision()
		logger.Ctx(ctx).Warn("Receipt number collision", "receipt_number", number, "attempt", attempt)
	}

	return fmt.Errorf("%w: no free receipt number after %d attempts", ledger.ErrRetryExhausted, r.receiptAttempts)
}

// checkScholarships verifies that every scholarship the plan consumes belongs to
// the plan's student and tranche and is still unused
func checkScholarships(tx *gorm.DB, plan *ledger.AllocationPlan) error {
	planned := make(map[uint]uint)
	for _, line := range plan.Lines {
		if line.ConsumeScholarshipID == 0 {
			continue
		}
		if _, dup := planned[line.ConsumeScholarshipID]; dup {
			return fmt.Errorf("%w: scholarship %d planned twice", ledger.ErrScholarshipAlreadyUsed, line.ConsumeScholarshipID)
		}
		planned[line.ConsumeScholarshipID] = line.TrancheID
	}
	if len(planned) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(planned))
	for id := range planned {
		ids = append(ids, id)
	}
	var rows []models.StudentScholarship
	if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) != len(ids) {
		return &ledger.ValidationError{Reason: "la beca planificada no existe"}
	}

	for _, s := range rows {
		if s.StudentID != plan.StudentID || s.TrancheID != planned[s.ID] {
			return &ledger.ValidationError{TrancheID: planned[s.ID], Reason: fmt.Sprintf("la beca %d pertenece a otro estudiante o tramo", s.ID)}
		}
		if s.IsUsed {
			return fmt.Errorf("%w: scholarship %d", ErrScholarshipConsumed, s.ID)
		}
	}
	return nil
}

// consumeScholarship flips is_used only if nobody else did first
func consumeScholarship(ctx context.Context, tx *gorm.DB, line ledger.PlanLine, p *models.Payment) error {
	var scholarship models.StudentScholarship
	if err := tx.First(&scholarship, line.ConsumeScholarshipID).Error; err != nil {
		return err
	}

	now := time.Now()
	if err := statemachine.NewScholarshipFSM(&scholarship).Consume(ctx, p.ID, now); err != nil {
		return fmt.Errorf("%w: scholarship %d", ledger.ErrScholarshipAlreadyUsed, scholarship.ID)
	}

	result := tx.Model(&models.StudentScholarship{}).
		Where("id = ? AND is_used = ?", scholarship.ID, false).
		Updates(map[string]interface{}{
			"is_used":     true,
			"used_at":     now,
			"amount_used": line.DiscountAmount,
			"payment_id":  p.ID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: scholarship %d", ErrScholarshipConsumed, scholarship.ID)
	}
	return nil
}

func classifyCommitErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrRetryExhausted),
		errors.Is(err, ledger.ErrScholarshipAlreadyUsed),
		errors.Is(err, ledger.ErrValidation):
		return err
	case isDuplicateKeyErr(err), isSerializationErr(err):
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	default:
		return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
}

func newPaymentHeader(plan *ledger.AllocationPlan, actingUserID uint) *models.Payment {
	return &models.Payment{
		StudentID:         plan.StudentID,
		SchoolYearID:      plan.SchoolYearID,
		TotalAmount:       plan.TotalAmount,
		PaymentDate:       plan.PaymentDate,
		CreatedByUserID:   actingUserID,
		HasScholarship:    plan.HasScholarship,
		ScholarshipAmount: plan.ScholarshipAmount,
		HasReduction:      plan.HasReduction,
		ReductionAmount:   plan.ReductionAmount,
	}
}

func newPaymentDetails(plan *ledger.AllocationPlan, paymentID uint) []models.PaymentDetail {
	details := make([]models.PaymentDetail, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		details = append(details, models.PaymentDetail{
			PaymentID:            paymentID,
			StudentID:            plan.StudentID,
			TrancheID:            line.TrancheID,
			PreviousAmount:       line.PreviousAmount,
			AmountAllocated:      line.AmountAllocated,
			NewTotalAmount:       line.NewTotalAmount,
			BaseRequiredAmount:   line.BaseRequiredAmount,
			RequiredAmountAtTime: line.RequiredAmountAtTime,
			DiscountAmount:       line.DiscountAmount,
			WasReduced:           line.WasReduced,
			ReductionContext:     line.ReductionContext,
			Status:               line.Status,
			IsFullyPaid:          line.IsFullyPaid,
		})
	}
	return details
}

func (r *ledgerRepository) FindPaymentByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *ledgerRepository) FindPaymentByReceipt(ctx context.Context, number string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("receipt_number = ?", number).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *ledgerRepository) ListPaymentsByStudent(ctx context.Context, studentID uint, query *ListQuery) ([]models.Payment, int64, error) {
	var payments []models.Payment
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Payment{}).Where("student_id = ?", studentID)

	// Count on a separate session so the page query is not altered
	countDB := db.Session(&gorm.Session{})
	if err := countDB.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id DESC").
		Limit(query.Limit()).
		Offset(query.Offset()).
		Find(&payments).Error
	return payments, total, err
}

// ChainViolations walks every detail in id order and reports links whose
// previous_amount does not equal the prior new_total_amount of the same chain.
func (r *ledgerRepository) ChainViolations(ctx context.Context) ([]ChainViolation, error) {
	type chainKey struct{ student, tranche uint }
	last := make(map[chainKey]decimal.Decimal)
	var violations []ChainViolation

	var batch []models.PaymentDetail
	err := r.db.WithContext(ctx).
		Select("id", "student_id", "tranche_id", "previous_amount", "new_total_amount").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for _, d := range batch {
				key := chainKey{d.StudentID, d.TrancheID}
				expected := last[key]
				if !d.PreviousAmount.Equal(expected) || !d.NewTotalAmount.GreaterThan(d.PreviousAmount) {
					violations = append(violations, ChainViolation{
						StudentID:      d.StudentID,
						TrancheID:      d.TrancheID,
						DetailID:       d.ID,
						PreviousAmount: d.PreviousAmount,
						ExpectedAmount: expected,
					})
				}
				last[key] = d.NewTotalAmount
			}
			return nil
		}).Error

	return violations, err
}
