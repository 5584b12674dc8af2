package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setAmount(t *testing.T, e *testEnv, tranche models.Tranche, amount string) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.ClassRequiredAmount{}).
		Where("class_id = ? AND tranche_id = ?", e.f.Class.ID, tranche.ID).
		Update("amount", amt(amount)).Error)
	e.svc.FeeSchedule.Invalidate(e.f.SchoolYear.ID)
}

func TestRecordPayment_FullInscription(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	inscription := models.Tranche{SchoolYearID: e.f.SchoolYear.ID, Name: "Inscripción", SortOrder: 0, IsRequired: true, IsActive: true}
	require.NoError(t, e.db.Create(&inscription).Error)
	require.NoError(t, e.db.Create(&models.ClassRequiredAmount{ClassID: e.f.Class.ID, TrancheID: inscription.ID, Amount: amt("10000")}).Error)

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 1),
		ledger.AllocationRequest{TrancheID: inscription.ID, Amount: amt("10000")})
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 1)

	line := receipt.Lines[0]
	assert.True(t, line.PreviousTotal.IsZero())
	assert.True(t, line.Allocated.Equal(amt("10000")))
	assert.True(t, line.NewTotal.Equal(amt("10000")))
	assert.True(t, line.IsFullyPaid)
	assert.False(t, line.WasReduced)
	assert.False(t, receipt.HasScholarship)
	assert.False(t, receipt.HasReduction)
	assert.True(t, strings.HasPrefix(receipt.Number, ledger.DefaultReceiptPrefix))
	assert.Equal(t, "2025-09-01", receipt.PaymentDate)

	balance, err := e.svc.Payment.GetOutstandingBalance(ctx, e.f.NewStudent.ID)
	require.NoError(t, err)
	require.Len(t, balance, 3)
	assert.Equal(t, inscription.ID, balance[0].TrancheID)
	assert.True(t, balance[0].Remaining.IsZero())
	assert.True(t, balance[0].IsFullyPaid)
}

func TestRecordPayment_TimeReductionBeforeDeadline(t *testing.T) {
	e := newTestEnv(t, nil)
	setAmount(t, e, e.f.Tranche1, "15000")
	e.f.WithReduction(t, e.db, "10", testsupport.Date(2025, time.September, 15))

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("13500")})
	require.NoError(t, err)

	line := receipt.Lines[0]
	assert.True(t, line.RequiredAtTime.Equal(amt("13500")))
	assert.True(t, line.WasReduced)
	assert.True(t, line.IsFullyPaid)
	assert.Equal(t, "time-reduction:10%", line.Context)
	assert.True(t, receipt.HasReduction)
	assert.True(t, receipt.ReductionAmount.Equal(amt("1500")))
}

func TestRecordPayment_ReductionExpiredAfterDeadline(t *testing.T) {
	e := newTestEnv(t, nil)
	setAmount(t, e, e.f.Tranche1, "15000")
	e.f.WithReduction(t, e.db, "10", testsupport.Date(2025, time.September, 15))

	_, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 16),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("13500")})
	require.NoError(t, err)

	var detail models.PaymentDetail
	require.NoError(t, e.db.First(&detail).Error)
	assert.True(t, detail.RequiredAmountAtTime.Equal(amt("15000")))
	assert.False(t, detail.WasReduced)
	assert.False(t, detail.IsFullyPaid)
}

func TestRecordPayment_ScholarshipConsumed(t *testing.T) {
	e := newTestEnv(t, nil)
	setAmount(t, e, e.f.Tranche1, "15000")
	award := e.f.AwardScholarship(t, e.db, e.f.NewStudent.ID, e.f.Tranche1.ID, "5000")

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("10000")})
	require.NoError(t, err)

	line := receipt.Lines[0]
	assert.True(t, line.RequiredAtTime.Equal(amt("10000")))
	assert.True(t, line.WasReduced)
	assert.True(t, line.IsFullyPaid)
	assert.True(t, strings.HasPrefix(line.Context, "scholarship:"))
	assert.True(t, receipt.HasScholarship)

	var stored models.StudentScholarship
	require.NoError(t, e.db.First(&stored, award.ID).Error)
	assert.True(t, stored.IsUsed)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, receipt.PaymentID, *stored.PaymentID)
}

func TestRecordPayment_ScholarshipKeepsTargetAcrossInstallments(t *testing.T) {
	e := newTestEnv(t, nil)
	award := e.f.AwardScholarship(t, e.db, e.f.NewStudent.ID, e.f.Tranche1.ID, "50")
	date := testsupport.Date(2025, time.September, 10)

	first, err := e.record(t, e.f.NewStudent, date, ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("60")})
	require.NoError(t, err)
	second, err := e.record(t, e.f.NewStudent, date, ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("40")})
	require.NoError(t, err)

	assert.True(t, second.Lines[0].RequiredAtTime.Equal(amt("100")))
	assert.True(t, second.Lines[0].PreviousTotal.Equal(amt("60")))
	assert.True(t, second.Lines[0].IsFullyPaid)
	assert.True(t, second.HasScholarship, "header flags aggregate the detail discounts")

	var stored models.StudentScholarship
	require.NoError(t, e.db.First(&stored, award.ID).Error)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, first.PaymentID, *stored.PaymentID)
}

func TestRecordPayment_RetriesAfterConcurrentCommit(t *testing.T) {
	locker := &hookLocker{}
	e := newTestEnv(t, locker)

	// another desk commits 100 between our planning and our commit
	locker.hook = func(ctx context.Context, n int) error {
		if n == 1 {
			return e.commitDirect(ctx, e.f.NewStudent, e.f.Tranche1, "100")
		}
		return nil
	}

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("40")})
	require.NoError(t, err)
	assert.Equal(t, 2, locker.obtains)

	line := receipt.Lines[0]
	assert.True(t, line.PreviousTotal.Equal(amt("100")))
	assert.True(t, line.NewTotal.Equal(amt("140")))

	snapshot, err := e.repos.Ledger.Snapshot(context.Background(), e.f.NewStudent.ID, nil)
	require.NoError(t, err)
	assert.True(t, snapshot[e.f.Tranche1.ID].Equal(amt("140")), "no double credit")
	assert.Equal(t, int64(2), countOf(t, e.db, &models.Payment{}))

	expected := `
# HELP ledger_commit_conflicts_total Payment commits rejected and retried, by reason.
# TYPE ledger_commit_conflicts_total counter
ledger_commit_conflicts_total{reason="snapshot_stale"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "ledger_commit_conflicts_total"))
}

func TestRecordPayment_ConcurrentDesksSameTranche(t *testing.T) {
	e := newTestEnv(t, nil)
	// each lost race means another desk committed, so desks-1 retries always suffice
	const desks = 5
	e.svc.Payment.cfg.CommitMaxRetries = desks

	var wg sync.WaitGroup
	errs := make([]error, desks)
	for i := 0; i < desks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
				ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("10")})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	snapshot, err := e.repos.Ledger.Snapshot(context.Background(), e.f.NewStudent.ID, nil)
	require.NoError(t, err)
	assert.True(t, snapshot[e.f.Tranche1.ID].Equal(amt("50")), "no double credit")
	assert.Equal(t, int64(desks), countOf(t, e.db, &models.Payment{}))

	var details []models.PaymentDetail
	require.NoError(t, e.db.Where("tranche_id = ?", e.f.Tranche1.ID).Find(&details).Error)
	require.Len(t, details, desks)
	sort.Slice(details, func(i, j int) bool { return details[i].PreviousAmount.LessThan(details[j].PreviousAmount) })
	for i, d := range details {
		assert.True(t, d.PreviousAmount.Equal(amt("10").Mul(decimal.NewFromInt(int64(i)))), "chain position %d", i)
		assert.True(t, d.NewTotalAmount.Equal(d.PreviousAmount.Add(amt("10"))))
	}

	violations, err := e.repos.Ledger.ChainViolations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRecordPayment_RetriesWhenScholarshipConsumedMeanwhile(t *testing.T) {
	e := newTestEnv(t, nil)
	award := e.f.AwardScholarship(t, e.db, e.f.NewStudent.ID, e.f.Tranche1.ID, "50")

	// the other desk commits after our scholarship read and before our snapshot read
	racing := &snapshotHookLedger{LedgerRepository: e.repos.Ledger}
	racing.hook = func(ctx context.Context, n int) error {
		if n == 1 {
			return e.commitDirect(ctx, e.f.NewStudent, e.f.Tranche1, "30")
		}
		return nil
	}
	e.svc.Payment.ledgerRepo = racing

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("70")})
	require.NoError(t, err)
	assert.Equal(t, 2, racing.calls)

	line := receipt.Lines[0]
	assert.True(t, line.PreviousTotal.Equal(amt("30")))
	assert.True(t, line.NewTotal.Equal(amt("100")))
	assert.True(t, line.RequiredAtTime.Equal(amt("100")))
	assert.True(t, line.IsFullyPaid)

	var stored models.StudentScholarship
	require.NoError(t, e.db.First(&stored, award.ID).Error)
	require.NotNil(t, stored.PaymentID)
	assert.NotEqual(t, receipt.PaymentID, *stored.PaymentID, "consumed once, by the competing payment")

	expected := `
# HELP ledger_commit_conflicts_total Payment commits rejected and retried, by reason.
# TYPE ledger_commit_conflicts_total counter
ledger_commit_conflicts_total{reason="scholarship_stale"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "ledger_commit_conflicts_total"))
}

func TestRecordPayment_RetriesExhausted(t *testing.T) {
	locker := &hookLocker{}
	e := newTestEnv(t, locker)
	locker.hook = func(ctx context.Context, n int) error {
		return e.commitDirect(ctx, e.f.NewStudent, e.f.Tranche1, "1")
	}

	_, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("40")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRetryExhausted)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, 3, locker.obtains)
	assert.Equal(t, int64(3), countOf(t, e.db, &models.Payment{}), "only the competing payments were written")
}

func TestRecordPayment_LockNotObtained(t *testing.T) {
	locker := &hookLocker{hook: func(ctx context.Context, n int) error {
		return locking.ErrNotObtained
	}}
	e := newTestEnv(t, locker)

	_, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("40")})
	assert.ErrorIs(t, err, ledger.ErrRetryExhausted)
	assert.Equal(t, int64(0), countOf(t, e.db, &models.Payment{}))

	expected := `
# HELP ledger_commit_conflicts_total Payment commits rejected and retried, by reason.
# TYPE ledger_commit_conflicts_total counter
ledger_commit_conflicts_total{reason="lock_not_obtained"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "ledger_commit_conflicts_total"))
}

func TestRecordPayment_SplitShortOfTotal(t *testing.T) {
	e := newTestEnv(t, nil)

	_, err := e.svc.Payment.RecordPayment(context.Background(), RecordPaymentInput{
		StudentID:    e.f.NewStudent.ID,
		SchoolYearID: e.f.SchoolYear.ID,
		TotalAmount:  amt("100"),
		Split:        []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("60")}},
		ActingUserID: 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	var verr *ledger.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(0), countOf(t, e.db, &models.Payment{}))
	assert.Equal(t, int64(0), countOf(t, e.db, &models.PaymentDetail{}))
}

func TestRecordPayment_Rejections(t *testing.T) {
	e := newTestEnv(t, nil)
	date := testsupport.Date(2025, time.September, 10)

	t.Run("overpayment", func(t *testing.T) {
		_, err := e.record(t, e.f.NewStudent, date, ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("151")})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown tranche", func(t *testing.T) {
		_, err := e.record(t, e.f.NewStudent, date, ledger.AllocationRequest{TrancheID: 9999, Amount: amt("10")})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := e.svc.Payment.RecordPayment(context.Background(), RecordPaymentInput{
			StudentID:   9999,
			TotalAmount: amt("10"),
			Split:       []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("10")}},
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other school year", func(t *testing.T) {
		_, err := e.svc.Payment.RecordPayment(context.Background(), RecordPaymentInput{
			StudentID:    e.f.NewStudent.ID,
			SchoolYearID: e.f.SchoolYear.ID + 1,
			TotalAmount:  amt("10"),
			Split:        []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("10")}},
		})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("missing class amount", func(t *testing.T) {
		extra := models.Tranche{SchoolYearID: e.f.SchoolYear.ID, Name: "RAME", SortOrder: 3, IsRequired: true, IsActive: true}
		require.NoError(t, e.db.Create(&extra).Error)
		e.svc.FeeSchedule.Invalidate(e.f.SchoolYear.ID)

		_, err := e.record(t, e.f.NewStudent, date, ledger.AllocationRequest{TrancheID: extra.ID, Amount: amt("10")})
		assert.ErrorIs(t, err, ledger.ErrConfigMissing)
	})

	assert.Equal(t, int64(0), countOf(t, e.db, &models.Payment{}))
}

func TestRecordPayment_AllowOverpayment(t *testing.T) {
	e := newTestEnv(t, nil)

	receipt, err := e.svc.Payment.RecordPayment(context.Background(), RecordPaymentInput{
		StudentID:        e.f.NewStudent.ID,
		TotalAmount:      amt("200"),
		Split:            []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("200")}},
		PaymentDate:      testsupport.Date(2025, time.September, 10),
		ActingUserID:     1,
		AllowOverpayment: true,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Lines[0].IsFullyPaid)
	assert.True(t, receipt.Lines[0].Remaining.IsZero())
}

func TestRecordPayment_SettingsUnavailable(t *testing.T) {
	e := newTestEnv(t, nil)
	svc := NewPaymentService(e.repos.Ledger, e.repos.Student, failingSettings{err: context.DeadlineExceeded},
		e.svc.FeeSchedule, e.svc.Audit, nil, nil, PaymentServiceConfig{})

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		StudentID:   e.f.NewStudent.ID,
		TotalAmount: amt("10"),
		Split:       []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("10")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSettingsUnavailable)
	assert.False(t, ledger.IsRetryable(err))
	assert.Equal(t, int64(0), countOf(t, e.db, &models.Payment{}))
}

func TestRecordPayment_WritesAuditLog(t *testing.T) {
	e := newTestEnv(t, nil)

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("10")})
	require.NoError(t, err)

	e.worker.Shutdown()

	logs, total, err := e.svc.Audit.List(context.Background(), "Payment", 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, models.AuditActionRecord, logs[0].Action)
	assert.Equal(t, receipt.PaymentID, logs[0].EntityID)
	assert.Contains(t, logs[0].Details, receipt.Number)
}

func TestQuote_WritesNothing(t *testing.T) {
	e := newTestEnv(t, nil)
	award := e.f.AwardScholarship(t, e.db, e.f.NewStudent.ID, e.f.Tranche1.ID, "50")

	plan, err := e.svc.Payment.Quote(context.Background(), RecordPaymentInput{
		StudentID:   e.f.NewStudent.ID,
		TotalAmount: amt("100"),
		Split:       []ledger.AllocationRequest{{TrancheID: e.f.Tranche1.ID, Amount: amt("100")}},
	})
	require.NoError(t, err)
	assert.True(t, plan.Lines[0].IsFullyPaid)
	assert.Equal(t, award.ID, plan.Lines[0].ConsumeScholarshipID)
	assert.Equal(t, "2025-09-01", plan.PaymentDate.Format("2006-01-02"), "defaults to today")

	assert.Equal(t, int64(0), countOf(t, e.db, &models.Payment{}))
	var stored models.StudentScholarship
	require.NoError(t, e.db.First(&stored, award.ID).Error)
	assert.False(t, stored.IsUsed)
}

func TestGetOutstandingBalance(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	e.f.WithReduction(t, e.db, "10", testsupport.Date(2025, time.September, 15))

	// paid after the deadline: required frozen at the full amount
	_, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 20),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("50")})
	require.NoError(t, err)

	balance, err := e.svc.Payment.GetOutstandingBalance(ctx, e.f.NewStudent.ID)
	require.NoError(t, err)
	require.Len(t, balance, 2)

	t1 := balance[0]
	assert.Equal(t, e.f.Tranche1.ID, t1.TrancheID)
	assert.True(t, t1.Required.Equal(amt("150")))
	assert.True(t, t1.Paid.Equal(amt("50")))
	assert.True(t, t1.Remaining.Equal(amt("100")))
	assert.False(t, t1.IsFullyPaid)

	// unpaid tranche resolved as of today, which is before the deadline
	t2 := balance[1]
	assert.True(t, t2.Required.Equal(amt("135")))
	assert.True(t, t2.Paid.IsZero())
	assert.True(t, t2.WasReduced)
	assert.True(t, t2.Remaining.Equal(amt("135")))

	_, err = e.svc.Payment.GetOutstandingBalance(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOutstandingBalance_StorageFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	e.svc.Payment.ledgerRepo = brokenLedger{LedgerRepository: e.repos.Ledger, err: errors.New("connection reset")}

	_, err := e.svc.Payment.GetOutstandingBalance(context.Background(), e.f.NewStudent.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStorage)
	assert.False(t, ledger.IsRetryable(err))
}

func TestPaymentLookups(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	receipt, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("10")},
		ledger.AllocationRequest{TrancheID: e.f.Tranche2.ID, Amount: amt("20")})
	require.NoError(t, err)

	byID, err := e.svc.Payment.FindByID(ctx, receipt.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Number, byID.Number)
	assert.Len(t, byID.Lines, 2)

	byNumber, err := e.svc.Payment.FindByReceipt(ctx, receipt.Number)
	require.NoError(t, err)
	assert.Equal(t, receipt.PaymentID, byNumber.PaymentID)

	_, err = e.svc.Payment.FindByReceipt(ctx, "REC-NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	history, total, err := e.svc.Payment.ListByStudent(ctx, e.f.NewStudent.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, history, 1)
}

func TestVerifyLedgerIntegrity(t *testing.T) {
	e := newTestEnv(t, nil)

	_, err := e.record(t, e.f.NewStudent, testsupport.Date(2025, time.September, 10),
		ledger.AllocationRequest{TrancheID: e.f.Tranche1.ID, Amount: amt("10")})
	require.NoError(t, err)
	require.NoError(t, e.svc.Payment.VerifyLedgerIntegrity(context.Background()))

	expected := `
# HELP ledger_chain_violations Broken (student, tranche) chains found by the last integrity check.
# TYPE ledger_chain_violations gauge
ledger_chain_violations 0
`
	assert.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "ledger_chain_violations"))
}
