package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/config"
	"github.com/sjperalta/school-ledger-api/internal/jobs"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/internal/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var amt = testsupport.Amount

type testEnv struct {
	db       *gorm.DB
	f        *testsupport.Fixture
	repos    *repository.Repositories
	worker   *jobs.Worker
	registry *prometheus.Registry
	svc      *Services
}

func testConfig() *config.Config {
	return &config.Config{
		CommitMaxRetries:   3,
		ReceiptMaxAttempts: 5,
		ReceiptPrefix:      ledger.DefaultReceiptPrefix,
		SettingsTimeout:    2 * time.Second,
		ScheduleCacheTTL:   time.Minute,
		LockTTL:            time.Second,
	}
}

func newTestEnv(t *testing.T, locker locking.Locker) *testEnv {
	t.Helper()

	db := testsupport.NewDB(t)
	f := testsupport.Seed(t, db)

	registry := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(registry)
	repos := repository.NewRepositories(db, repository.LedgerOptions{ReceiptAttempts: 5, Metrics: m})

	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)

	if locker == nil {
		locker = locking.NewLocalLocker()
	}

	svc := NewServices(repos, worker, locker, testConfig(), db, m)
	fixed := func() time.Time { return time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC) }
	svc.Payment.now = fixed
	svc.Report.now = fixed

	return &testEnv{db: db, f: f, repos: repos, worker: worker, registry: registry, svc: svc}
}

func (e *testEnv) record(t *testing.T, student models.Student, date time.Time, split ...ledger.AllocationRequest) (*models.Receipt, error) {
	t.Helper()
	total := amt("0")
	for _, s := range split {
		total = total.Add(s.Amount)
	}
	return e.svc.Payment.RecordPayment(context.Background(), RecordPaymentInput{
		StudentID:    student.ID,
		SchoolYearID: e.f.SchoolYear.ID,
		TotalAmount:  total,
		Split:        split,
		PaymentDate:  date,
		ActingUserID: 1,
	})
}

// commitDirect writes a payment straight through the ledger store, bypassing the service
func (e *testEnv) commitDirect(ctx context.Context, student models.Student, tranche models.Tranche, amount string) error {
	snapshot, err := e.repos.Ledger.Snapshot(ctx, student.ID, []uint{tranche.ID})
	if err != nil {
		return err
	}
	schedule, err := e.svc.FeeSchedule.Schedule(ctx, student.ClassID, student.SchoolYearID)
	if err != nil {
		return err
	}
	scholarships, err := e.svc.FeeSchedule.ScholarshipsByTranche(ctx, student.ID, student.SchoolYearID)
	if err != nil {
		return err
	}
	plan, err := ledger.Allocate(ledger.AllocationInput{
		StudentID:     student.ID,
		ClassID:       student.ClassID,
		SchoolYearID:  student.SchoolYearID,
		StudentStatus: student.Status,
		TotalAmount:   amt(amount),
		Split:         []ledger.AllocationRequest{{TrancheID: tranche.ID, Amount: amt(amount)}},
		PaymentDate:   testsupport.Date(2025, time.September, 1),
		Schedule:      schedule,
		Scholarships:  scholarships,
		Snapshot:      snapshot,
	})
	if err != nil {
		return err
	}
	_, err = e.repos.Ledger.Commit(ctx, plan, 99)
	return err
}

// snapshotHookLedger runs a hook before each Snapshot read
type snapshotHookLedger struct {
	repository.LedgerRepository
	calls int
	hook  func(ctx context.Context, n int) error
}

func (l *snapshotHookLedger) Snapshot(ctx context.Context, studentID uint, trancheIDs []uint) (map[uint]decimal.Decimal, error) {
	l.calls++
	if err := l.hook(ctx, l.calls); err != nil {
		return nil, err
	}
	return l.LedgerRepository.Snapshot(ctx, studentID, trancheIDs)
}

// brokenLedger fails every detail read
type brokenLedger struct {
	repository.LedgerRepository
	err error
}

func (l brokenLedger) LatestDetails(ctx context.Context, studentID uint) (map[uint]models.PaymentDetail, error) {
	return nil, l.err
}

type releaseFunc func(ctx context.Context) error

func (f releaseFunc) Release(ctx context.Context) error { return f(ctx) }

// hookLocker runs a hook before granting each lock
type hookLocker struct {
	obtains int
	hook    func(ctx context.Context, n int) error
}

func (l *hookLocker) Obtain(ctx context.Context, key string) (locking.Lock, error) {
	l.obtains++
	if l.hook != nil {
		if err := l.hook(ctx, l.obtains); err != nil {
			return nil, err
		}
	}
	return releaseFunc(func(context.Context) error { return nil }), nil
}

type failingSettings struct {
	err error
}

func (s failingSettings) FindBySchoolYear(ctx context.Context, schoolYearID uint) (*models.SchoolSettings, error) {
	return nil, s.err
}

func (s failingSettings) Upsert(ctx context.Context, settings *models.SchoolSettings) error {
	return s.err
}

func countOf(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
