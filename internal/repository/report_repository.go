package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"

	"gorm.io/gorm"
)

// ClassTrancheTotal aggregates the ledger of one class for one tranche
type ClassTrancheTotal struct {
	ClassID           uint            `json:"class_id"`
	ClassName         string          `json:"class_name"`
	TrancheID         uint            `json:"tranche_id"`
	TrancheName       string          `json:"tranche_name"`
	TotalCollected    decimal.Decimal `json:"total_collected"`
	PaymentsCount     int64           `json:"payments_count"`
	FullyPaidStudents int64           `json:"fully_paid_students"`
}

// ReportRepository runs read-only aggregations over the ledger
type ReportRepository interface {
	ClassTrancheTotals(ctx context.Context, schoolYearID uint) ([]ClassTrancheTotal, error)
	LatestDetailsForClass(ctx context.Context, classID, trancheID uint) (map[uint]models.PaymentDetail, error)
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) ClassTrancheTotals(ctx context.Context, schoolYearID uint) ([]ClassTrancheTotal, error) {
	var rows []ClassTrancheTotal
	err := r.db.WithContext(ctx).
		Table("payment_details").
		Select(`classes.id AS class_id,
			classes.name AS class_name,
			tranches.id AS tranche_id,
			tranches.name AS tranche_name,
			COALESCE(SUM(payment_details.amount_allocated), 0) AS total_collected,
			COUNT(DISTINCT payment_details.payment_id) AS payments_count,
			COUNT(DISTINCT CASE WHEN payment_details.is_fully_paid THEN payment_details.student_id END) AS fully_paid_students`).
		Joins("JOIN students ON students.id = payment_details.student_id").
		Joins("JOIN classes ON classes.id = students.class_id").
		Joins("JOIN tranches ON tranches.id = payment_details.tranche_id").
		Where("tranches.school_year_id = ?", schoolYearID).
		Group("classes.id, classes.name, tranches.id, tranches.name, tranches.sort_order").
		Order("classes.name ASC, tranches.sort_order ASC, tranches.id ASC").
		Scan(&rows).Error
	return rows, err
}

// LatestDetailsForClass returns, per student of the class, the newest detail of a tranche
func (r *reportRepository) LatestDetailsForClass(ctx context.Context, classID, trancheID uint) (map[uint]models.PaymentDetail, error) {
	var details []models.PaymentDetail
	err := r.db.WithContext(ctx).
		Joins("JOIN students ON students.id = payment_details.student_id").
		Where("students.class_id = ? AND payment_details.tranche_id = ?", classID, trancheID).
		Order("payment_details.id ASC").
		Find(&details).Error
	if err != nil {
		return nil, err
	}

	latest := make(map[uint]models.PaymentDetail)
	for _, d := range details {
		latest[d.StudentID] = d
	}
	return latest, nil
}
