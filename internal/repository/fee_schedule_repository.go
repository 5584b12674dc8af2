package repository

import (
	"context"
	"time"

	"github.com/sjperalta/school-ledger-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeeScheduleRepository stores tranches, class amounts and scholarships
type FeeScheduleRepository interface {
	ListTranches(ctx context.Context, schoolYearID uint) ([]models.Tranche, error)
	FindTranche(ctx context.Context, id uint) (*models.Tranche, error)
	CreateTranche(ctx context.Context, tranche *models.Tranche) error
	UpdateTranche(ctx context.Context, id uint, deadline *time.Time, isActive *bool) (*models.Tranche, error)

	ListClassAmounts(ctx context.Context, classID, schoolYearID uint) ([]models.ClassRequiredAmount, error)
	UpsertClassAmount(ctx context.Context, amount *models.ClassRequiredAmount) error

	CreateClassScholarship(ctx context.Context, scholarship *models.ClassScholarship) error
	FindClassScholarship(ctx context.Context, id uint) (*models.ClassScholarship, error)
	CreateStudentScholarship(ctx context.Context, scholarship *models.StudentScholarship) error
	ListStudentScholarships(ctx context.Context, studentID, schoolYearID uint) ([]models.StudentScholarship, error)
	ListScholarshipsForTranche(ctx context.Context, trancheID uint) ([]models.StudentScholarship, error)
}

type feeScheduleRepository struct {
	db *gorm.DB
}

// NewFeeScheduleRepository creates a new fee schedule repository
func NewFeeScheduleRepository(db *gorm.DB) FeeScheduleRepository {
	return &feeScheduleRepository{db: db}
}

func (r *feeScheduleRepository) ListTranches(ctx context.Context, schoolYearID uint) ([]models.Tranche, error) {
	var tranches []models.Tranche
	err := r.db.WithContext(ctx).
		Where("school_year_id = ?", schoolYearID).
		Order("sort_order ASC, id ASC").
		Find(&tranches).Error
	return tranches, err
}

func (r *feeScheduleRepository) FindTranche(ctx context.Context, id uint) (*models.Tranche, error) {
	var tranche models.Tranche
	if err := r.db.WithContext(ctx).First(&tranche, id).Error; err != nil {
		return nil, err
	}
	return &tranche, nil
}

func (r *feeScheduleRepository) CreateTranche(ctx context.Context, tranche *models.Tranche) error {
	return r.db.WithContext(ctx).Create(tranche).Error
}

// UpdateTranche changes the only mutable tranche fields: deadline and active flag
func (r *feeScheduleRepository) UpdateTranche(ctx context.Context, id uint, deadline *time.Time, isActive *bool) (*models.Tranche, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if deadline != nil {
		updates["deadline"] = *deadline
	}
	if isActive != nil {
		updates["is_active"] = *isActive
	}

	result := r.db.WithContext(ctx).Model(&models.Tranche{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return r.FindTranche(ctx, id)
}

// ListClassAmounts returns the amounts of a class for the tranches of a school year
func (r *feeScheduleRepository) ListClassAmounts(ctx context.Context, classID, schoolYearID uint) ([]models.ClassRequiredAmount, error) {
	var amounts []models.ClassRequiredAmount
	err := r.db.WithContext(ctx).
		Joins("JOIN tranches ON tranches.id = class_required_amounts.tranche_id").
		Where("class_required_amounts.class_id = ? AND tranches.school_year_id = ?", classID, schoolYearID).
		Find(&amounts).Error
	return amounts, err
}

func (r *feeScheduleRepository) UpsertClassAmount(ctx context.Context, amount *models.ClassRequiredAmount) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "class_id"}, {Name: "tranche_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "old_student_amount", "updated_at"}),
	}).Create(amount).Error
}

func (r *feeScheduleRepository) CreateClassScholarship(ctx context.Context, scholarship *models.ClassScholarship) error {
	return r.db.WithContext(ctx).Create(scholarship).Error
}

func (r *feeScheduleRepository) FindClassScholarship(ctx context.Context, id uint) (*models.ClassScholarship, error) {
	var scholarship models.ClassScholarship
	if err := r.db.WithContext(ctx).First(&scholarship, id).Error; err != nil {
		return nil, err
	}
	return &scholarship, nil
}

func (r *feeScheduleRepository) CreateStudentScholarship(ctx context.Context, scholarship *models.StudentScholarship) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(scholarship).Error
}

// ListStudentScholarships returns a student's scholarships for the tranches of a school year
func (r *feeScheduleRepository) ListStudentScholarships(ctx context.Context, studentID, schoolYearID uint) ([]models.StudentScholarship, error) {
	var scholarships []models.StudentScholarship
	err := r.db.WithContext(ctx).
		Preload("ClassScholarship").
		Joins("JOIN tranches ON tranches.id = student_scholarships.tranche_id").
		Where("student_scholarships.student_id = ? AND tranches.school_year_id = ?", studentID, schoolYearID).
		Find(&scholarships).Error
	return scholarships, err
}

func (r *feeScheduleRepository) ListScholarshipsForTranche(ctx context.Context, trancheID uint) ([]models.StudentScholarship, error) {
	var scholarships []models.StudentScholarship
	err := r.db.WithContext(ctx).
		Preload("ClassScholarship").
		Where("tranche_id = ?", trancheID).
		Find(&scholarships).Error
	return scholarships, err
}
