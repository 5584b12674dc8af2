package repository

import (
	"context"

	"github.com/sjperalta/school-ledger-api/internal/models"

	"gorm.io/gorm"
)

// StudentRepository reads the school registry
type StudentRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Student, error)
	ListByClass(ctx context.Context, classID uint) ([]models.Student, error)
	FindClass(ctx context.Context, id uint) (*models.Class, error)
}

type studentRepository struct {
	db *gorm.DB
}

// NewStudentRepository creates a new student repository
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

func (r *studentRepository) FindByID(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Preload("Class").
		First(&student, id).Error
	if err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *studentRepository) ListByClass(ctx context.Context, classID uint) ([]models.Student, error) {
	var students []models.Student
	err := r.db.WithContext(ctx).
		Where("class_id = ?", classID).
		Order("full_name ASC, id ASC").
		Find(&students).Error
	return students, err
}

func (r *studentRepository) FindClass(ctx context.Context, id uint) (*models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).First(&class, id).Error; err != nil {
		return nil, err
	}
	return &class, nil
}
