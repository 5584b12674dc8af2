package repository

import (
	"context"

	"github.com/sjperalta/school-ledger-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository stores the school-wide reduction settings
type SettingsRepository interface {
	FindBySchoolYear(ctx context.Context, schoolYearID uint) (*models.SchoolSettings, error)
	Upsert(ctx context.Context, settings *models.SchoolSettings) error
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) FindBySchoolYear(ctx context.Context, schoolYearID uint) (*models.SchoolSettings, error) {
	var settings models.SchoolSettings
	err := r.db.WithContext(ctx).
		Where("school_year_id = ?", schoolYearID).
		First(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Upsert creates or replaces the settings row of a school year
func (r *settingsRepository) Upsert(ctx context.Context, settings *models.SchoolSettings) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "school_year_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reduction_percentage", "scholarship_deadline", "updated_at"}),
	}).Create(settings).Error
}
