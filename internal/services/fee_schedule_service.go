package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/pkg/logger"
	"gorm.io/gorm"
)

// Actor identifies who performed an administrative change
type Actor struct {
	UserID    uint
	IP        string
	UserAgent string
}

type scheduleKey struct {
	classID      uint
	schoolYearID uint
}

type cachedSchedule struct {
	schedule  *ledger.FeeSchedule
	expiresAt time.Time
}

// FeeScheduleService administers tranches, class amounts, scholarships and
// settings, and serves resolved fee schedules to the payment path.
type FeeScheduleService struct {
	repo     repository.FeeScheduleRepository
	settings repository.SettingsRepository
	students repository.StudentRepository
	audit    *AuditService

	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[scheduleKey]cachedSchedule
}

func NewFeeScheduleService(repo repository.FeeScheduleRepository, settings repository.SettingsRepository,
	students repository.StudentRepository, audit *AuditService, ttl time.Duration) *FeeScheduleService {
	return &FeeScheduleService{
		repo:     repo,
		settings: settings,
		students: students,
		audit:    audit,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[scheduleKey]cachedSchedule),
	}
}

// Schedule returns the fee schedule of a class for a school year. Results are
// cached for the configured TTL and dropped whenever the year's schedule changes.
func (s *FeeScheduleService) Schedule(ctx context.Context, classID, schoolYearID uint) (*ledger.FeeSchedule, error) {
	key := scheduleKey{classID: classID, schoolYearID: schoolYearID}

	if s.ttl > 0 {
		s.mu.RLock()
		entry, ok := s.cache[key]
		s.mu.RUnlock()
		if ok && s.now().Before(entry.expiresAt) {
			return entry.schedule, nil
		}
	}

	tranches, err := s.repo.ListTranches(ctx, schoolYearID)
	if err != nil {
		return nil, err
	}
	amounts, err := s.repo.ListClassAmounts(ctx, classID, schoolYearID)
	if err != nil {
		return nil, err
	}
	schedule := ledger.NewFeeSchedule(classID, schoolYearID, tranches, amounts)

	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[key] = cachedSchedule{schedule: schedule, expiresAt: s.now().Add(s.ttl)}
		s.mu.Unlock()
	}

	return schedule, nil
}

// Invalidate drops every cached schedule of a school year
func (s *FeeScheduleService) Invalidate(schoolYearID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if key.schoolYearID == schoolYearID {
			delete(s.cache, key)
		}
	}
}

// PurgeExpired removes stale cache entries. Runs as a scheduled job.
func (s *FeeScheduleService) PurgeExpired(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.cache {
		if !now.Before(entry.expiresAt) {
			delete(s.cache, key)
		}
	}
	return nil
}

func (s *FeeScheduleService) ListTranches(ctx context.Context, schoolYearID uint) ([]models.Tranche, error) {
	return s.repo.ListTranches(ctx, schoolYearID)
}

// CreateTranche adds a tranche to a school year
func (s *FeeScheduleService) CreateTranche(ctx context.Context, actor Actor, tranche *models.Tranche) error {
	if tranche.Name == "" {
		return fmt.Errorf("%w: el nombre del tramo es requerido", ErrInvalidInput)
	}
	if tranche.SchoolYearID == 0 {
		return fmt.Errorf("%w: el año escolar es requerido", ErrInvalidInput)
	}
	if tranche.UseDefaultAmount && !tranche.DefaultAmount.Valid {
		return fmt.Errorf("%w: un tramo con monto por defecto requiere default_amount", ErrInvalidInput)
	}
	if tranche.DefaultAmount.Valid && tranche.DefaultAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: default_amount no puede ser negativo", ErrInvalidInput)
	}

	if err := s.repo.CreateTranche(ctx, tranche); err != nil {
		return err
	}
	s.Invalidate(tranche.SchoolYearID)

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionCreate,
		Entity:    "Tranche",
		EntityID:  tranche.ID,
		Details:   tranche,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return nil
}

// UpdateTrancheInput holds the mutable fields of a tranche
type UpdateTrancheInput struct {
	Deadline *time.Time
	IsActive *bool
}

// UpdateTranche changes a tranche deadline or active flag
func (s *FeeScheduleService) UpdateTranche(ctx context.Context, actor Actor, id uint, input UpdateTrancheInput) (*models.Tranche, error) {
	if input.Deadline == nil && input.IsActive == nil {
		return nil, fmt.Errorf("%w: nada que actualizar", ErrInvalidInput)
	}

	tranche, err := s.repo.UpdateTranche(ctx, id, input.Deadline, input.IsActive)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Invalidate(tranche.SchoolYearID)

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionUpdate,
		Entity:    "Tranche",
		EntityID:  tranche.ID,
		Details:   map[string]interface{}{"deadline": input.Deadline, "is_active": input.IsActive},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return tranche, nil
}

// SetClassAmount creates or replaces the amount a class owes for a tranche
func (s *FeeScheduleService) SetClassAmount(ctx context.Context, actor Actor, classID, trancheID uint,
	amount decimal.Decimal, oldStudentAmount decimal.NullDecimal) (*models.ClassRequiredAmount, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: el monto no puede ser negativo", ErrInvalidInput)
	}
	if oldStudentAmount.Valid && oldStudentAmount.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: el monto para antiguos no puede ser negativo", ErrInvalidInput)
	}

	class, err := s.students.FindClass(ctx, classID)
	if err != nil {
		return nil, notFound(err)
	}
	tranche, err := s.repo.FindTranche(ctx, trancheID)
	if err != nil {
		return nil, notFound(err)
	}
	if class.SchoolYearID != tranche.SchoolYearID {
		return nil, fmt.Errorf("%w: la clase y el tramo pertenecen a años escolares distintos", ErrInvalidInput)
	}

	row := &models.ClassRequiredAmount{
		ClassID:          classID,
		TrancheID:        trancheID,
		Amount:           amount,
		OldStudentAmount: oldStudentAmount,
	}
	if err := s.repo.UpsertClassAmount(ctx, row); err != nil {
		return nil, err
	}
	s.Invalidate(tranche.SchoolYearID)

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionUpdate,
		Entity:    "ClassRequiredAmount",
		EntityID:  row.ID,
		Details:   row,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return row, nil
}

// CreateClassScholarship defines a scholarship a class offers
func (s *FeeScheduleService) CreateClassScholarship(ctx context.Context, actor Actor, scholarship *models.ClassScholarship) error {
	if scholarship.Name == "" {
		return fmt.Errorf("%w: el nombre de la beca es requerido", ErrInvalidInput)
	}
	if !scholarship.Amount.IsPositive() {
		return fmt.Errorf("%w: el monto de la beca debe ser mayor a cero", ErrInvalidInput)
	}
	if _, err := s.students.FindClass(ctx, scholarship.ClassID); err != nil {
		return notFound(err)
	}
	if scholarship.TrancheID != nil {
		if _, err := s.repo.FindTranche(ctx, *scholarship.TrancheID); err != nil {
			return notFound(err)
		}
	}

	if err := s.repo.CreateClassScholarship(ctx, scholarship); err != nil {
		return err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionCreate,
		Entity:    "ClassScholarship",
		EntityID:  scholarship.ID,
		Details:   scholarship,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return nil
}

// AwardScholarship grants a class scholarship to a student for one tranche
func (s *FeeScheduleService) AwardScholarship(ctx context.Context, actor Actor, studentID, classScholarshipID, trancheID uint) (*models.StudentScholarship, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, notFound(err)
	}
	classScholarship, err := s.repo.FindClassScholarship(ctx, classScholarshipID)
	if err != nil {
		return nil, notFound(err)
	}
	if classScholarship.ClassID != student.ClassID {
		return nil, fmt.Errorf("%w: la beca no pertenece a la clase del estudiante", ErrInvalidInput)
	}
	if classScholarship.TrancheID != nil && *classScholarship.TrancheID != trancheID {
		return nil, fmt.Errorf("%w: la beca está definida para otro tramo", ErrInvalidInput)
	}
	tranche, err := s.repo.FindTranche(ctx, trancheID)
	if err != nil {
		return nil, notFound(err)
	}
	if tranche.SchoolYearID != student.SchoolYearID {
		return nil, fmt.Errorf("%w: el tramo no pertenece al año escolar del estudiante", ErrInvalidInput)
	}

	award := &models.StudentScholarship{
		StudentID:          studentID,
		TrancheID:          trancheID,
		ClassScholarshipID: classScholarshipID,
		AmountUsed:         decimal.Zero,
	}
	if err := s.repo.CreateStudentScholarship(ctx, award); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	award.ClassScholarship = *classScholarship

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionAward,
		Entity:    "StudentScholarship",
		EntityID:  award.ID,
		Details:   map[string]uint{"student_id": studentID, "tranche_id": trancheID, "class_scholarship_id": classScholarshipID},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return award, nil
}

// ScholarshipsByTranche returns a student's awarded scholarships for a school year keyed by tranche
func (s *FeeScheduleService) ScholarshipsByTranche(ctx context.Context, studentID, schoolYearID uint) (map[uint]*models.StudentScholarship, error) {
	list, err := s.repo.ListStudentScholarships(ctx, studentID, schoolYearID)
	if err != nil {
		return nil, err
	}
	byTranche := make(map[uint]*models.StudentScholarship, len(list))
	for i := range list {
		byTranche[list[i].TrancheID] = &list[i]
	}
	return byTranche, nil
}

// GetSettings returns the settings of a school year. A year without a settings
// row has no reduction.
func (s *FeeScheduleService) GetSettings(ctx context.Context, schoolYearID uint) (*models.SchoolSettings, error) {
	settings, err := s.settings.FindBySchoolYear(ctx, schoolYearID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SchoolSettings{SchoolYearID: schoolYearID, ReductionPercentage: decimal.Zero}, nil
	}
	return settings, err
}

// UpdateSettings replaces the reduction settings of a school year
func (s *FeeScheduleService) UpdateSettings(ctx context.Context, actor Actor, settings *models.SchoolSettings) error {
	if settings.ReductionPercentage.IsNegative() || settings.ReductionPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: el porcentaje de reducción debe estar entre 0 y 100", ErrInvalidInput)
	}
	if settings.ReductionPercentage.IsPositive() && settings.ScholarshipDeadline == nil {
		logger.Ctx(ctx).Warn("Reduction percentage set without a deadline, no reduction will apply",
			"school_year_id", settings.SchoolYearID)
	}

	if err := s.settings.Upsert(ctx, settings); err != nil {
		return err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		UserID:    actor.UserID,
		Action:    models.AuditActionUpdate,
		Entity:    "SchoolSettings",
		EntityID:  settings.SchoolYearID,
		Details:   settings,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
