package services

import (
	"context"
	"encoding/json"

	"github.com/sjperalta/school-ledger-api/internal/jobs"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/pkg/logger"
	"gorm.io/gorm"
)

// AuditEntry describes one mutation to be recorded in the audit log
type AuditEntry struct {
	UserID    uint
	Action    string
	Entity    string
	EntityID  uint
	Details   interface{}
	IP        string
	UserAgent string
}

type AuditService struct {
	db     *gorm.DB
	worker *jobs.Worker
}

func NewAuditService(db *gorm.DB, worker *jobs.Worker) *AuditService {
	return &AuditService{db: db, worker: worker}
}

// Log records an audit entry
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}

	logEntry := &models.AuditLog{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		Details:   string(details),
		IPAddress: entry.IP,
		UserAgent: entry.UserAgent,
	}
	return s.db.WithContext(ctx).Create(logEntry).Error
}

// LogAsync records the entry on the background worker. Failures are logged only:
// the audited operation has already been committed.
func (s *AuditService) LogAsync(ctx context.Context, entry AuditEntry) {
	if s.worker == nil {
		if err := s.Log(ctx, entry); err != nil {
			logger.Ctx(ctx).Error("Failed to write audit log", "entity", entry.Entity, "error", err)
		}
		return
	}

	requestID := logger.RequestID(ctx)
	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		// the entry must survive worker shutdown
		jobCtx = logger.WithRequestID(context.WithoutCancel(jobCtx), requestID)
		return s.Log(jobCtx, entry)
	})
}

// List retrieves audit logs, newest first, optionally filtered by entity
func (s *AuditService) List(ctx context.Context, entity string, limit, offset int) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	db := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if entity != "" {
		db = db.Where("entity = ?", entity)
	}

	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := db.Order("created_at desc, id desc").Limit(limit).Offset(offset).Find(&logs)
	return logs, total, result.Error
}
