package service

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/logging"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditEntry struct {
	UserID     *uint
	Action     string
	Resource   string
	ResourceID string
	IP         string
	UserAgent  string
	Metadata   map[string]interface{}
}

// AuditService records security-relevant events.
type AuditService struct {
	repo *repository.AuditRepository
}

func NewAuditService(repo *repository.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Record writes the entry outside any transaction. Errors are logged only.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) {
	if err := s.repo.Create(ctx, toAuditLog(e)); err != nil {
		logging.Errorf("[AUDIT] %s %s/%s: %v", e.Action, e.Resource, e.ResourceID, err)
	}
}

// RecordTx writes the entry as part of tx so it commits or rolls back with the change it describes.
func (s *AuditService) RecordTx(ctx context.Context, tx *gorm.DB, e AuditEntry) error {
	return s.repo.WithTx(tx).Create(ctx, toAuditLog(e))
}

func (s *AuditService) List(ctx context.Context, action string, page, limit int) ([]models.AuditLog, int64, error) {
	return s.repo.List(ctx, action, page, limit)
}

func toAuditLog(e AuditEntry) *models.AuditLog {
	entry := &models.AuditLog{
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		IP:         e.IP,
		UserAgent:  truncate(e.UserAgent, 512),
	}
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			entry.Metadata = datatypes.JSON(b)
		}
	}
	return entry
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
