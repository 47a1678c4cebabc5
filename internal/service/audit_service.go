package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/export"
)

// AuditExportLimit caps an audit export to the most recent entries.
const AuditExportLimit = 100

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) {}

// AuditEntry describes a mutation to be written to the audit trail.
type AuditEntry struct {
	Actor       models.AuditActor
	Action      string
	EntityType  string
	EntityID    string
	OldValue    interface{}
	NewValue    interface{}
	Description string
}

// AuditService records and lists audit trail entries.
type AuditService struct {
	store     auditStore
	logger    *zap.Logger
	renderers map[string]datasetRenderer
}

// NewAuditService constructs AuditService.
func NewAuditService(store auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		store:  store,
		logger: logger,
		renderers: map[string]datasetRenderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
	}
}

// Record writes an entry. Failures are logged and never surface to the caller.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil || s.store == nil {
		return
	}
	log := &models.AuditLog{
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		Description: entry.Description,
		IPAddress:   entry.Actor.IPAddress,
		UserAgent:   entry.Actor.UserAgent,
		OldValue:    s.encode(entry.OldValue),
		NewValue:    s.encode(entry.NewValue),
	}
	if entry.Actor.UserID != "" {
		userID := entry.Actor.UserID
		log.UserID = &userID
	}
	if entry.EntityID != "" {
		entityID := entry.EntityID
		log.EntityID = &entityID
	}
	if err := s.store.Create(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}

func (s *AuditService) encode(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode audit value", zap.Error(err))
		return nil
	}
	return raw
}

// List returns audit entries with the total count.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	logs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, total, nil
}

// ForEntity returns the audit history of one entity.
func (s *AuditService) ForEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]models.AuditLog, int, error) {
	if entityType == "" || entityID == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "entity type and id are required")
	}
	return s.List(ctx, models.AuditFilter{EntityType: entityType, EntityID: entityID, Page: page, PageSize: pageSize})
}

// Export renders the most recent audit entries inside the optional window.
func (s *AuditService) Export(ctx context.Context, from, to *time.Time, format string) ([]byte, string, string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
	}
	logs, _, err := s.List(ctx, models.AuditFilter{From: from, To: to, Page: 1, PageSize: AuditExportLimit})
	if err != nil {
		return nil, "", "", err
	}
	payload, err := renderer.Render(auditDataset(logs))
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit logs")
	}
	return payload, renderer.ContentType(), "audit_logs." + renderer.Extension(), nil
}

func auditDataset(logs []models.AuditLog) export.Dataset {
	data := export.Dataset{
		Title:   "Audit Logs",
		Headers: []string{"Timestamp", "User", "Action", "Entity Type", "Entity ID", "Description", "IP Address"},
		Rows:    make([]map[string]string, 0, len(logs)),
	}
	for _, log := range logs {
		row := map[string]string{
			"Timestamp":   log.CreatedAt.UTC().Format(time.RFC3339),
			"Action":      log.Action,
			"Entity Type": log.EntityType,
			"Description": log.Description,
			"IP Address":  log.IPAddress,
		}
		if log.UserID != nil {
			row["User"] = *log.UserID
		}
		if log.EntityID != nil {
			row["Entity ID"] = *log.EntityID
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}
