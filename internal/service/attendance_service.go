package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type attendanceRepository interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) error
	Summary(ctx context.Context, studentID string) ([]models.AttendanceSummary, error)
}

// AttendanceService records monthly attendance per student and subject.
type AttendanceService struct {
	repo      attendanceRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(repo attendanceRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = nopAudit{}
	}
	return &AttendanceService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns attendance records. Students only see their own.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter, viewer models.Viewer) ([]models.AttendanceRecord, error) {
	if viewer.IsStudent() {
		filter.StudentID = viewer.UserID
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// Record creates or replaces the attendance of a student for a subject and month.
func (s *AttendanceService) Record(ctx context.Context, req dto.AttendanceRequest, actor models.AuditActor) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	record := newAttendanceRecord(req, actor)
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attendance")
	}
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionCreate,
		EntityType:  models.AuditEntityAttendance,
		EntityID:    record.ID,
		NewValue:    record,
		Description: fmt.Sprintf("attendance %d/%d for %02d/%d", record.AttendedClasses, record.TotalClasses, record.Month, record.Year),
	})
	return record, nil
}

// Bulk records many attendance entries. Invalid or failing entries are reported by position
// and do not stop the rest.
func (s *AttendanceService) Bulk(ctx context.Context, req dto.BulkAttendanceRequest, actor models.AuditActor) (*dto.BulkAttendanceResult, error) {
	if len(req.Records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one attendance record is required")
	}
	result := &dto.BulkAttendanceResult{Errors: []dto.BulkRowError{}}
	for i, item := range req.Records {
		row := i + 1
		if err := s.validator.Struct(item); err != nil {
			result.Errors = append(result.Errors, dto.BulkRowError{Row: row, Code: appErrors.ErrValidation.Code, Error: err.Error()})
			continue
		}
		record := newAttendanceRecord(item, actor)
		if err := s.repo.Upsert(ctx, record); err != nil {
			s.logger.Warn("bulk attendance row failed", zap.Int("row", row), zap.String("student_id", item.StudentID), zap.Error(err))
			result.Errors = append(result.Errors, dto.BulkRowError{Row: row, Code: appErrors.ErrInternal.Code, Error: "failed to save attendance"})
			continue
		}
		result.Saved++
	}
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpload,
		EntityType:  models.AuditEntityAttendance,
		NewValue:    map[string]int{"saved": result.Saved, "failed": len(result.Errors)},
		Description: "bulk attendance upload",
	})
	return result, nil
}

// Summary aggregates a student's attendance per subject.
func (s *AttendanceService) Summary(ctx context.Context, studentID string, viewer models.Viewer) ([]models.AttendanceSummary, error) {
	if viewer.IsStudent() && viewer.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's attendance")
	}
	summaries, err := s.repo.Summary(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise attendance")
	}
	return summaries, nil
}

func newAttendanceRecord(req dto.AttendanceRequest, actor models.AuditActor) *models.AttendanceRecord {
	record := &models.AttendanceRecord{
		StudentID:       req.StudentID,
		SubjectID:       req.SubjectID,
		TotalClasses:    req.TotalClasses,
		AttendedClasses: req.AttendedClasses,
		Month:           req.Month,
		Year:            req.Year,
	}
	if actor.UserID != "" {
		markedBy := actor.UserID
		record.MarkedBy = &markedBy
	}
	record.RecomputePercentage()
	return record
}
