package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/database"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type schemeStore interface {
	List(ctx context.Context, filter models.SchemeFilter) ([]models.EvaluationScheme, error)
	FindByID(ctx context.Context, id string) (*models.EvaluationScheme, error)
	Exists(ctx context.Context, department string, semester int, subjectCode, excludeID string) (bool, error)
	Create(ctx context.Context, scheme *models.EvaluationScheme) error
	Update(ctx context.Context, scheme *models.EvaluationScheme) error
	Deactivate(ctx context.Context, id string) error
}

type rosterReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListStudents(ctx context.Context, filter models.RosterFilter) ([]models.User, error)
}

type subjectDirectory interface {
	rosterReader
	AssignedSubjects(ctx context.Context, userID string) ([]string, error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context, subjectIDs ...string)
}

// SchemeService manages evaluation schemes.
type SchemeService struct {
	repo            schemeStore
	users           subjectDirectory
	audit           auditRecorder
	stats           statsInvalidator
	defaultMaxGrace float64
	validator       *validator.Validate
	logger          *zap.Logger
}

// NewSchemeService constructs SchemeService.
func NewSchemeService(repo schemeStore, users subjectDirectory, audit auditRecorder, stats statsInvalidator, defaultMaxGrace float64, validate *validator.Validate, logger *zap.Logger) *SchemeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = nopAudit{}
	}
	if stats == nil {
		stats = nopStatsInvalidator{}
	}
	if defaultMaxGrace < 0 {
		defaultMaxGrace = models.DefaultMaxGrace
	}
	return &SchemeService{
		repo:            repo,
		users:           users,
		audit:           audit,
		stats:           stats,
		defaultMaxGrace: defaultMaxGrace,
		validator:       validate,
		logger:          logger,
	}
}

// List returns schemes matching the filter. A HOD without an explicit department filter sees
// their own department only.
func (s *SchemeService) List(ctx context.Context, filter models.SchemeFilter, viewer models.Viewer) ([]models.EvaluationScheme, error) {
	filter.Department = viewer.DepartmentScope(filter.Department)
	return s.list(ctx, filter)
}

func (s *SchemeService) list(ctx context.Context, filter models.SchemeFilter) ([]models.EvaluationScheme, error) {
	schemes, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluation schemes")
	}
	return schemes, nil
}

// Get returns a scheme by identifier.
func (s *SchemeService) Get(ctx context.Context, id string) (*models.EvaluationScheme, error) {
	scheme, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation scheme")
	}
	return scheme, nil
}

// Mine returns the active schemes relevant to the caller: a student's department, semester
// and section; a faculty member's assigned subjects; a HOD's department. Faculty without
// assignments and admins see every active scheme.
func (s *SchemeService) Mine(ctx context.Context, viewer models.Viewer) ([]models.EvaluationScheme, error) {
	active := true
	filter := models.SchemeFilter{Active: &active}
	switch viewer.Role {
	case models.RoleStudent:
		return s.studentSchemes(ctx, viewer.UserID)
	case models.RoleHOD:
		filter.Department = viewer.Department
	case models.RoleFaculty:
		assigned, err := s.users.AssignedSubjects(ctx, viewer.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assigned subjects")
		}
		filter.IDs = assigned
	}
	return s.list(ctx, filter)
}

func (s *SchemeService) studentSchemes(ctx context.Context, studentID string) ([]models.EvaluationScheme, error) {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Department == nil || student.Semester == nil {
		return []models.EvaluationScheme{}, nil
	}
	active := true
	schemes, err := s.list(ctx, models.SchemeFilter{Department: *student.Department, Semester: *student.Semester, Active: &active})
	if err != nil {
		return nil, err
	}
	section := ""
	if student.Section != nil {
		section = strings.ToUpper(*student.Section)
	}
	mine := make([]models.EvaluationScheme, 0, len(schemes))
	for _, scheme := range schemes {
		if scheme.Section == "" || scheme.Section == section {
			mine = append(mine, scheme)
		}
	}
	return mine, nil
}

// Create validates and stores a new scheme.
func (s *SchemeService) Create(ctx context.Context, req dto.SchemeRequest, actor models.AuditActor) (*models.EvaluationScheme, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation scheme payload")
	}
	params := req.Params(actor.UserID)
	if params.Grace == nil {
		params.Grace = &models.GraceMarksPolicy{MaxGraceMarks: s.defaultMaxGrace}
	}
	scheme, err := models.NewEvaluationScheme(params)
	if err != nil {
		return nil, schemeValidationError(err)
	}

	if err := s.ensureUnique(ctx, scheme, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, scheme); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, duplicateSchemeError(scheme)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation scheme")
	}

	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionCreate,
		EntityType:  models.AuditEntityScheme,
		EntityID:    scheme.ID,
		NewValue:    scheme,
		Description: fmt.Sprintf("created evaluation scheme %s", scheme.SubjectCode),
	})
	return scheme, nil
}

// Update replaces a scheme's fields and components. Components without an ID keep the ID of the
// existing component with the same name.
func (s *SchemeService) Update(ctx context.Context, id string, req dto.SchemeRequest, actor models.AuditActor) (*models.EvaluationScheme, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation scheme payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	params := req.Params(existing.CreatedBy)
	if params.Grace == nil {
		grace := existing.GraceMarks
		params.Grace = &grace
	}
	if params.Attendance == nil {
		attendance := existing.AttendanceThreshold
		params.Attendance = &attendance
	}
	if req.BestOfTwo == nil {
		params.BestOfTwo = existing.BestOfTwo
	}
	byName := make(map[models.ComponentName]string, len(existing.Components))
	for _, comp := range existing.Components {
		byName[comp.Name] = comp.ID
	}
	for i := range params.Components {
		if params.Components[i].ID == "" {
			params.Components[i].ID = byName[params.Components[i].Name]
		}
	}

	updated, err := models.NewEvaluationScheme(params)
	if err != nil {
		return nil, schemeValidationError(err)
	}
	updated.ID = existing.ID
	updated.IsActive = existing.IsActive
	updated.CreatedAt = existing.CreatedAt

	if err := s.ensureUnique(ctx, updated, id); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		if database.IsUniqueViolation(err) {
			return nil, duplicateSchemeError(updated)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evaluation scheme")
	}

	s.stats.Invalidate(ctx, id)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpdate,
		EntityType:  models.AuditEntityScheme,
		EntityID:    id,
		OldValue:    existing,
		NewValue:    updated,
		Description: fmt.Sprintf("updated evaluation scheme %s", updated.SubjectCode),
	})
	return updated, nil
}

// Delete deactivates a scheme. Marks recorded against it are kept.
func (s *SchemeService) Delete(ctx context.Context, id string, actor models.AuditActor) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete evaluation scheme")
	}
	s.stats.Invalidate(ctx, id)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionDelete,
		EntityType:  models.AuditEntityScheme,
		EntityID:    id,
		OldValue:    existing,
		Description: fmt.Sprintf("deactivated evaluation scheme %s", existing.SubjectCode),
	})
	return nil
}

// Template renders the bulk upload CSV for a scheme, pre-filled with the enrollment
// numbers of its roster.
func (s *SchemeService) Template(ctx context.Context, id string) ([]byte, string, error) {
	scheme, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	students, err := s.users.ListStudents(ctx, models.RosterFilter{Department: scheme.Department, Semester: scheme.Semester, Section: scheme.Section})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	header := make([]string, 0, len(scheme.Components)+1)
	header = append(header, enrollmentColumns[0])
	for _, comp := range scheme.Components {
		header = append(header, string(comp.Name))
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(header); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template")
	}
	for _, student := range students {
		if student.EnrollmentNumber == nil {
			continue
		}
		row := make([]string, len(header))
		row[0] = *student.EnrollmentNumber
		if err := writer.Write(row); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template")
	}
	filename := fmt.Sprintf("%s_marks_template.csv", strings.ToLower(scheme.SubjectCode))
	return buf.Bytes(), filename, nil
}

func (s *SchemeService) ensureUnique(ctx context.Context, scheme *models.EvaluationScheme, excludeID string) error {
	exists, err := s.repo.Exists(ctx, scheme.Department, scheme.Semester, scheme.SubjectCode, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if exists {
		return duplicateSchemeError(scheme)
	}
	return nil
}

func duplicateSchemeError(scheme *models.EvaluationScheme) error {
	return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("evaluation scheme for %s already exists in %s semester %d", scheme.SubjectCode, scheme.Department, scheme.Semester))
}

func schemeValidationError(err error) error {
	var vErr *models.SchemeValidationError
	if errors.As(err, &vErr) && vErr.Weights {
		return appErrors.Wrap(err, appErrors.ErrInvalidWeights.Code, appErrors.ErrInvalidWeights.Status, vErr.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
}
