package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/database"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
)

// RecalculationJobType identifies queued roster recalculations.
const RecalculationJobType = "marks.recalculate"

type marksRepository interface {
	List(ctx context.Context, filter models.MarksFilter) ([]models.MarksRecord, error)
	FindByID(ctx context.Context, id string) (*models.MarksRecord, error)
	FindByStudentSubject(ctx context.Context, studentID, subjectID string) (*models.MarksRecord, error)
	Create(ctx context.Context, record *models.MarksRecord) error
	Update(ctx context.Context, record *models.MarksRecord) error
	Delete(ctx context.Context, id string) error
}

type marksComputer interface {
	ComputeMarks(ctx context.Context, record *models.MarksRecord, scheme *models.EvaluationScheme) (*models.ComputedMarks, error)
	RecalculateSubject(ctx context.Context, subjectID string) (*models.RecalculationResult, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job jobs.Job) (string, error)
	Status(id string) (jobs.Status, bool)
}

type recalculationPayload struct {
	SubjectID string
	Actor     models.AuditActor
}

// MarksService coordinates marks entry, review and recalculation.
type MarksService struct {
	repo            marksRepository
	schemes         schemeReader
	users           rosterReader
	calculator      marksComputer
	audit           auditRecorder
	stats           statsInvalidator
	queue           jobQueue
	maxGraceRequest float64
	validator       *validator.Validate
	logger          *zap.Logger
}

// MarksServiceConfig bundles the collaborators of MarksService.
type MarksServiceConfig struct {
	Repo            marksRepository
	Schemes         schemeReader
	Users           rosterReader
	Calculator      marksComputer
	Audit           auditRecorder
	Stats           statsInvalidator
	MaxGraceRequest float64
	Validator       *validator.Validate
	Logger          *zap.Logger
}

// NewMarksService constructs MarksService.
func NewMarksService(cfg MarksServiceConfig) *MarksService {
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Audit == nil {
		cfg.Audit = nopAudit{}
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStatsInvalidator{}
	}
	if cfg.MaxGraceRequest <= 0 {
		cfg.MaxGraceRequest = 10
	}
	return &MarksService{
		repo:            cfg.Repo,
		schemes:         cfg.Schemes,
		users:           cfg.Users,
		calculator:      cfg.Calculator,
		audit:           cfg.Audit,
		stats:           cfg.Stats,
		maxGraceRequest: cfg.MaxGraceRequest,
		validator:       cfg.Validator,
		logger:          cfg.Logger,
	}
}

// AttachQueue enables asynchronous roster recalculation.
func (s *MarksService) AttachQueue(queue jobQueue) {
	s.queue = queue
}

// List returns marks records. Students only ever see their own; a HOD without an explicit
// department filter sees their own department.
func (s *MarksService) List(ctx context.Context, filter models.MarksFilter, viewer models.Viewer) ([]models.MarksRecord, error) {
	if viewer.IsStudent() {
		filter.StudentID = viewer.UserID
	}
	filter.Department = viewer.DepartmentScope(filter.Department)
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	return records, nil
}

// Get returns one marks record.
func (s *MarksService) Get(ctx context.Context, id string, viewer models.Viewer) (*models.MarksRecord, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer.IsStudent() && record.StudentID != viewer.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's marks")
	}
	return record, nil
}

// Upsert creates or replaces the marks of a student for a subject and calculates them.
func (s *MarksService) Upsert(ctx context.Context, req dto.MarksRequest, actor models.AuditActor) (*models.MarksRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid marks payload")
	}
	if err := s.checkGrace(req.GraceMarks); err != nil {
		return nil, err
	}
	scheme, err := s.loadScheme(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	marks, err := buildComponentMarks(scheme, req.Marks)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, scheme, student, marks, &req.GraceMarks, actor)
}

// Update modifies marks, grace or status of an existing record and recalculates it.
func (s *MarksService) Update(ctx context.Context, id string, req dto.MarksUpdateRequest, actor models.AuditActor) (*models.MarksRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid marks payload")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Version != nil && *req.Version != record.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "marks record was modified by another request")
	}
	if record.Status == models.MarksStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "approved marks cannot be modified")
	}
	scheme, err := s.loadScheme(ctx, record.SubjectID)
	if err != nil {
		return nil, err
	}

	old := *record
	if req.Marks != nil {
		marks, err := buildComponentMarks(scheme, req.Marks)
		if err != nil {
			return nil, err
		}
		record.Marks = marks
	}
	if req.GraceMarks != nil {
		if err := s.checkGrace(*req.GraceMarks); err != nil {
			return nil, err
		}
		record.GraceMarksApplied = *req.GraceMarks
	}
	if err := s.calculate(ctx, record, scheme); err != nil {
		return nil, err
	}
	if req.Status != nil {
		record.Status = *req.Status
	}
	if actor.UserID != "" {
		enteredBy := actor.UserID
		record.EnteredBy = &enteredBy
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return nil, persistError(err)
	}

	s.stats.Invalidate(ctx, record.SubjectID)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpdate,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    record.ID,
		OldValue:    old,
		NewValue:    record,
		Description: fmt.Sprintf("updated marks for student %s in %s", record.StudentID, scheme.SubjectCode),
	})
	return record, nil
}

// Delete removes a marks record.
func (s *MarksService) Delete(ctx context.Context, id string, actor models.AuditActor) error {
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "marks record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete marks")
	}
	s.stats.Invalidate(ctx, record.SubjectID)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionDelete,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    id,
		OldValue:    record,
		Description: fmt.Sprintf("deleted marks for student %s", record.StudentID),
	})
	return nil
}

// Submit moves a calculated record to review.
func (s *MarksService) Submit(ctx context.Context, id string, actor models.AuditActor) (*models.MarksRecord, error) {
	return s.transition(ctx, id, actor, models.MarksStatusSubmitted, models.MarksStatusCalculated)
}

// Approve locks a calculated or submitted record.
func (s *MarksService) Approve(ctx context.Context, id string, actor models.AuditActor) (*models.MarksRecord, error) {
	return s.transition(ctx, id, actor, models.MarksStatusApproved, models.MarksStatusCalculated, models.MarksStatusSubmitted)
}

func (s *MarksService) transition(ctx context.Context, id string, actor models.AuditActor, to models.MarksStatus, from ...models.MarksStatus) (*models.MarksRecord, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, status := range from {
		if record.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move marks from %s to %s", record.Status, to))
	}

	oldStatus := record.Status
	record.Status = to
	if to == models.MarksStatusApproved && actor.UserID != "" {
		approvedBy := actor.UserID
		record.ApprovedBy = &approvedBy
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return nil, persistError(err)
	}
	s.stats.Invalidate(ctx, record.SubjectID)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpdate,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    record.ID,
		OldValue:    map[string]models.MarksStatus{"status": oldStatus},
		NewValue:    map[string]models.MarksStatus{"status": to},
		Description: fmt.Sprintf("marks %s", to),
	})
	return record, nil
}

// Recalculate recomputes every record of a subject synchronously.
func (s *MarksService) Recalculate(ctx context.Context, subjectID string, actor models.AuditActor) (*models.RecalculationResult, error) {
	result, err := s.calculator.RecalculateSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	s.stats.Invalidate(ctx, subjectID)
	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpdate,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    subjectID,
		NewValue:    map[string]int{"recalculated": len(result.Results), "failed": len(result.Errors)},
		Description: "recalculated subject marks",
	})
	if len(result.Errors) > 0 {
		s.logger.Warn("roster recalculation finished with errors",
			zap.String("subject_id", subjectID),
			zap.Int("succeeded", len(result.Results)),
			zap.Int("failed", len(result.Errors)))
	}
	return result, nil
}

// EnqueueRecalculation queues a roster recalculation on the background worker pool.
func (s *MarksService) EnqueueRecalculation(ctx context.Context, subjectID string, actor models.AuditActor) (*dto.RecalculationJobResponse, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrDependency, "background recalculation is not available")
	}
	if _, err := s.loadScheme(ctx, subjectID); err != nil {
		return nil, err
	}
	id, err := s.queue.Enqueue(ctx, jobs.Job{Type: RecalculationJobType, Payload: recalculationPayload{SubjectID: subjectID, Actor: actor}})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Dependency(err, "recalculation queue is full, retry later")
		}
		return nil, appErrors.Dependency(err, "failed to queue recalculation")
	}
	return &dto.RecalculationJobResponse{JobID: id, SubjectID: subjectID, State: string(jobs.StateQueued)}, nil
}

// JobStatus reports the state of a queued recalculation.
func (s *MarksService) JobStatus(id string) (*jobs.Status, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
	}
	status, ok := s.queue.Status(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
	}
	return &status, nil
}

// HandleRecalculationJob is the queue handler for RecalculationJobType. Only a failure to run the
// batch at all is returned; per-student failures are reported in the log. Missing subjects and
// bad payloads are marked permanent so the queue does not retry them.
func (s *MarksService) HandleRecalculationJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(recalculationPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	result, err := s.Recalculate(ctx, payload.SubjectID, payload.Actor)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrNotFound.Code) || appErrors.HasCode(err, appErrors.ErrValidation.Code) {
			return jobs.Permanent(err)
		}
		return err
	}
	s.logger.Info("queued recalculation finished",
		zap.String("job_id", job.ID),
		zap.String("subject_id", payload.SubjectID),
		zap.Int("succeeded", len(result.Results)),
		zap.Int("failed", len(result.Errors)))
	return nil
}

// save upserts the marks of student for scheme, calculating them before the write.
// A nil grace keeps the grace already recorded.
func (s *MarksService) save(ctx context.Context, scheme *models.EvaluationScheme, student *models.User, marks models.ComponentMarks, grace *float64, actor models.AuditActor) (*models.MarksRecord, error) {
	existing, err := s.repo.FindByStudentSubject(ctx, student.ID, scheme.ID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marks")
	}

	var record *models.MarksRecord
	var old *models.MarksRecord
	if existing != nil {
		if existing.Status == models.MarksStatusApproved {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approved marks cannot be modified")
		}
		snapshot := *existing
		old = &snapshot
		record = existing
	} else {
		record = &models.MarksRecord{
			StudentID:  student.ID,
			SubjectID:  scheme.ID,
			Department: scheme.Department,
			Semester:   scheme.Semester,
			Section:    scheme.Section,
		}
		if student.Section != nil && record.Section == "" {
			record.Section = *student.Section
		}
	}
	record.Marks = marks
	if grace != nil {
		record.GraceMarksApplied = *grace
	}
	if actor.UserID != "" {
		enteredBy := actor.UserID
		record.EnteredBy = &enteredBy
	}
	if err := s.calculate(ctx, record, scheme); err != nil {
		return nil, err
	}

	action := models.AuditActionCreate
	if old != nil {
		action = models.AuditActionUpdate
		err = s.repo.Update(ctx, record)
	} else {
		err = s.repo.Create(ctx, record)
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "marks for this student and subject were created concurrently")
		}
		return nil, persistError(err)
	}

	s.stats.Invalidate(ctx, scheme.ID)
	entry := AuditEntry{
		Actor:       actor,
		Action:      action,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    record.ID,
		NewValue:    record,
		Description: fmt.Sprintf("saved marks for %s in %s", student.FullName(), scheme.SubjectCode),
	}
	if old != nil {
		entry.OldValue = old
	}
	s.audit.Record(ctx, entry)
	return record, nil
}

func (s *MarksService) calculate(ctx context.Context, record *models.MarksRecord, scheme *models.EvaluationScheme) error {
	record.RecomputeTotal()
	computed, err := s.calculator.ComputeMarks(ctx, record, scheme)
	if err != nil {
		return err
	}
	record.ApplyComputed(*computed)
	return nil
}

func (s *MarksService) checkGrace(grace float64) error {
	if grace < 0 || grace > s.maxGraceRequest {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grace marks must be between 0 and %.0f", s.maxGraceRequest))
	}
	return nil
}

func (s *MarksService) load(ctx context.Context, id string) (*models.MarksRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "marks record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marks")
	}
	return record, nil
}

func (s *MarksService) loadScheme(ctx context.Context, id string) (*models.EvaluationScheme, error) {
	scheme, err := s.schemes.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		return nil, appErrors.Dependency(err, "failed to load evaluation scheme")
	}
	return scheme, nil
}

func (s *MarksService) loadStudent(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "marks can only be recorded for students")
	}
	return user, nil
}

// buildComponentMarks resolves requested component scores against the scheme.
func buildComponentMarks(scheme *models.EvaluationScheme, requested []dto.ComponentMarkRequest) (models.ComponentMarks, error) {
	marks := make(models.ComponentMarks, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, req := range requested {
		comp, ok := scheme.Component(req.ComponentID)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("component %s is not part of %s", req.ComponentID, scheme.SubjectCode))
		}
		if _, dup := seen[comp.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("component %s given twice", comp.Name))
		}
		seen[comp.ID] = struct{}{}
		mark, err := newComponentMark(comp, req.MarksObtained, req.IsAbsent)
		if err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	return marks, nil
}

func newComponentMark(comp models.SchemeComponent, obtained float64, absent bool) (models.ComponentMark, error) {
	if absent {
		obtained = 0
	}
	if comp.MaxMarks > 0 && obtained > comp.MaxMarks {
		return models.ComponentMark{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s marks %.2f exceed maximum %.2f", comp.Name, obtained, comp.MaxMarks))
	}
	return models.ComponentMark{
		ComponentName: comp.Name,
		ComponentID:   comp.ID,
		MarksObtained: obtained,
		MaxMarks:      comp.MaxMarks,
		IsAbsent:      absent,
	}, nil
}
