package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academic-records-api/internal/models"
)

const schemeColumns = `id, department, semester, section, subject_code, subject_name, max_grace_marks, allow_carry_over,
        min_attendance_percentage, attendance_marks_applicable, best_of_two_enabled, best_of_two_exams,
        is_active, created_by, created_at, updated_at`

type schemeRow struct {
	ID                        string         `db:"id"`
	Department                string         `db:"department"`
	Semester                  int            `db:"semester"`
	Section                   string         `db:"section"`
	SubjectCode               string         `db:"subject_code"`
	SubjectName               string         `db:"subject_name"`
	MaxGraceMarks             float64        `db:"max_grace_marks"`
	AllowCarryOver            bool           `db:"allow_carry_over"`
	MinAttendancePercentage   float64        `db:"min_attendance_percentage"`
	AttendanceMarksApplicable float64        `db:"attendance_marks_applicable"`
	BestOfTwoEnabled          bool           `db:"best_of_two_enabled"`
	BestOfTwoExams            pq.StringArray `db:"best_of_two_exams"`
	IsActive                  bool           `db:"is_active"`
	CreatedBy                 string         `db:"created_by"`
	CreatedAt                 time.Time      `db:"created_at"`
	UpdatedAt                 time.Time      `db:"updated_at"`
}

func newSchemeRow(s *models.EvaluationScheme) schemeRow {
	exams := pq.StringArray(s.BestOfTwo.Exams)
	if exams == nil {
		exams = pq.StringArray{}
	}
	return schemeRow{
		ID:                        s.ID,
		Department:                s.Department,
		Semester:                  s.Semester,
		Section:                   s.Section,
		SubjectCode:               s.SubjectCode,
		SubjectName:               s.SubjectName,
		MaxGraceMarks:             s.GraceMarks.MaxGraceMarks,
		AllowCarryOver:            s.GraceMarks.AllowCarryOver,
		MinAttendancePercentage:   s.AttendanceThreshold.MinAttendancePercentage,
		AttendanceMarksApplicable: s.AttendanceThreshold.MarksApplicable,
		BestOfTwoEnabled:          s.BestOfTwo.Enabled,
		BestOfTwoExams:            exams,
		IsActive:                  s.IsActive,
		CreatedBy:                 s.CreatedBy,
		CreatedAt:                 s.CreatedAt,
		UpdatedAt:                 s.UpdatedAt,
	}
}

func (r schemeRow) toModel() models.EvaluationScheme {
	exams := []string(r.BestOfTwoExams)
	if exams == nil {
		exams = []string{}
	}
	return models.EvaluationScheme{
		ID:          r.ID,
		Department:  r.Department,
		Semester:    r.Semester,
		Section:     r.Section,
		SubjectCode: r.SubjectCode,
		SubjectName: r.SubjectName,
		GraceMarks: models.GraceMarksPolicy{
			MaxGraceMarks:  r.MaxGraceMarks,
			AllowCarryOver: r.AllowCarryOver,
		},
		AttendanceThreshold: models.AttendanceThresholdPolicy{
			MinAttendancePercentage: r.MinAttendancePercentage,
			MarksApplicable:         r.AttendanceMarksApplicable,
		},
		BestOfTwo: models.BestOfTwoPolicy{
			Enabled: r.BestOfTwoEnabled,
			Exams:   exams,
		},
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// SchemeRepository manages evaluation schemes and their components.
type SchemeRepository struct {
	db *sqlx.DB
}

// NewSchemeRepository creates a new repository instance.
func NewSchemeRepository(db *sqlx.DB) *SchemeRepository {
	return &SchemeRepository{db: db}
}

// List returns schemes matching the provided filters, newest first.
func (r *SchemeRepository) List(ctx context.Context, filter models.SchemeFilter) ([]models.EvaluationScheme, error) {
	query := `SELECT ` + schemeColumns + ` FROM evaluation_schemes WHERE 1=1`
	args := []interface{}{}
	if filter.Department != "" {
		query += fmt.Sprintf(" AND department = $%d", len(args)+1)
		args = append(args, filter.Department)
	}
	if filter.Semester > 0 {
		query += fmt.Sprintf(" AND semester = $%d", len(args)+1)
		args = append(args, filter.Semester)
	}
	if filter.Active != nil {
		query += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (LOWER(subject_code) LIKE $%d OR LOWER(subject_name) LIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(filter.IDs))
	}
	query += " ORDER BY created_at DESC"

	var rows []schemeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluation schemes: %w", err)
	}
	schemes := make([]models.EvaluationScheme, 0, len(rows))
	for _, row := range rows {
		scheme := row.toModel()
		components, err := r.loadComponents(ctx, scheme.ID)
		if err != nil {
			return nil, err
		}
		scheme.Components = components
		schemes = append(schemes, scheme)
	}
	return schemes, nil
}

// FindByID returns a scheme with its components. Missing schemes yield sql.ErrNoRows.
func (r *SchemeRepository) FindByID(ctx context.Context, id string) (*models.EvaluationScheme, error) {
	const query = `SELECT ` + schemeColumns + ` FROM evaluation_schemes WHERE id = $1`
	var row schemeRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation scheme: %w", err)
	}
	scheme := row.toModel()
	components, err := r.loadComponents(ctx, id)
	if err != nil {
		return nil, err
	}
	scheme.Components = components
	return &scheme, nil
}

// Exists checks whether a subject code is already used for a department and semester.
func (r *SchemeRepository) Exists(ctx context.Context, department string, semester int, subjectCode, excludeID string) (bool, error) {
	query := "SELECT 1 FROM evaluation_schemes WHERE department = $1 AND semester = $2 AND subject_code = $3"
	args := []interface{}{department, semester, subjectCode}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check evaluation scheme: %w", err)
	}
	return true, nil
}

// Create inserts a scheme together with its components.
func (r *SchemeRepository) Create(ctx context.Context, scheme *models.EvaluationScheme) error {
	if scheme.ID == "" {
		scheme.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if scheme.CreatedAt.IsZero() {
		scheme.CreatedAt = now
	}
	scheme.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin evaluation scheme tx: %w", err)
	}
	const insertScheme = `INSERT INTO evaluation_schemes (id, department, semester, section, subject_code, subject_name,
        max_grace_marks, allow_carry_over, min_attendance_percentage, attendance_marks_applicable, best_of_two_enabled,
        best_of_two_exams, is_active, created_by, created_at, updated_at)
        VALUES (:id, :department, :semester, :section, :subject_code, :subject_name, :max_grace_marks, :allow_carry_over,
        :min_attendance_percentage, :attendance_marks_applicable, :best_of_two_enabled, :best_of_two_exams, :is_active,
        :created_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertScheme, newSchemeRow(scheme)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert evaluation scheme: %w", err)
	}
	if err := r.replaceComponentsTx(ctx, tx, scheme.ID, scheme.Components); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation scheme: %w", err)
	}
	return nil
}

// Update replaces scheme metadata and components.
func (r *SchemeRepository) Update(ctx context.Context, scheme *models.EvaluationScheme) error {
	scheme.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin evaluation scheme tx: %w", err)
	}
	const updateScheme = `UPDATE evaluation_schemes SET department = :department, semester = :semester, section = :section,
        subject_code = :subject_code, subject_name = :subject_name, max_grace_marks = :max_grace_marks,
        allow_carry_over = :allow_carry_over, min_attendance_percentage = :min_attendance_percentage,
        attendance_marks_applicable = :attendance_marks_applicable, best_of_two_enabled = :best_of_two_enabled,
        best_of_two_exams = :best_of_two_exams, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, updateScheme, newSchemeRow(scheme))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update evaluation scheme: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if err := r.replaceComponentsTx(ctx, tx, scheme.ID, scheme.Components); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation scheme: %w", err)
	}
	return nil
}

// Deactivate soft deletes a scheme.
func (r *SchemeRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE evaluation_schemes SET is_active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate evaluation scheme: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *SchemeRepository) loadComponents(ctx context.Context, schemeID string) ([]models.SchemeComponent, error) {
	const query = `SELECT id, scheme_id, name, max_marks, weightage, is_optional, position FROM scheme_components WHERE scheme_id = $1 ORDER BY position`
	var components []models.SchemeComponent
	if err := r.db.SelectContext(ctx, &components, query, schemeID); err != nil {
		return nil, fmt.Errorf("load scheme components: %w", err)
	}
	return components, nil
}

// replaceComponentsTx keeps component IDs stable when callers resend them so stored marks stay matched.
func (r *SchemeRepository) replaceComponentsTx(ctx context.Context, tx *sqlx.Tx, schemeID string, components []models.SchemeComponent) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM scheme_components WHERE scheme_id = $1`, schemeID); err != nil {
		return fmt.Errorf("clear scheme components: %w", err)
	}
	const insert = `INSERT INTO scheme_components (id, scheme_id, name, max_marks, weightage, is_optional, position)
        VALUES (:id, :scheme_id, :name, :max_marks, :weightage, :is_optional, :position)`
	for i := range components {
		if components[i].ID == "" {
			components[i].ID = uuid.NewString()
		}
		components[i].SchemeID = schemeID
		components[i].Position = i
		if _, err := tx.NamedExecContext(ctx, insert, components[i]); err != nil {
			return fmt.Errorf("insert scheme component: %w", err)
		}
	}
	return nil
}
