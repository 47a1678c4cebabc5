package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academic-records-api/internal/models"
)

const marksColumns = `id, student_id, subject_id, department, semester, section, marks, total_marks, weighted_marks,
        attendance_bonus, grace_marks_applied, final_marks, status, entered_by, approved_by, version, created_at, updated_at`

// MarksRepository persists student marks records.
type MarksRepository struct {
	db *sqlx.DB
}

// NewMarksRepository creates a new repository instance.
func NewMarksRepository(db *sqlx.DB) *MarksRepository {
	return &MarksRepository{db: db}
}

// List returns marks records matching the filter in roster order.
func (r *MarksRepository) List(ctx context.Context, filter models.MarksFilter) ([]models.MarksRecord, error) {
	query := `SELECT ` + marksColumns + ` FROM marks_records WHERE 1=1`
	args := []interface{}{}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", len(args)+1)
		args = append(args, filter.SubjectID)
	}
	if filter.Department != "" {
		query += fmt.Sprintf(" AND department = $%d", len(args)+1)
		args = append(args, filter.Department)
	}
	if filter.Semester > 0 {
		query += fmt.Sprintf(" AND semester = $%d", len(args)+1)
		args = append(args, filter.Semester)
	}
	if filter.Section != "" {
		query += fmt.Sprintf(" AND section = $%d", len(args)+1)
		args = append(args, filter.Section)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	if filter.ExcludeDraft {
		query += fmt.Sprintf(" AND status <> $%d", len(args)+1)
		args = append(args, models.MarksStatusDraft)
	}
	query += " ORDER BY created_at, id"

	var records []models.MarksRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list marks records: %w", err)
	}
	return records, nil
}

// ListBySubject returns every marks record of a subject.
func (r *MarksRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.MarksRecord, error) {
	return r.List(ctx, models.MarksFilter{SubjectID: subjectID})
}

// FindByID returns a marks record by identifier.
func (r *MarksRepository) FindByID(ctx context.Context, id string) (*models.MarksRecord, error) {
	const query = `SELECT ` + marksColumns + ` FROM marks_records WHERE id = $1`
	var record models.MarksRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find marks record: %w", err)
	}
	return &record, nil
}

// FindByStudentSubject returns the marks record of a student in a subject.
func (r *MarksRepository) FindByStudentSubject(ctx context.Context, studentID, subjectID string) (*models.MarksRecord, error) {
	const query = `SELECT ` + marksColumns + ` FROM marks_records WHERE student_id = $1 AND subject_id = $2`
	var record models.MarksRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find marks record by student: %w", err)
	}
	return &record, nil
}

// Create inserts a new marks record at version 1.
func (r *MarksRepository) Create(ctx context.Context, record *models.MarksRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Version = 1

	const query = `INSERT INTO marks_records (id, student_id, subject_id, department, semester, section, marks, total_marks,
        weighted_marks, attendance_bonus, grace_marks_applied, final_marks, status, entered_by, approved_by, version, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :department, :semester, :section, :marks, :total_marks, :weighted_marks,
        :attendance_bonus, :grace_marks_applied, :final_marks, :status, :entered_by, :approved_by, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create marks record: %w", err)
	}
	return nil
}

// Update writes every mutable column when the stored version still matches.
func (r *MarksRepository) Update(ctx context.Context, record *models.MarksRecord) error {
	const query = `UPDATE marks_records SET marks = :marks, total_marks = :total_marks, weighted_marks = :weighted_marks,
        attendance_bonus = :attendance_bonus, grace_marks_applied = :grace_marks_applied, final_marks = :final_marks,
        status = :status, entered_by = :entered_by, approved_by = :approved_by, version = version + 1, updated_at = :updated_at
        WHERE id = :id AND version = :version`
	return r.versionedExec(ctx, query, record, "update marks record")
}

// SaveComputed writes the derived fields and status of a record in one statement.
func (r *MarksRepository) SaveComputed(ctx context.Context, record *models.MarksRecord) error {
	const query = `UPDATE marks_records SET marks = :marks, weighted_marks = :weighted_marks, attendance_bonus = :attendance_bonus,
        grace_marks_applied = :grace_marks_applied, final_marks = :final_marks, status = :status,
        version = version + 1, updated_at = :updated_at
        WHERE id = :id AND version = :version`
	return r.versionedExec(ctx, query, record, "save computed marks")
}

func (r *MarksRepository) versionedExec(ctx context.Context, query string, record *models.MarksRecord, op string) error {
	record.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", op, record.ID, models.ErrVersionConflict)
	}
	record.Version++
	return nil
}

// Delete removes a marks record.
func (r *MarksRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM marks_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete marks record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarksSheet returns the non-draft marks of a subject joined with student details.
func (r *MarksRepository) MarksSheet(ctx context.Context, subjectID string, limit int) ([]models.MarksSheetRow, error) {
	query := `SELECT m.student_id, u.enrollment_number, u.first_name, u.last_name, m.marks, m.weighted_marks,
        m.attendance_bonus, m.grace_marks_applied, m.final_marks, m.status
        FROM marks_records m JOIN users u ON u.id = m.student_id
        WHERE m.subject_id = $1 AND m.status <> $2
        ORDER BY u.enrollment_number, u.last_name`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []models.MarksSheetRow
	if err := r.db.SelectContext(ctx, &rows, query, subjectID, models.MarksStatusDraft); err != nil {
		return nil, fmt.Errorf("load marks sheet: %w", err)
	}
	return rows, nil
}
