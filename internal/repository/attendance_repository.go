package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academic-records-api/internal/models"
)

// AttendanceRepository persists monthly subject attendance.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository creates a new repository instance.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// ListPercentages returns every stored monthly percentage of a student in a subject.
func (r *AttendanceRepository) ListPercentages(ctx context.Context, studentID, subjectID string) ([]float64, error) {
	const query = `SELECT percentage FROM attendance_records WHERE student_id = $1 AND subject_id = $2 ORDER BY year, month`
	percentages := []float64{}
	if err := r.db.SelectContext(ctx, &percentages, query, studentID, subjectID); err != nil {
		return nil, fmt.Errorf("list attendance percentages: %w", err)
	}
	return percentages, nil
}

// List returns attendance records matching the filter, newest month first.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	query := `SELECT id, student_id, subject_id, total_classes, attended_classes, percentage, month, year, marked_by, created_at, updated_at
        FROM attendance_records WHERE 1=1`
	args := []interface{}{}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", len(args)+1)
		args = append(args, filter.SubjectID)
	}
	if filter.Month > 0 {
		query += fmt.Sprintf(" AND month = $%d", len(args)+1)
		args = append(args, filter.Month)
	}
	if filter.Year > 0 {
		query += fmt.Sprintf(" AND year = $%d", len(args)+1)
		args = append(args, filter.Year)
	}
	query += " ORDER BY year DESC, month DESC"

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// Upsert stores a monthly record, replacing the counts of an existing month.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.RecomputePercentage()

	const query = `INSERT INTO attendance_records (id, student_id, subject_id, total_classes, attended_classes, percentage, month, year, marked_by, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :total_classes, :attended_classes, :percentage, :month, :year, :marked_by, :created_at, :updated_at)
        ON CONFLICT (student_id, subject_id, month, year) DO UPDATE SET total_classes = EXCLUDED.total_classes,
        attended_classes = EXCLUDED.attended_classes, percentage = EXCLUDED.percentage, marked_by = EXCLUDED.marked_by,
        updated_at = EXCLUDED.updated_at
        RETURNING id`
	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare attendance upsert: %w", err)
	}
	defer stmt.Close()
	if err := stmt.GetContext(ctx, &record.ID, record); err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// Summary aggregates a student's attendance per subject.
func (r *AttendanceRepository) Summary(ctx context.Context, studentID string) ([]models.AttendanceSummary, error) {
	const query = `SELECT a.subject_id, s.subject_code, s.subject_name,
        COALESCE(SUM(a.total_classes), 0) AS total_classes,
        COALESCE(SUM(a.attended_classes), 0) AS attended_classes,
        COALESCE(AVG(a.percentage), 0) AS average_percentage
        FROM attendance_records a JOIN evaluation_schemes s ON s.id = a.subject_id
        WHERE a.student_id = $1
        GROUP BY a.subject_id, s.subject_code, s.subject_name
        ORDER BY s.subject_code`
	var summaries []models.AttendanceSummary
	if err := r.db.SelectContext(ctx, &summaries, query, studentID); err != nil {
		return nil, fmt.Errorf("summarise attendance: %w", err)
	}
	for i := range summaries {
		summaries[i].OverallPercentage = models.AttendancePercentage(summaries[i].AttendedClasses, summaries[i].TotalClasses)
	}
	return summaries, nil
}
