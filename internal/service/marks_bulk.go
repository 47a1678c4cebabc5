package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

// enrollmentColumns are the accepted headers of the student column, in lookup order.
var enrollmentColumns = []string{"enrollmentNumber", "enrollment", "Enrollment Number"}

const absentSuffix = "_absent"

// csvRow resolves cells of one data row by header name.
type csvRow struct {
	index  map[string]int
	fields []string
}

func (r csvRow) get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// first returns the first non-empty cell among the columns.
func (r csvRow) first(columns ...string) string {
	for _, column := range columns {
		if v := r.get(column); v != "" {
			return v
		}
	}
	return ""
}

// componentColumns lists the header spellings accepted for a component: exact, lower-cased
// without spaces, and upper-cased.
func componentColumns(name models.ComponentName) []string {
	exact := string(name)
	compact := strings.ReplaceAll(strings.ToLower(exact), " ", "")
	return []string{exact, compact, strings.ToUpper(exact)}
}

// BulkUpload ingests a marks CSV for a subject. Every row is processed independently; row
// failures are reported and never abort the upload.
func (s *MarksService) BulkUpload(ctx context.Context, subjectID string, src io.Reader, actor models.AuditActor) (*dto.BulkUploadResult, error) {
	scheme, err := s.loadScheme(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "csv file is empty")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid csv header")
	}
	index := make(map[string]int, len(header))
	for i, column := range header {
		column = strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		if _, dup := index[column]; !dup {
			index[column] = i
		}
	}

	students, err := s.users.ListStudents(ctx, models.RosterFilter{Department: scheme.Department, Semester: scheme.Semester, Section: scheme.Section})
	if err != nil {
		return nil, appErrors.Dependency(err, "failed to load roster")
	}
	roster := make(map[string]*models.User, len(students))
	for i := range students {
		if students[i].EnrollmentNumber != nil {
			roster[*students[i].EnrollmentNumber] = &students[i]
		}
	}

	result := &dto.BulkUploadResult{Success: []dto.BulkRowSuccess{}, Errors: []dto.BulkRowError{}}
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		result.TotalProcessed++
		rowNum := result.TotalProcessed
		if err != nil {
			result.Errors = append(result.Errors, dto.BulkRowError{Row: rowNum, Code: appErrors.ErrValidation.Code, Error: err.Error()})
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Dependency(err, "bulk upload cancelled")
		}

		row := csvRow{index: index, fields: fields}
		success, rowErr := s.ingestRow(ctx, scheme, roster, row, actor)
		if rowErr != nil {
			rowErr.Row = rowNum
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		success.Row = rowNum
		result.Success = append(result.Success, *success)
	}

	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionUpload,
		EntityType:  models.AuditEntityStudentMarks,
		EntityID:    scheme.ID,
		NewValue:    map[string]int{"total": result.TotalProcessed, "succeeded": len(result.Success), "failed": len(result.Errors)},
		Description: fmt.Sprintf("bulk marks upload for %s", scheme.SubjectCode),
	})
	if len(result.Errors) > 0 {
		s.logger.Warn("bulk upload finished with row errors",
			zap.String("subject_id", scheme.ID),
			zap.Int("total", result.TotalProcessed),
			zap.Int("failed", len(result.Errors)))
	}
	return result, nil
}

func (s *MarksService) ingestRow(ctx context.Context, scheme *models.EvaluationScheme, roster map[string]*models.User, row csvRow, actor models.AuditActor) (*dto.BulkRowSuccess, *dto.BulkRowError) {
	enrollment := row.first(enrollmentColumns...)
	if enrollment == "" {
		return nil, &dto.BulkRowError{EnrollmentNumber: "Unknown", Code: appErrors.ErrValidation.Code, Error: "enrollment number not found"}
	}
	student, ok := roster[enrollment]
	if !ok {
		return nil, &dto.BulkRowError{EnrollmentNumber: enrollment, Code: appErrors.ErrNotFound.Code, Error: "student not found"}
	}

	marks := make(models.ComponentMarks, 0, len(scheme.Components))
	for _, comp := range scheme.Components {
		raw := row.first(componentColumns(comp.Name)...)
		if raw == "" {
			continue
		}
		obtained, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(obtained) || math.IsInf(obtained, 0) {
			return nil, &dto.BulkRowError{EnrollmentNumber: enrollment, Code: appErrors.ErrValidation.Code, Error: fmt.Sprintf("invalid marks for %s: %s", comp.Name, raw)}
		}
		absent := obtained < 0 || strings.EqualFold(row.get(string(comp.Name)+absentSuffix), "yes")
		mark, err := newComponentMark(comp, obtained, absent)
		if err != nil {
			appErr := appErrors.FromError(err)
			return nil, &dto.BulkRowError{EnrollmentNumber: enrollment, Code: appErr.Code, Error: appErr.Message}
		}
		marks = append(marks, mark)
	}

	record, err := s.save(ctx, scheme, student, marks, nil, actor)
	if err != nil {
		appErr := appErrors.FromError(err)
		return nil, &dto.BulkRowError{EnrollmentNumber: enrollment, Code: appErr.Code, Error: appErr.Message}
	}
	return &dto.BulkRowSuccess{
		EnrollmentNumber: enrollment,
		StudentID:        student.ID,
		StudentName:      student.FullName(),
		RecordID:         record.ID,
		FinalMarks:       record.FinalMarks,
	}, nil
}
