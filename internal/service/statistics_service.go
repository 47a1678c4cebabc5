package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type marksSheetReader interface {
	List(ctx context.Context, filter models.MarksFilter) ([]models.MarksRecord, error)
	MarksSheet(ctx context.Context, subjectID string, limit int) ([]models.MarksSheetRow, error)
}

type statsCache interface {
	Get(ctx context.Context, subjectID string) (*models.SubjectStatistics, bool)
	Put(ctx context.Context, stats *models.SubjectStatistics)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// gradeScale lists the grade bands in ascending order.
var gradeScale = []models.GradeBucket{
	{Grade: "F", Min: 0, Max: 35},
	{Grade: "P", Min: 35, Max: 50},
	{Grade: "B", Min: 50, Max: 60},
	{Grade: "B+", Min: 60, Max: 70},
	{Grade: "A", Min: 70, Max: 80},
	{Grade: "A+", Min: 80, Max: 90},
	{Grade: "O", Min: 90, Max: 101},
}

// StatisticsService aggregates class results and renders marks sheets.
type StatisticsService struct {
	schemes   schemeReader
	marks     marksSheetReader
	cache     statsCache
	renderers map[string]datasetRenderer
	passMark  float64
	maxRows   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewStatisticsService constructs StatisticsService. cache may be nil.
func NewStatisticsService(schemes schemeReader, marks marksSheetReader, cache statsCache, passMark float64, maxRows int, logger *zap.Logger) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if passMark <= 0 {
		passMark = DefaultPassMark
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &StatisticsService{
		schemes: schemes,
		marks:   marks,
		cache:   cache,
		renderers: map[string]datasetRenderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
		passMark: passMark,
		maxRows:  maxRows,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubjectStatistics returns class statistics and grade distribution for a subject, served from
// cache when available. The boolean reports a cache hit. A HOD may only read subjects of their
// own department.
func (s *StatisticsService) SubjectStatistics(ctx context.Context, subjectID string, viewer models.Viewer) (*models.SubjectStatistics, bool, error) {
	stats, hit, err := s.subjectStatistics(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	if !viewer.CanSeeDepartment(stats.Department) {
		return nil, false, forbiddenDepartment()
	}
	return stats, hit, nil
}

func forbiddenDepartment() error {
	return appErrors.Clone(appErrors.ErrForbidden, "subject belongs to another department")
}

func (s *StatisticsService) subjectStatistics(ctx context.Context, subjectID string) (*models.SubjectStatistics, bool, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, subjectID); ok && cached.Department != "" {
			return cached, true, nil
		}
	}
	scheme, err := s.loadScheme(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	records, err := s.marks.List(ctx, models.MarksFilter{SubjectID: subjectID, ExcludeDraft: true})
	if err != nil {
		return nil, false, appErrors.Dependency(err, "failed to load marks")
	}

	stats := &models.SubjectStatistics{
		SubjectID:    scheme.ID,
		SubjectCode:  scheme.SubjectCode,
		SubjectName:  scheme.SubjectName,
		Department:   scheme.Department,
		PassMark:     s.passMark,
		Statistics:   ComputeClassStatistics(records, s.passMark),
		Distribution: GradeDistribution(records),
		GeneratedAt:  s.now(),
	}
	if s.cache != nil {
		s.cache.Put(ctx, stats)
	}
	return stats, false, nil
}

// Export renders the marks sheet of a subject in the requested format.
func (s *StatisticsService) Export(ctx context.Context, subjectID, format string, viewer models.Viewer) ([]byte, string, string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	scheme, err := s.loadScheme(ctx, subjectID)
	if err != nil {
		return nil, "", "", err
	}
	if !viewer.CanSeeDepartment(scheme.Department) {
		return nil, "", "", forbiddenDepartment()
	}
	rows, err := s.marks.MarksSheet(ctx, subjectID, s.maxRows+1)
	if err != nil {
		return nil, "", "", appErrors.Dependency(err, "failed to load marks sheet")
	}
	if len(rows) > s.maxRows {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks sheet exceeds %d rows", s.maxRows))
	}
	stats, _, err := s.subjectStatistics(ctx, subjectID)
	if err != nil {
		return nil, "", "", err
	}

	payload, err := renderer.Render(marksSheetDataset(scheme, rows, stats))
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render marks sheet")
	}
	filename := fmt.Sprintf("%s_marks.%s", strings.ToLower(scheme.SubjectCode), renderer.Extension())
	return payload, renderer.ContentType(), filename, nil
}

func (s *StatisticsService) loadScheme(ctx context.Context, subjectID string) (*models.EvaluationScheme, error) {
	scheme, err := s.schemes.FindByID(ctx, subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		return nil, appErrors.Dependency(err, "failed to load evaluation scheme")
	}
	return scheme, nil
}

// GradeDistribution buckets final marks into the grade scale.
func GradeDistribution(records []models.MarksRecord) []models.GradeBucket {
	buckets := append([]models.GradeBucket(nil), gradeScale...)
	for _, record := range records {
		for i := range buckets {
			if record.FinalMarks >= buckets[i].Min && record.FinalMarks < buckets[i].Max {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

func marksSheetDataset(scheme *models.EvaluationScheme, rows []models.MarksSheetRow, stats *models.SubjectStatistics) export.Dataset {
	headers := []string{"Enrollment", "Student"}
	for _, comp := range scheme.Components {
		headers = append(headers, string(comp.Name))
	}
	headers = append(headers, "Weighted", "Bonus", "Grace", "Final", "Status")

	data := export.Dataset{
		Title:   fmt.Sprintf("%s %s - Semester %d", scheme.SubjectCode, scheme.SubjectName, scheme.Semester),
		Headers: headers,
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		line := map[string]string{
			"Student":  strings.TrimSpace(row.FirstName + " " + row.LastName),
			"Weighted": formatMarks(row.WeightedMarks),
			"Bonus":    formatMarks(row.AttendanceBonus),
			"Grace":    formatMarks(row.GraceMarksApplied),
			"Final":    formatMarks(row.FinalMarks),
			"Status":   string(row.Status),
		}
		if row.EnrollmentNumber != nil {
			line["Enrollment"] = *row.EnrollmentNumber
		}
		for _, mark := range row.Marks {
			cell := formatMarks(mark.MarksObtained)
			if mark.IsAbsent {
				cell = "AB"
			}
			line[string(mark.ComponentName)] = cell
		}
		data.Rows = append(data.Rows, line)
	}

	st := stats.Statistics
	data.Summary = []export.SummaryLine{
		{Label: "Students", Value: fmt.Sprintf("%d", st.TotalStudents)},
		{Label: "Average", Value: formatMarks(st.AverageMarks)},
		{Label: "Highest", Value: formatMarks(st.HighestMarks)},
		{Label: "Lowest", Value: formatMarks(st.LowestMarks)},
		{Label: "Pass percentage", Value: fmt.Sprintf("%d%%", st.PassPercentage)},
	}
	return data
}

func formatMarks(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
