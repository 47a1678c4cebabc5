package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type fakeMarksSheet struct {
	records    []models.MarksRecord
	rows       []models.MarksSheetRow
	listCalls  int
	filter     models.MarksFilter
	sheetLimit int
	err        error
}

func (f *fakeMarksSheet) List(ctx context.Context, filter models.MarksFilter) ([]models.MarksRecord, error) {
	f.listCalls++
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeMarksSheet) MarksSheet(ctx context.Context, subjectID string, limit int) ([]models.MarksSheetRow, error) {
	f.sheetLimit = limit
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

type memoryStatsCache struct {
	entries map[string]*models.SubjectStatistics
	puts    int
}

func (m *memoryStatsCache) Get(ctx context.Context, subjectID string) (*models.SubjectStatistics, bool) {
	stats, ok := m.entries[subjectID]
	return stats, ok
}

func (m *memoryStatsCache) Put(ctx context.Context, stats *models.SubjectStatistics) {
	if m.entries == nil {
		m.entries = make(map[string]*models.SubjectStatistics)
	}
	m.puts++
	m.entries[stats.SubjectID] = stats
}

func finalRecords(finals ...float64) []models.MarksRecord {
	records := make([]models.MarksRecord, 0, len(finals))
	for _, final := range finals {
		records = append(records, models.MarksRecord{SubjectID: "sub-1", FinalMarks: final, Status: models.MarksStatusCalculated})
	}
	return records
}

var staffViewer = models.Viewer{UserID: "fac-1", Role: models.RoleFaculty}

func newStatisticsFixture(marks *fakeMarksSheet, cache statsCache) *StatisticsService {
	scheme := exampleScheme()
	schemes := &fakeSchemeReader{schemes: map[string]*models.EvaluationScheme{scheme.ID: scheme}}
	return NewStatisticsService(schemes, marks, cache, 0, 3, nil)
}

func TestStatisticsServiceComputesAndCaches(t *testing.T) {
	marks := &fakeMarksSheet{records: finalRecords(95, 72, 40, 20)}
	cache := &memoryStatsCache{}
	svc := newStatisticsFixture(marks, cache)

	stats, hit, err := svc.SubjectStatistics(context.Background(), "sub-1", staffViewer)
	require.NoError(t, err)

	assert.False(t, hit)
	assert.True(t, marks.filter.ExcludeDraft)
	assert.Equal(t, "CS301", stats.SubjectCode)
	assert.Equal(t, 4, stats.Statistics.TotalStudents)
	assert.Equal(t, 56.75, stats.Statistics.AverageMarks)
	assert.Equal(t, 3, stats.Statistics.PassCount)
	assert.Equal(t, 75, stats.Statistics.PassPercentage)

	counts := map[string]int{}
	for _, bucket := range stats.Distribution {
		counts[bucket.Grade] = bucket.Count
	}
	assert.Equal(t, map[string]int{"F": 1, "P": 1, "B": 0, "B+": 0, "A": 1, "A+": 0, "O": 1}, counts)

	again, hit, err := svc.SubjectStatistics(context.Background(), "sub-1", staffViewer)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, stats, again)
	assert.Equal(t, 1, marks.listCalls)
	assert.Equal(t, 1, cache.puts)
}

func TestStatisticsServiceEmptySubject(t *testing.T) {
	svc := newStatisticsFixture(&fakeMarksSheet{}, nil)

	stats, _, err := svc.SubjectStatistics(context.Background(), "sub-1", staffViewer)
	require.NoError(t, err)
	assert.Equal(t, models.ClassStatistics{}, stats.Statistics)
}

func TestStatisticsServiceUnknownSubject(t *testing.T) {
	svc := newStatisticsFixture(&fakeMarksSheet{}, nil)

	_, _, err := svc.SubjectStatistics(context.Background(), "missing", staffViewer)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStatisticsServiceStoreFailure(t *testing.T) {
	svc := newStatisticsFixture(&fakeMarksSheet{err: errors.New("connection reset")}, nil)

	_, _, err := svc.SubjectStatistics(context.Background(), "sub-1", staffViewer)
	assert.Equal(t, appErrors.ErrDependency.Code, appErrors.FromError(err).Code)
}

func TestStatisticsServiceHODLimitedToDepartment(t *testing.T) {
	marks := &fakeMarksSheet{records: finalRecords(80), rows: []models.MarksSheetRow{sheetRow("CSE001", "Ravi", 80, false)}}
	svc := newStatisticsFixture(marks, &memoryStatsCache{})

	own := models.Viewer{UserID: "hod-1", Role: models.RoleHOD, Department: "CSE"}
	stats, _, err := svc.SubjectStatistics(context.Background(), "sub-1", own)
	require.NoError(t, err)
	assert.Equal(t, "CSE", stats.Department)

	other := models.Viewer{UserID: "hod-2", Role: models.RoleHOD, Department: "ECE"}
	_, hit, err := svc.SubjectStatistics(context.Background(), "sub-1", other)
	assert.False(t, hit)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, _, err = svc.Export(context.Background(), "sub-1", "csv", other)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGradeDistributionBoundaries(t *testing.T) {
	buckets := GradeDistribution(finalRecords(0, 34.99, 35, 90, 100))
	counts := map[string]int{}
	for _, bucket := range buckets {
		counts[bucket.Grade] = bucket.Count
	}
	assert.Equal(t, 2, counts["F"])
	assert.Equal(t, 1, counts["P"])
	assert.Equal(t, 2, counts["O"])
}

func sheetRow(enrollment, name string, final float64, absentMid bool) models.MarksSheetRow {
	return models.MarksSheetRow{
		EnrollmentNumber: &enrollment,
		FirstName:        name,
		Marks: models.ComponentMarks{
			{ComponentName: models.ComponentQuiz, ComponentID: "quiz", MarksObtained: 8, MaxMarks: 10},
			{ComponentName: models.ComponentMidterm, ComponentID: "mid", MarksObtained: 0, MaxMarks: 30, IsAbsent: absentMid},
		},
		WeightedMarks: final,
		FinalMarks:    final,
		Status:        models.MarksStatusCalculated,
	}
}

func TestStatisticsServiceExportCSV(t *testing.T) {
	marks := &fakeMarksSheet{
		records: finalRecords(86, 40),
		rows:    []models.MarksSheetRow{sheetRow("CSE001", "Ravi", 86, false), sheetRow("CSE002", "Meera", 40, true)},
	}
	svc := newStatisticsFixture(marks, nil)

	payload, contentType, filename, err := svc.Export(context.Background(), "sub-1", "CSV", staffViewer)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "cs301_marks.csv", filename)
	assert.Equal(t, 4, marks.sheetLimit)

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1
	lines, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"Enrollment", "Student", "Quiz", "Midterm", "Lab", "Weighted", "Bonus", "Grace", "Final", "Status"}, lines[0])
	assert.Equal(t, "CSE001", lines[1][0])
	assert.Equal(t, "86.00", lines[1][8])
	assert.Equal(t, "AB", lines[2][3])
	assert.Equal(t, []string{"Pass percentage", "100%"}, lines[len(lines)-1])
}

func TestStatisticsServiceExportPDF(t *testing.T) {
	marks := &fakeMarksSheet{records: finalRecords(86), rows: []models.MarksSheetRow{sheetRow("CSE001", "Ravi", 86, false)}}
	svc := newStatisticsFixture(marks, nil)

	payload, contentType, filename, err := svc.Export(context.Background(), "sub-1", "pdf", staffViewer)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, "cs301_marks.pdf", filename)
	assert.True(t, bytes.HasPrefix(payload, []byte("%PDF")))
}

func TestStatisticsServiceExportRejectsFormatAndLargeSheets(t *testing.T) {
	rows := []models.MarksSheetRow{
		sheetRow("CSE001", "A", 50, false), sheetRow("CSE002", "B", 50, false),
		sheetRow("CSE003", "C", 50, false), sheetRow("CSE004", "D", 50, false),
	}
	svc := newStatisticsFixture(&fakeMarksSheet{rows: rows}, nil)

	_, _, _, err := svc.Export(context.Background(), "sub-1", "xlsx", staffViewer)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, _, err = svc.Export(context.Background(), "sub-1", "csv", staffViewer)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
