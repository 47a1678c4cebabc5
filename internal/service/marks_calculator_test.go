package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type fakeSchemeReader struct {
	schemes map[string]*models.EvaluationScheme
	err     error
}

func (f *fakeSchemeReader) FindByID(ctx context.Context, id string) (*models.EvaluationScheme, error) {
	if f.err != nil {
		return nil, f.err
	}
	if scheme, ok := f.schemes[id]; ok {
		return scheme, nil
	}
	return nil, sql.ErrNoRows
}

type fakeAttendanceReader struct {
	percentages map[string][]float64
	failFor     map[string]bool
	calls       int
	mu          sync.Mutex
}

func (f *fakeAttendanceReader) ListPercentages(ctx context.Context, studentID, subjectID string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[studentID] {
		return nil, errors.New("attendance store unavailable")
	}
	return f.percentages[studentID], nil
}

type fakeMarksStore struct {
	records  []models.MarksRecord
	saved    map[string]models.MarksRecord
	conflict map[string]bool
	listErr  error
	mu       sync.Mutex
}

func (f *fakeMarksStore) ListBySubject(ctx context.Context, subjectID string) ([]models.MarksRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.MarksRecord
	for _, record := range f.records {
		if record.SubjectID == subjectID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeMarksStore) SaveComputed(ctx context.Context, record *models.MarksRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflict[record.ID] {
		return models.ErrVersionConflict
	}
	if f.saved == nil {
		f.saved = make(map[string]models.MarksRecord)
	}
	f.saved[record.ID] = *record
	return nil
}

type fakeCalculationObserver struct {
	mu       sync.Mutex
	outcomes []string
	sizes    []int
}

func (f *fakeCalculationObserver) ObserveCalculation(outcome string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeCalculationObserver) ObserveRecalculation(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, size)
}

func exampleScheme() *models.EvaluationScheme {
	return &models.EvaluationScheme{
		ID:                  "sub-1",
		Department:          "CSE",
		Semester:            3,
		SubjectCode:         "CS301",
		SubjectName:         "Data Structures",
		Components:          exampleComponents(),
		GraceMarks:          models.GraceMarksPolicy{MaxGraceMarks: 5},
		AttendanceThreshold: models.AttendanceThresholdPolicy{MinAttendancePercentage: 75, MarksApplicable: 5},
		IsActive:            true,
	}
}

func exampleRecord(id, studentID string) models.MarksRecord {
	record := models.MarksRecord{
		ID:                id,
		StudentID:         studentID,
		SubjectID:         "sub-1",
		Marks:             exampleMarks(),
		GraceMarksApplied: 3,
		Status:            models.MarksStatusDraft,
	}
	record.RecomputeTotal()
	return record
}

func TestMarksCalculatorComputeMarksExampleScenario(t *testing.T) {
	attendance := &fakeAttendanceReader{percentages: map[string][]float64{"stu-1": {80}}}
	observer := &fakeCalculationObserver{}
	calc := NewMarksCalculator(&fakeSchemeReader{}, attendance, &fakeMarksStore{}, observer, 2, zap.NewNop())
	record := exampleRecord("rec-1", "stu-1")

	computed, err := calc.ComputeMarks(context.Background(), &record, exampleScheme())
	require.NoError(t, err)

	assert.Equal(t, 86.0, computed.TotalMarks)
	assert.Equal(t, 86.0, computed.WeightedMarks)
	assert.Equal(t, 5.0, computed.AttendanceBonus)
	assert.Equal(t, 3.0, computed.GraceMarksApplied)
	assert.Equal(t, 94.0, computed.FinalMarks)
	assert.Equal(t, 100.0, computed.TotalWeightage)
	assert.Equal(t, []string{CalculationSucceeded}, observer.outcomes)
}

func TestMarksCalculatorComputeMarksIdempotent(t *testing.T) {
	attendance := &fakeAttendanceReader{percentages: map[string][]float64{"stu-1": {70, 90}}}
	calc := NewMarksCalculator(&fakeSchemeReader{}, attendance, &fakeMarksStore{}, nil, 0, nil)
	record := exampleRecord("rec-1", "stu-1")
	scheme := exampleScheme()
	scheme.BestOfTwo = models.BestOfTwoPolicy{Enabled: true, Exams: []string{"Quiz", "Midterm"}}

	first, err := calc.ComputeMarks(context.Background(), &record, scheme)
	require.NoError(t, err)
	second, err := calc.ComputeMarks(context.Background(), &record, scheme)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.False(t, record.Marks[0].IsBestOfTwo, "record marks must not be mutated")
}

func TestMarksCalculatorComputeMarksCapsGraceAndFinal(t *testing.T) {
	attendance := &fakeAttendanceReader{percentages: map[string][]float64{"stu-1": {100}}}
	calc := NewMarksCalculator(&fakeSchemeReader{}, attendance, &fakeMarksStore{}, nil, 1, nil)
	record := exampleRecord("rec-1", "stu-1")
	record.Marks = []models.ComponentMark{
		{ComponentID: "quiz", MarksObtained: 10, MaxMarks: 10},
		{ComponentID: "mid", MarksObtained: 30, MaxMarks: 30},
		{ComponentID: "lab", MarksObtained: 57, MaxMarks: 60},
	}
	record.GraceMarksApplied = 9

	computed, err := calc.ComputeMarks(context.Background(), &record, exampleScheme())
	require.NoError(t, err)

	assert.Equal(t, 97.0, computed.WeightedMarks)
	assert.Equal(t, 5.0, computed.GraceMarksApplied)
	assert.Equal(t, 100.0, computed.FinalMarks)
}

func TestMarksCalculatorComputeMarksNilScheme(t *testing.T) {
	calc := NewMarksCalculator(&fakeSchemeReader{}, &fakeAttendanceReader{}, &fakeMarksStore{}, nil, 1, nil)
	record := exampleRecord("rec-1", "stu-1")

	_, err := calc.ComputeMarks(context.Background(), &record, nil)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestMarksCalculatorComputeMarksAttendanceFailure(t *testing.T) {
	attendance := &fakeAttendanceReader{failFor: map[string]bool{"stu-1": true}}
	calc := NewMarksCalculator(&fakeSchemeReader{}, attendance, &fakeMarksStore{}, nil, 1, nil)
	record := exampleRecord("rec-1", "stu-1")

	computed, err := calc.ComputeMarks(context.Background(), &record, exampleScheme())
	require.Error(t, err)
	assert.Nil(t, computed)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDependency.Code))
}

func TestMarksCalculatorSkipsAttendanceLookupWhenDisabled(t *testing.T) {
	attendance := &fakeAttendanceReader{failFor: map[string]bool{"stu-1": true}}
	calc := NewMarksCalculator(&fakeSchemeReader{}, attendance, &fakeMarksStore{}, nil, 1, nil)
	record := exampleRecord("rec-1", "stu-1")
	scheme := exampleScheme()
	scheme.AttendanceThreshold.MinAttendancePercentage = 0

	computed, err := calc.ComputeMarks(context.Background(), &record, scheme)
	require.NoError(t, err)
	assert.Equal(t, 0.0, computed.AttendanceBonus)
	assert.Equal(t, 0, attendance.calls)
}

func TestMarksCalculatorRecalculateSubjectIsolatesFailures(t *testing.T) {
	scheme := exampleScheme()
	store := &fakeMarksStore{
		records: []models.MarksRecord{
			exampleRecord("rec-a", "stu-a"),
			exampleRecord("rec-b", "stu-b"),
			exampleRecord("rec-c", "stu-c"),
		},
		conflict: map[string]bool{"rec-c": true},
	}
	attendance := &fakeAttendanceReader{
		percentages: map[string][]float64{"stu-a": {80}, "stu-c": {80}},
		failFor:     map[string]bool{"stu-b": true},
	}
	observer := &fakeCalculationObserver{}
	calc := NewMarksCalculator(&fakeSchemeReader{schemes: map[string]*models.EvaluationScheme{"sub-1": scheme}}, attendance, store, observer, 2, zap.NewNop())

	result, err := calc.RecalculateSubject(context.Background(), "sub-1")
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, "stu-a", result.Results[0].StudentID)
	assert.Equal(t, 94.0, result.Results[0].FinalMarks)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, "stu-b", result.Errors[0].StudentID)
	assert.Equal(t, appErrors.ErrDependency.Code, result.Errors[0].Code)
	assert.Equal(t, "stu-c", result.Errors[1].StudentID)
	assert.Equal(t, appErrors.ErrConflict.Code, result.Errors[1].Code)

	saved, ok := store.saved["rec-a"]
	require.True(t, ok)
	assert.Equal(t, models.MarksStatusCalculated, saved.Status)
	assert.Equal(t, 86.0, saved.WeightedMarks)
	assert.Equal(t, 5.0, saved.AttendanceBonus)
	assert.Equal(t, 3.0, saved.GraceMarksApplied)
	assert.Equal(t, 94.0, saved.FinalMarks)
	_, ok = store.saved["rec-b"]
	assert.False(t, ok)

	assert.Equal(t, []int{3}, observer.sizes)
}

func TestMarksCalculatorRecalculateSubjectSchemeMissing(t *testing.T) {
	calc := NewMarksCalculator(&fakeSchemeReader{}, &fakeAttendanceReader{}, &fakeMarksStore{}, nil, 1, nil)

	_, err := calc.RecalculateSubject(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestMarksCalculatorRecalculateSubjectSchemeReadFailure(t *testing.T) {
	calc := NewMarksCalculator(&fakeSchemeReader{err: errors.New("db down")}, &fakeAttendanceReader{}, &fakeMarksStore{}, nil, 1, nil)

	_, err := calc.RecalculateSubject(context.Background(), "sub-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDependency.Code))
}

func TestMarksCalculatorRecalculateSubjectEmptyRoster(t *testing.T) {
	calc := NewMarksCalculator(&fakeSchemeReader{schemes: map[string]*models.EvaluationScheme{"sub-1": exampleScheme()}}, &fakeAttendanceReader{}, &fakeMarksStore{}, nil, 1, nil)

	result, err := calc.RecalculateSubject(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Empty(t, result.Errors)
}
