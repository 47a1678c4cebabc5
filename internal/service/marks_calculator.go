package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type schemeReader interface {
	FindByID(ctx context.Context, id string) (*models.EvaluationScheme, error)
}

type attendanceReader interface {
	ListPercentages(ctx context.Context, studentID, subjectID string) ([]float64, error)
}

type marksStore interface {
	ListBySubject(ctx context.Context, subjectID string) ([]models.MarksRecord, error)
	SaveComputed(ctx context.Context, record *models.MarksRecord) error
}

type calculationObserver interface {
	ObserveCalculation(outcome string, duration time.Duration)
	ObserveRecalculation(size int)
}

const defaultRecalcConcurrency = 4

// MarksCalculator derives weighted, bonus, grace and final marks for marks records.
type MarksCalculator struct {
	schemes     schemeReader
	attendance  attendanceReader
	marks       marksStore
	metrics     calculationObserver
	logger      *zap.Logger
	concurrency int
}

// NewMarksCalculator constructs MarksCalculator. A concurrency below 1 falls back to 4.
func NewMarksCalculator(schemes schemeReader, attendance attendanceReader, marks marksStore, metrics calculationObserver, concurrency int, logger *zap.Logger) *MarksCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = defaultRecalcConcurrency
	}
	return &MarksCalculator{
		schemes:     schemes,
		attendance:  attendance,
		marks:       marks,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
	}
}

// ComputeMarks runs the calculation steps for one record without persisting anything.
func (c *MarksCalculator) ComputeMarks(ctx context.Context, record *models.MarksRecord, scheme *models.EvaluationScheme) (*models.ComputedMarks, error) {
	start := time.Now()
	computed, err := c.compute(ctx, record, scheme)
	outcome := CalculationSucceeded
	if err != nil {
		outcome = CalculationFailed
	}
	if c.metrics != nil {
		c.metrics.ObserveCalculation(outcome, time.Since(start))
	}
	return computed, err
}

func (c *MarksCalculator) compute(ctx context.Context, record *models.MarksRecord, scheme *models.EvaluationScheme) (*models.ComputedMarks, error) {
	if scheme == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
	}
	if record == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "marks record not found")
	}

	marks := []models.ComponentMark(record.Marks)
	if scheme.BestOfTwo.Enabled {
		marks = ApplyBestOfTwo(marks, scheme.BestOfTwo)
	}
	weighted := CalculateWeightedMarks(marks, scheme.Components)

	bonus, err := c.resolveAttendanceBonus(ctx, record.StudentID, scheme)
	if err != nil {
		return nil, err
	}
	grace := CapGraceMarks(record.GraceMarksApplied, scheme.GraceMarks.MaxGraceMarks)

	return &models.ComputedMarks{
		TotalMarks:        record.TotalMarks,
		WeightedMarks:     weighted,
		AttendanceBonus:   bonus,
		GraceMarksApplied: grace,
		FinalMarks:        FinalMarks(weighted, bonus, grace),
		TotalWeightage:    scheme.TotalWeightage(),
		Marks:             append(models.ComponentMarks(nil), marks...),
	}, nil
}

func (c *MarksCalculator) resolveAttendanceBonus(ctx context.Context, studentID string, scheme *models.EvaluationScheme) (float64, error) {
	if scheme.AttendanceThreshold.MinAttendancePercentage <= 0 {
		return 0, nil
	}
	percentages, err := c.attendance.ListPercentages(ctx, studentID, scheme.ID)
	if err != nil {
		c.logger.Warn("attendance lookup failed",
			zap.String("student_id", studentID),
			zap.String("subject_id", scheme.ID),
			zap.Error(err))
		return 0, appErrors.Dependency(err, "failed to load attendance")
	}
	return AttendanceBonus(percentages, scheme.AttendanceThreshold), nil
}

// RecalculateSubject recomputes and persists every marks record of a subject.
// Failures are reported per student and never abort the rest of the roster.
func (c *MarksCalculator) RecalculateSubject(ctx context.Context, subjectID string) (*models.RecalculationResult, error) {
	scheme, err := c.schemes.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation scheme not found")
		}
		return nil, appErrors.Dependency(err, "failed to load evaluation scheme")
	}
	records, err := c.marks.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, appErrors.Dependency(err, "failed to list marks records")
	}
	if c.metrics != nil {
		c.metrics.ObserveRecalculation(len(records))
	}

	results := make([]*models.StudentResult, len(records))
	failures := make([]*models.StudentError, len(records))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i := range records {
		i := i
		group.Go(func() error {
			record := records[i]
			result, err := c.recalculateRecord(groupCtx, &record, scheme)
			if err != nil {
				appErr := appErrors.FromError(err)
				failures[i] = &models.StudentError{StudentID: record.StudentID, RecordID: record.ID, Code: appErr.Code, Error: appErr.Error()}
				c.logger.Warn("marks recalculation failed",
					zap.String("subject_id", subjectID),
					zap.String("student_id", record.StudentID),
					zap.Error(err))
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait()

	out := &models.RecalculationResult{
		SubjectID: subjectID,
		Results:   make([]models.StudentResult, 0, len(records)),
		Errors:    make([]models.StudentError, 0),
	}
	for i := range records {
		if results[i] != nil {
			out.Results = append(out.Results, *results[i])
		}
		if failures[i] != nil {
			out.Errors = append(out.Errors, *failures[i])
		}
	}
	return out, nil
}

func (c *MarksCalculator) recalculateRecord(ctx context.Context, record *models.MarksRecord, scheme *models.EvaluationScheme) (*models.StudentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.Dependency(err, "recalculation cancelled")
	}
	computed, err := c.ComputeMarks(ctx, record, scheme)
	if err != nil {
		return nil, err
	}
	record.ApplyComputed(*computed)
	if err := c.marks.SaveComputed(ctx, record); err != nil {
		return nil, persistError(err)
	}
	return &models.StudentResult{StudentID: record.StudentID, RecordID: record.ID, ComputedMarks: *computed}, nil
}

func persistError(err error) error {
	if errors.Is(err, models.ErrVersionConflict) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "marks record was modified concurrently")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "marks record not found")
	}
	return appErrors.Dependency(err, "failed to persist marks")
}
