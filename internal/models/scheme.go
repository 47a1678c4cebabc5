package models

import (
	"fmt"
	"strings"
	"time"
)

// ComponentName is one of the fixed gradable component kinds.
type ComponentName string

const (
	ComponentAttendance   ComponentName = "Attendance"
	ComponentQuiz         ComponentName = "Quiz"
	ComponentMidterm      ComponentName = "Midterm"
	ComponentAssignment   ComponentName = "Assignment"
	ComponentLab          ComponentName = "Lab"
	ComponentInternalExam ComponentName = "Internal Exam"
	ComponentProject      ComponentName = "Project"
)

// ComponentNames lists every supported component kind in display order.
var ComponentNames = []ComponentName{
	ComponentAttendance,
	ComponentQuiz,
	ComponentMidterm,
	ComponentAssignment,
	ComponentLab,
	ComponentInternalExam,
	ComponentProject,
}

// Valid reports whether the name belongs to the supported set.
func (n ComponentName) Valid() bool {
	for _, name := range ComponentNames {
		if n == name {
			return true
		}
	}
	return false
}

const (
	MinSemester     = 1
	MaxSemester     = 8
	MaxWeightage    = 100.0
	DefaultMaxGrace = 5.0

	weightageTolerance     = 1e-9
	defaultMinAttendance   = 75.0
	defaultAttendanceBonus = 5.0
)

// SchemeComponent is one gradable piece of an evaluation scheme.
type SchemeComponent struct {
	ID         string        `db:"id" json:"id"`
	SchemeID   string        `db:"scheme_id" json:"-"`
	Name       ComponentName `db:"name" json:"name"`
	MaxMarks   float64       `db:"max_marks" json:"max_marks"`
	Weightage  float64       `db:"weightage" json:"weightage"`
	IsOptional bool          `db:"is_optional" json:"is_optional"`
	Position   int           `db:"position" json:"-"`
}

// GraceMarksPolicy bounds manual grace adjustments.
type GraceMarksPolicy struct {
	MaxGraceMarks  float64 `json:"max_grace_marks"`
	AllowCarryOver bool    `json:"allow_carry_over"`
}

// AttendanceThresholdPolicy grants a flat bonus once average attendance clears a threshold.
type AttendanceThresholdPolicy struct {
	MinAttendancePercentage float64 `json:"min_attendance_percentage"`
	MarksApplicable         float64 `json:"marks_applicable"`
}

// BestOfTwoPolicy names the exam components competing for best-of-two selection.
type BestOfTwoPolicy struct {
	Enabled bool     `json:"enabled"`
	Exams   []string `json:"exams"`
}

// EvaluationScheme describes how a subject's final marks are composed.
type EvaluationScheme struct {
	ID                  string                    `json:"id"`
	Department          string                    `json:"department"`
	Semester            int                       `json:"semester"`
	Section             string                    `json:"section,omitempty"`
	SubjectCode         string                    `json:"subject_code"`
	SubjectName         string                    `json:"subject_name"`
	Components          []SchemeComponent         `json:"components"`
	GraceMarks          GraceMarksPolicy          `json:"grace_marks"`
	AttendanceThreshold AttendanceThresholdPolicy `json:"attendance_threshold"`
	BestOfTwo           BestOfTwoPolicy           `json:"best_of_two"`
	IsActive            bool                      `json:"is_active"`
	CreatedBy           string                    `json:"created_by"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// SchemeFilter narrows scheme listings.
type SchemeFilter struct {
	Department string
	Semester   int
	Active     *bool
	Search     string
	IDs        []string
}

// SchemeParams carries the caller-supplied fields of a scheme.
type SchemeParams struct {
	Department  string
	Semester    int
	Section     string
	SubjectCode string
	SubjectName string
	Components  []SchemeComponent
	Grace       *GraceMarksPolicy
	Attendance  *AttendanceThresholdPolicy
	BestOfTwo   BestOfTwoPolicy
	CreatedBy   string
}

// SchemeValidationError reports a violated scheme invariant.
type SchemeValidationError struct {
	Field  string
	Reason string
	// Weights is set when the component weightages sum past 100.
	Weights bool
}

func (e *SchemeValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewEvaluationScheme normalises params, applies policy defaults and enforces scheme invariants.
func NewEvaluationScheme(params SchemeParams) (*EvaluationScheme, error) {
	scheme := &EvaluationScheme{
		Department:  strings.TrimSpace(params.Department),
		Semester:    params.Semester,
		Section:     strings.ToUpper(strings.TrimSpace(params.Section)),
		SubjectCode: strings.ToUpper(strings.TrimSpace(params.SubjectCode)),
		SubjectName: strings.TrimSpace(params.SubjectName),
		Components:  append([]SchemeComponent(nil), params.Components...),
		GraceMarks: GraceMarksPolicy{
			MaxGraceMarks: DefaultMaxGrace,
		},
		AttendanceThreshold: AttendanceThresholdPolicy{
			MinAttendancePercentage: defaultMinAttendance,
			MarksApplicable:         defaultAttendanceBonus,
		},
		BestOfTwo: params.BestOfTwo,
		IsActive:  true,
		CreatedBy: params.CreatedBy,
	}
	if params.Grace != nil {
		scheme.GraceMarks = *params.Grace
	}
	if params.Attendance != nil {
		scheme.AttendanceThreshold = *params.Attendance
	}
	if scheme.BestOfTwo.Exams == nil {
		scheme.BestOfTwo.Exams = []string{}
	}
	if err := scheme.Validate(); err != nil {
		return nil, err
	}
	return scheme, nil
}

// Validate checks the write-time invariants of the scheme.
func (s *EvaluationScheme) Validate() error {
	if s.Department == "" {
		return &SchemeValidationError{Field: "department", Reason: "is required"}
	}
	if s.Semester < MinSemester || s.Semester > MaxSemester {
		return &SchemeValidationError{Field: "semester", Reason: fmt.Sprintf("must be between %d and %d", MinSemester, MaxSemester)}
	}
	if s.SubjectCode == "" {
		return &SchemeValidationError{Field: "subject_code", Reason: "is required"}
	}
	if s.SubjectName == "" {
		return &SchemeValidationError{Field: "subject_name", Reason: "is required"}
	}
	if len(s.Components) == 0 {
		return &SchemeValidationError{Field: "components", Reason: "at least one component is required"}
	}
	seen := make(map[ComponentName]struct{}, len(s.Components))
	for i, comp := range s.Components {
		field := fmt.Sprintf("components[%d]", i)
		if !comp.Name.Valid() {
			return &SchemeValidationError{Field: field + ".name", Reason: fmt.Sprintf("unsupported component %q", comp.Name)}
		}
		if _, dup := seen[comp.Name]; dup {
			return &SchemeValidationError{Field: field + ".name", Reason: fmt.Sprintf("component %q is listed more than once", comp.Name)}
		}
		seen[comp.Name] = struct{}{}
		if comp.MaxMarks < 0 {
			return &SchemeValidationError{Field: field + ".max_marks", Reason: "must not be negative"}
		}
		if comp.Weightage < 0 || comp.Weightage > MaxWeightage {
			return &SchemeValidationError{Field: field + ".weightage", Reason: "must be between 0 and 100"}
		}
	}
	if total := s.TotalWeightage(); total > MaxWeightage+weightageTolerance {
		return &SchemeValidationError{Field: "components", Reason: fmt.Sprintf("total weightage %.2f exceeds 100", total), Weights: true}
	}
	if s.GraceMarks.MaxGraceMarks < 0 {
		return &SchemeValidationError{Field: "grace_marks.max_grace_marks", Reason: "must not be negative"}
	}
	if threshold := s.AttendanceThreshold.MinAttendancePercentage; threshold < 0 || threshold > 100 {
		return &SchemeValidationError{Field: "attendance_threshold.min_attendance_percentage", Reason: "must be between 0 and 100"}
	}
	if s.AttendanceThreshold.MarksApplicable < 0 {
		return &SchemeValidationError{Field: "attendance_threshold.marks_applicable", Reason: "must not be negative"}
	}
	return nil
}

// TotalWeightage sums the weightage of all components.
func (s *EvaluationScheme) TotalWeightage() float64 {
	total := 0.0
	for _, comp := range s.Components {
		total += comp.Weightage
	}
	return total
}

// Component returns the scheme component with the given ID.
func (s *EvaluationScheme) Component(id string) (SchemeComponent, bool) {
	for _, comp := range s.Components {
		if comp.ID == id {
			return comp, true
		}
	}
	return SchemeComponent{}, false
}
