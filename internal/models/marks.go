package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned by stores when a record changed since it was read.
var ErrVersionConflict = errors.New("marks record version conflict")

// MarksStatus tracks the review progress of a marks record.
type MarksStatus string

const (
	MarksStatusDraft      MarksStatus = "draft"
	MarksStatusCalculated MarksStatus = "calculated"
	MarksStatusSubmitted  MarksStatus = "submitted"
	MarksStatusApproved   MarksStatus = "approved"
)

// Valid reports whether the status is known.
func (s MarksStatus) Valid() bool {
	switch s {
	case MarksStatusDraft, MarksStatusCalculated, MarksStatusSubmitted, MarksStatusApproved:
		return true
	}
	return false
}

// ComponentMark is a raw score for one scheme component.
type ComponentMark struct {
	ComponentName  ComponentName `json:"component_name"`
	ComponentID    string        `json:"component_id"`
	MarksObtained  float64       `json:"marks_obtained"`
	MaxMarks       float64       `json:"max_marks"`
	IsAbsent       bool          `json:"is_absent"`
	IsGraceApplied bool          `json:"is_grace_applied"`
	IsBestOfTwo    bool          `json:"is_best_of_two"`
}

// ComponentMarks is stored as a JSONB column.
type ComponentMarks []ComponentMark

// Value implements driver.Valuer.
func (m ComponentMarks) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *ComponentMarks) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = ComponentMarks{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("component marks: unsupported type %T", src)
	}
	var marks []ComponentMark
	if err := json.Unmarshal(raw, &marks); err != nil {
		return fmt.Errorf("component marks: %w", err)
	}
	*m = marks
	return nil
}

// MarksRecord holds one student's marks for one subject.
type MarksRecord struct {
	ID                string         `db:"id" json:"id"`
	StudentID         string         `db:"student_id" json:"student_id"`
	SubjectID         string         `db:"subject_id" json:"subject_id"`
	Department        string         `db:"department" json:"department"`
	Semester          int            `db:"semester" json:"semester"`
	Section           string         `db:"section" json:"section,omitempty"`
	Marks             ComponentMarks `db:"marks" json:"marks"`
	TotalMarks        float64        `db:"total_marks" json:"total_marks"`
	WeightedMarks     float64        `db:"weighted_marks" json:"weighted_marks"`
	AttendanceBonus   float64        `db:"attendance_bonus" json:"attendance_bonus"`
	GraceMarksApplied float64        `db:"grace_marks_applied" json:"grace_marks_applied"`
	FinalMarks        float64        `db:"final_marks" json:"final_marks"`
	Status            MarksStatus    `db:"status" json:"status"`
	EnteredBy         *string        `db:"entered_by" json:"entered_by,omitempty"`
	ApprovedBy        *string        `db:"approved_by" json:"approved_by,omitempty"`
	Version           int            `db:"version" json:"version"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// RecomputeTotal sets TotalMarks to the raw sum of non-absent obtained marks.
func (r *MarksRecord) RecomputeTotal() {
	total := 0.0
	for _, mark := range r.Marks {
		if mark.IsAbsent {
			continue
		}
		total += mark.MarksObtained
	}
	r.TotalMarks = total
}

// ApplyComputed copies derived fields onto the record and marks it calculated.
func (r *MarksRecord) ApplyComputed(computed ComputedMarks) {
	r.Marks = computed.Marks
	r.WeightedMarks = computed.WeightedMarks
	r.AttendanceBonus = computed.AttendanceBonus
	r.GraceMarksApplied = computed.GraceMarksApplied
	r.FinalMarks = computed.FinalMarks
	r.Status = MarksStatusCalculated
}

// MarksFilter narrows marks listings.
type MarksFilter struct {
	StudentID    string
	SubjectID    string
	Department   string
	Semester     int
	Section      string
	Status       MarksStatus
	ExcludeDraft bool
}

// ComputedMarks is the output of a single-record marks computation.
type ComputedMarks struct {
	TotalMarks        float64        `json:"total_marks"`
	WeightedMarks     float64        `json:"weighted_marks"`
	AttendanceBonus   float64        `json:"attendance_bonus"`
	GraceMarksApplied float64        `json:"grace_marks_applied"`
	FinalMarks        float64        `json:"final_marks"`
	TotalWeightage    float64        `json:"total_weightage"`
	Marks             ComponentMarks `json:"marks"`
}

// StudentResult is one successful row of a roster recalculation.
type StudentResult struct {
	StudentID string `json:"student_id"`
	RecordID  string `json:"record_id"`
	ComputedMarks
}

// StudentError is one failed row of a roster recalculation.
type StudentError struct {
	StudentID string `json:"student_id"`
	RecordID  string `json:"record_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// RecalculationResult lists per-student outcomes of a roster recalculation.
type RecalculationResult struct {
	SubjectID string          `json:"subject_id"`
	Results   []StudentResult `json:"results"`
	Errors    []StudentError  `json:"errors"`
}

// ClassStatistics summarises final marks across a roster.
type ClassStatistics struct {
	TotalStudents  int     `json:"total_students"`
	AverageMarks   float64 `json:"average_marks"`
	HighestMarks   float64 `json:"highest_marks"`
	LowestMarks    float64 `json:"lowest_marks"`
	PassCount      int     `json:"pass_count"`
	FailCount      int     `json:"fail_count"`
	PassPercentage int     `json:"pass_percentage"`
}
