package models

import (
	"math"
	"time"
)

// AttendanceRecord stores monthly class attendance for a student in a subject.
type AttendanceRecord struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	SubjectID       string    `db:"subject_id" json:"subject_id"`
	TotalClasses    int       `db:"total_classes" json:"total_classes"`
	AttendedClasses int       `db:"attended_classes" json:"attended_classes"`
	Percentage      float64   `db:"percentage" json:"percentage"`
	Month           int       `db:"month" json:"month"`
	Year            int       `db:"year" json:"year"`
	MarkedBy        *string   `db:"marked_by" json:"marked_by,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// AttendancePercentage rounds attended/total to a whole percentage; zero classes yields 0.
func AttendancePercentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(attended) / float64(total) * 100)
}

// RecomputePercentage refreshes the derived percentage from the class counts.
func (r *AttendanceRecord) RecomputePercentage() {
	r.Percentage = AttendancePercentage(r.AttendedClasses, r.TotalClasses)
}

// AttendanceFilter narrows attendance listings.
type AttendanceFilter struct {
	StudentID string
	SubjectID string
	Month     int
	Year      int
}

// AttendanceSummary aggregates a student's attendance for one subject.
type AttendanceSummary struct {
	SubjectID         string  `db:"subject_id" json:"subject_id"`
	SubjectCode       string  `db:"subject_code" json:"subject_code"`
	SubjectName       string  `db:"subject_name" json:"subject_name"`
	TotalClasses      int     `db:"total_classes" json:"total_classes"`
	AttendedClasses   int     `db:"attended_classes" json:"attended_classes"`
	AveragePercentage float64 `db:"average_percentage" json:"average_percentage"`
	OverallPercentage float64 `db:"-" json:"overall_percentage"`
}
