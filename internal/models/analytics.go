package models

import "time"

// SubjectStatistics wraps class statistics with the subject they describe.
type SubjectStatistics struct {
	SubjectID    string          `json:"subject_id"`
	SubjectCode  string          `json:"subject_code"`
	SubjectName  string          `json:"subject_name"`
	Department   string          `json:"department"`
	PassMark     float64         `json:"pass_mark"`
	Statistics   ClassStatistics `json:"statistics"`
	Distribution []GradeBucket   `json:"distribution"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// GradeBucket counts final marks within [Min, Max).
type GradeBucket struct {
	Grade string  `json:"grade"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// MarksSheetRow is one student line of an exported marks sheet.
type MarksSheetRow struct {
	StudentID         string         `db:"student_id" json:"student_id"`
	EnrollmentNumber  *string        `db:"enrollment_number" json:"enrollment_number,omitempty"`
	FirstName         string         `db:"first_name" json:"first_name"`
	LastName          string         `db:"last_name" json:"last_name"`
	Marks             ComponentMarks `db:"marks" json:"marks"`
	WeightedMarks     float64        `db:"weighted_marks" json:"weighted_marks"`
	AttendanceBonus   float64        `db:"attendance_bonus" json:"attendance_bonus"`
	GraceMarksApplied float64        `db:"grace_marks_applied" json:"grace_marks_applied"`
	FinalMarks        float64        `db:"final_marks" json:"final_marks"`
	Status            MarksStatus    `db:"status" json:"status"`
}

// SystemMetrics represents system level figures captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Calculations             uint64    `json:"calculations"`
	CalculationFailures      uint64    `json:"calculation_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
