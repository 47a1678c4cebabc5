package dto

import "github.com/noah-isme/academic-records-api/internal/models"

// ComponentMarkRequest is one component score in a marks payload.
type ComponentMarkRequest struct {
	ComponentID   string  `json:"component_id" validate:"required"`
	MarksObtained float64 `json:"marks_obtained" validate:"gte=0"`
	IsAbsent      bool    `json:"is_absent"`
}

// MarksRequest captures POST /marks payload. Existing marks for the student and subject are replaced.
type MarksRequest struct {
	StudentID  string                 `json:"student_id" validate:"required"`
	SubjectID  string                 `json:"subject_id" validate:"required"`
	Marks      []ComponentMarkRequest `json:"marks" validate:"required,min=1,dive"`
	GraceMarks float64                `json:"grace_marks" validate:"gte=0"`
}

// MarksUpdateRequest captures PUT /marks/:id payload.
type MarksUpdateRequest struct {
	Marks      []ComponentMarkRequest `json:"marks" validate:"omitempty,dive"`
	GraceMarks *float64               `json:"grace_marks" validate:"omitempty,gte=0"`
	Status     *models.MarksStatus    `json:"status" validate:"omitempty,oneof=draft calculated submitted"`
	Version    *int                   `json:"version"`
}

// BulkRowError describes a CSV row that could not be ingested.
type BulkRowError struct {
	Row              int    `json:"row"`
	EnrollmentNumber string `json:"enrollment_number,omitempty"`
	Code             string `json:"code"`
	Error            string `json:"error"`
}

// BulkRowSuccess describes an ingested CSV row.
type BulkRowSuccess struct {
	Row              int     `json:"row"`
	EnrollmentNumber string  `json:"enrollment_number"`
	StudentID        string  `json:"student_id"`
	StudentName      string  `json:"student_name"`
	RecordID         string  `json:"record_id"`
	FinalMarks       float64 `json:"final_marks"`
}

// BulkUploadResult is returned by POST /marks/bulk.
type BulkUploadResult struct {
	Success        []BulkRowSuccess `json:"success"`
	Errors         []BulkRowError   `json:"errors"`
	TotalProcessed int              `json:"total_processed"`
}

// RecalculationJobResponse is returned when a roster recalculation is queued.
type RecalculationJobResponse struct {
	JobID     string `json:"job_id"`
	SubjectID string `json:"subject_id"`
	State     string `json:"state"`
}
