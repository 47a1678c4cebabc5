package dto

// AttendanceRequest captures POST /attendance payload.
type AttendanceRequest struct {
	StudentID       string `json:"student_id" validate:"required"`
	SubjectID       string `json:"subject_id" validate:"required"`
	TotalClasses    int    `json:"total_classes" validate:"gte=0"`
	AttendedClasses int    `json:"attended_classes" validate:"gte=0,ltefield=TotalClasses"`
	Month           int    `json:"month" validate:"required,min=1,max=12"`
	Year            int    `json:"year" validate:"required,min=2000,max=2100"`
}

// BulkAttendanceRequest captures POST /attendance/bulk payload.
type BulkAttendanceRequest struct {
	Records []AttendanceRequest `json:"records" validate:"required,min=1,dive"`
}

// BulkAttendanceResult reports per-record outcomes of a bulk attendance upload.
type BulkAttendanceResult struct {
	Saved  int            `json:"saved"`
	Errors []BulkRowError `json:"errors"`
}
