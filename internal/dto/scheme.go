package dto

import "github.com/noah-isme/academic-records-api/internal/models"

// SchemeComponentRequest describes one component in a scheme payload.
type SchemeComponentRequest struct {
	ID         string               `json:"id"`
	Name       models.ComponentName `json:"name" validate:"required"`
	MaxMarks   float64              `json:"max_marks" validate:"gte=0"`
	Weightage  float64              `json:"weightage" validate:"gte=0,lte=100"`
	IsOptional bool                 `json:"is_optional"`
}

// SchemeRequest captures POST/PUT /schemes payloads.
type SchemeRequest struct {
	Department          string                            `json:"department" validate:"required"`
	Semester            int                               `json:"semester" validate:"required,min=1,max=8"`
	Section             string                            `json:"section"`
	SubjectCode         string                            `json:"subject_code" validate:"required"`
	SubjectName         string                            `json:"subject_name" validate:"required"`
	Components          []SchemeComponentRequest          `json:"components" validate:"required,min=1,dive"`
	GraceMarks          *models.GraceMarksPolicy          `json:"grace_marks"`
	AttendanceThreshold *models.AttendanceThresholdPolicy `json:"attendance_threshold"`
	BestOfTwo           *models.BestOfTwoPolicy           `json:"best_of_two"`
}

// Params converts the payload into scheme construction params.
func (r SchemeRequest) Params(createdBy string) models.SchemeParams {
	components := make([]models.SchemeComponent, 0, len(r.Components))
	for i, c := range r.Components {
		components = append(components, models.SchemeComponent{
			ID:         c.ID,
			Name:       c.Name,
			MaxMarks:   c.MaxMarks,
			Weightage:  c.Weightage,
			IsOptional: c.IsOptional,
			Position:   i,
		})
	}
	params := models.SchemeParams{
		Department:  r.Department,
		Semester:    r.Semester,
		Section:     r.Section,
		SubjectCode: r.SubjectCode,
		SubjectName: r.SubjectName,
		Components:  components,
		Grace:       r.GraceMarks,
		Attendance:  r.AttendanceThreshold,
		CreatedBy:   createdBy,
	}
	if r.BestOfTwo != nil {
		params.BestOfTwo = *r.BestOfTwo
	}
	return params
}
