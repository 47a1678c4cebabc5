package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type attendanceService interface {
	List(ctx context.Context, filter models.AttendanceFilter, viewer models.Viewer) ([]models.AttendanceRecord, error)
	Record(ctx context.Context, req dto.AttendanceRequest, actor models.AuditActor) (*models.AttendanceRecord, error)
	Bulk(ctx context.Context, req dto.BulkAttendanceRequest, actor models.AuditActor) (*dto.BulkAttendanceResult, error)
	Summary(ctx context.Context, studentID string, viewer models.Viewer) ([]models.AttendanceSummary, error)
}

// AttendanceHandler exposes monthly attendance endpoints.
type AttendanceHandler struct {
	attendance attendanceService
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(attendance attendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param student_id query string false "Student"
// @Param subject_id query string false "Subject"
// @Param month query int false "Month"
// @Param year query int false "Year"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	month, err := queryInt(c, "month")
	if err != nil {
		response.Error(c, err)
		return
	}
	year, err := queryInt(c, "year")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.AttendanceFilter{StudentID: c.Query("student_id"), SubjectID: c.Query("subject_id"), Month: month, Year: year}
	records, err := h.attendance.List(c.Request.Context(), filter, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Record godoc
// @Summary Record monthly attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.AttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	var req dto.AttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	record, err := h.attendance.Record(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Bulk godoc
// @Summary Record attendance in bulk
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.BulkAttendanceRequest true "Attendance records"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/bulk [post]
func (h *AttendanceHandler) Bulk(c *gin.Context) {
	var req dto.BulkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	result, err := h.attendance.Bulk(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Summary godoc
// @Summary Attendance summary of a student
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/summary/{studentId} [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summaries, err := h.attendance.Summary(c.Request.Context(), c.Param("studentId"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}
