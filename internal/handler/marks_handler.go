package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

// maxUploadBytes caps bulk CSV uploads.
const maxUploadBytes = 5 << 20

type marksService interface {
	List(ctx context.Context, filter models.MarksFilter, viewer models.Viewer) ([]models.MarksRecord, error)
	Get(ctx context.Context, id string, viewer models.Viewer) (*models.MarksRecord, error)
	Upsert(ctx context.Context, req dto.MarksRequest, actor models.AuditActor) (*models.MarksRecord, error)
	Update(ctx context.Context, id string, req dto.MarksUpdateRequest, actor models.AuditActor) (*models.MarksRecord, error)
	Delete(ctx context.Context, id string, actor models.AuditActor) error
	Submit(ctx context.Context, id string, actor models.AuditActor) (*models.MarksRecord, error)
	Approve(ctx context.Context, id string, actor models.AuditActor) (*models.MarksRecord, error)
	BulkUpload(ctx context.Context, subjectID string, src io.Reader, actor models.AuditActor) (*dto.BulkUploadResult, error)
	Recalculate(ctx context.Context, subjectID string, actor models.AuditActor) (*models.RecalculationResult, error)
	EnqueueRecalculation(ctx context.Context, subjectID string, actor models.AuditActor) (*dto.RecalculationJobResponse, error)
	JobStatus(id string) (*jobs.Status, error)
}

// MarksHandler exposes student marks endpoints.
type MarksHandler struct {
	marks marksService
}

// NewMarksHandler constructs handler.
func NewMarksHandler(marks marksService) *MarksHandler {
	return &MarksHandler{marks: marks}
}

// List godoc
// @Summary List marks records
// @Description Students only ever see their own records
// @Tags Marks
// @Produce json
// @Param student_id query string false "Student"
// @Param subject_id query string false "Subject"
// @Param department query string false "Department"
// @Param semester query int false "Semester"
// @Param section query string false "Section"
// @Param status query string false "Status"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /marks [get]
func (h *MarksHandler) List(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	semester, err := queryInt(c, "semester")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.MarksFilter{
		StudentID:  c.Query("student_id"),
		SubjectID:  c.Query("subject_id"),
		Department: c.Query("department"),
		Semester:   semester,
		Section:    strings.ToUpper(c.Query("section")),
		Status:     models.MarksStatus(c.Query("status")),
	}
	records, err := h.marks.List(c.Request.Context(), filter, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Get godoc
// @Summary Get marks record
// @Tags Marks
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [get]
func (h *MarksHandler) Get(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.marks.Get(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Upsert godoc
// @Summary Enter marks
// @Description Creates or replaces the marks of a student for a subject and calculates them
// @Tags Marks
// @Accept json
// @Produce json
// @Param payload body dto.MarksRequest true "Marks payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /marks [post]
func (h *MarksHandler) Upsert(c *gin.Context) {
	var req dto.MarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid marks payload"))
		return
	}
	record, err := h.marks.Upsert(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Update godoc
// @Summary Update marks record
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.MarksUpdateRequest true "Marks payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [put]
func (h *MarksHandler) Update(c *gin.Context) {
	var req dto.MarksUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid marks payload"))
		return
	}
	record, err := h.marks.Update(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Delete marks record
// @Tags Marks
// @Param id path string true "Record ID"
// @Success 204
// @Security BearerAuth
// @Router /marks/{id} [delete]
func (h *MarksHandler) Delete(c *gin.Context) {
	if err := h.marks.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Submit godoc
// @Summary Submit calculated marks
// @Tags Marks
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id}/submit [put]
func (h *MarksHandler) Submit(c *gin.Context) {
	record, err := h.marks.Submit(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Approve godoc
// @Summary Approve marks
// @Tags Marks
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id}/approve [put]
func (h *MarksHandler) Approve(c *gin.Context) {
	record, err := h.marks.Approve(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// BulkUpload godoc
// @Summary Bulk upload marks from CSV
// @Description Rows are processed independently; failures are reported per row
// @Tags Marks
// @Accept multipart/form-data
// @Produce json
// @Param subject_id formData string true "Subject (scheme) ID"
// @Param file formData file true "CSV file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/bulk [post]
func (h *MarksHandler) BulkUpload(c *gin.Context) {
	subjectID := c.PostForm("subject_id")
	if subjectID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "subject_id is required"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "csv file is required"))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only .csv files are accepted"))
		return
	}
	if header.Size > maxUploadBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "csv file exceeds 5MB"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	result, err := h.marks.BulkUpload(c.Request.Context(), subjectID, file, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Recalculate godoc
// @Summary Recalculate a subject roster
// @Description Runs inline, or on the background queue with async=true
// @Tags Marks
// @Produce json
// @Param subjectId path string true "Subject (scheme) ID"
// @Param async query bool false "Queue instead of running inline"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/recalculate/{subjectId} [post]
func (h *MarksHandler) Recalculate(c *gin.Context) {
	subjectID := c.Param("subjectId")
	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		job, err := h.marks.EnqueueRecalculation(c.Request.Context(), subjectID, actorFromContext(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusAccepted, job, nil)
		return
	}
	result, err := h.marks.Recalculate(c.Request.Context(), subjectID, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// JobStatus godoc
// @Summary Recalculation job status
// @Tags Marks
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/jobs/{id} [get]
func (h *MarksHandler) JobStatus(c *gin.Context) {
	status, err := h.marks.JobStatus(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
