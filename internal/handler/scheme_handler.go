package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type schemeService interface {
	List(ctx context.Context, filter models.SchemeFilter, viewer models.Viewer) ([]models.EvaluationScheme, error)
	Get(ctx context.Context, id string) (*models.EvaluationScheme, error)
	Mine(ctx context.Context, viewer models.Viewer) ([]models.EvaluationScheme, error)
	Create(ctx context.Context, req dto.SchemeRequest, actor models.AuditActor) (*models.EvaluationScheme, error)
	Update(ctx context.Context, id string, req dto.SchemeRequest, actor models.AuditActor) (*models.EvaluationScheme, error)
	Delete(ctx context.Context, id string, actor models.AuditActor) error
	Template(ctx context.Context, id string) ([]byte, string, error)
}

// SchemeHandler exposes evaluation scheme endpoints.
type SchemeHandler struct {
	schemes schemeService
}

// NewSchemeHandler constructs handler.
func NewSchemeHandler(schemes schemeService) *SchemeHandler {
	return &SchemeHandler{schemes: schemes}
}

// List godoc
// @Summary List evaluation schemes
// @Tags Schemes
// @Produce json
// @Param department query string false "Department (defaults to the caller's department for a HOD)"
// @Param semester query int false "Semester"
// @Param active query bool false "Active filter"
// @Param search query string false "Subject code or name"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schemes [get]
func (h *SchemeHandler) List(c *gin.Context) {
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
	filter := models.SchemeFilter{Department: c.Query("department"), Semester: semester, Search: c.Query("search")}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active must be a boolean"))
			return
		}
		filter.Active = &active
	}
	schemes, err := h.schemes.List(c.Request.Context(), filter, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schemes, nil)
}

// Mine godoc
// @Summary Schemes relevant to the caller
// @Description Students get their enrolled subjects, faculty their assigned subjects and a HOD the subjects of their department
// @Tags Schemes
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schemes/mine [get]
func (h *SchemeHandler) Mine(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	schemes, err := h.schemes.Mine(c.Request.Context(), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schemes, nil)
}

// Get godoc
// @Summary Get evaluation scheme
// @Tags Schemes
// @Produce json
// @Param id path string true "Scheme ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schemes/{id} [get]
func (h *SchemeHandler) Get(c *gin.Context) {
	scheme, err := h.schemes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scheme, nil)
}

// Create godoc
// @Summary Create evaluation scheme
// @Tags Schemes
// @Accept json
// @Produce json
// @Param payload body dto.SchemeRequest true "Scheme payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schemes [post]
func (h *SchemeHandler) Create(c *gin.Context) {
	var req dto.SchemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scheme payload"))
		return
	}
	scheme, err := h.schemes.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, scheme)
}

// Update godoc
// @Summary Update evaluation scheme
// @Tags Schemes
// @Accept json
// @Produce json
// @Param id path string true "Scheme ID"
// @Param payload body dto.SchemeRequest true "Scheme payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schemes/{id} [put]
func (h *SchemeHandler) Update(c *gin.Context) {
	var req dto.SchemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scheme payload"))
		return
	}
	scheme, err := h.schemes.Update(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scheme, nil)
}

// Delete godoc
// @Summary Deactivate evaluation scheme
// @Tags Schemes
// @Param id path string true "Scheme ID"
// @Success 204
// @Security BearerAuth
// @Router /schemes/{id} [delete]
func (h *SchemeHandler) Delete(c *gin.Context) {
	if err := h.schemes.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Template godoc
// @Summary Download bulk upload template
// @Tags Schemes
// @Produce text/csv
// @Param id path string true "Scheme ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /schemes/{id}/template [get]
func (h *SchemeHandler) Template(c *gin.Context) {
	payload, filename, err := h.schemes.Template(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, filename, "text/csv", payload)
}
