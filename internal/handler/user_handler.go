package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, filter models.UserFilter, viewer models.Viewer) ([]models.User, int, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, req dto.CreateUserRequest, actor models.AuditActor) (*models.User, error)
}

// UserHandler handles user account endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Description A HOD only sees users of their own department
// @Tags Users
// @Produce json
// @Param role query string false "ADMIN, HOD, FACULTY or STUDENT"
// @Param department query string false "Department"
// @Param semester query int false "Semester"
// @Param section query string false "Section"
// @Param search query string false "Name or email"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size, err := pageParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	semester, err := queryInt(c, "semester")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.UserFilter{
		Role:       models.UserRole(strings.ToUpper(c.Query("role"))),
		Department: c.Query("department"),
		Semester:   semester,
		Section:    c.Query("section"),
		Search:     c.Query("search"),
		Page:       page,
		PageSize:   size,
	}
	users, total, err := h.service.List(c.Request.Context(), filter, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, &response.Pagination{Page: page, PageSize: size, TotalCount: total})
}

// Create godoc
// @Summary Create user
// @Description Create an account; students require department, semester and enrollment number
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}

	user, err := h.service.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// Get godoc
// @Summary Get user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
