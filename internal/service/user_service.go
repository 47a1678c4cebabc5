package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/database"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	AssignSubjects(ctx context.Context, userID string, schemeIDs []string) error
}

// UserService manages user accounts.
type UserService struct {
	repo       userRepository
	audit      auditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService creates a new user service.
func NewUserService(repo userRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = nopAudit{}
	}
	return &UserService{repo: repo, audit: audit, validator: validate, logger: logger, bcryptCost: bcrypt.DefaultCost}
}

// Get returns a user by identifier.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// List returns users matching the filter. A HOD without an explicit department filter sees
// their own department only.
func (s *UserService) List(ctx context.Context, filter models.UserFilter, viewer models.Viewer) ([]models.User, int, error) {
	filter.Department = viewer.DepartmentScope(strings.TrimSpace(filter.Department))
	filter.Section = strings.ToUpper(strings.TrimSpace(filter.Section))
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "unknown role "+string(filter.Role))
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, total, nil
}

// Create registers a new account. Students must carry department, semester and enrollment number.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest, actor models.AuditActor) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Department = strings.TrimSpace(req.Department)
	req.Section = strings.ToUpper(strings.TrimSpace(req.Section))
	req.EnrollmentNumber = strings.TrimSpace(req.EnrollmentNumber)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	email := req.Email
	if req.Role == models.RoleStudent && (req.Department == "" || req.Semester == 0 || req.EnrollmentNumber == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students require department, semester and enrollment number")
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:            email,
		PasswordHash:     string(hash),
		FirstName:        strings.TrimSpace(req.FirstName),
		LastName:         strings.TrimSpace(req.LastName),
		Role:             req.Role,
		Department:       optionalString(req.Department),
		Section:          optionalString(req.Section),
		EnrollmentNumber: optionalString(req.EnrollmentNumber),
		Active:           true,
	}
	if req.Semester > 0 {
		semester := req.Semester
		user.Semester = &semester
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email or enrollment number already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	if req.Role == models.RoleFaculty && len(req.AssignedSubjects) > 0 {
		if err := s.repo.AssignSubjects(ctx, user.ID, req.AssignedSubjects); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign subjects")
		}
	}

	s.audit.Record(ctx, AuditEntry{
		Actor:       actor,
		Action:      models.AuditActionCreate,
		EntityType:  models.AuditEntityUser,
		EntityID:    user.ID,
		NewValue:    user,
		Description: "created " + strings.ToLower(string(user.Role)) + " account",
	})
	return user, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
