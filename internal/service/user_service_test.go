package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type fakeUserRepo struct {
	byEmail    map[string]*models.User
	created    []*models.User
	listed     []models.User
	listFilter models.UserFilter
	assigned   map[string][]string
}

func (f *fakeUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.listFilter = filter
	return f.listed, len(f.listed), nil
}

func (f *fakeUserRepo) AssignSubjects(ctx context.Context, userID string, schemeIDs []string) error {
	if f.assigned == nil {
		f.assigned = make(map[string][]string)
	}
	f.assigned[userID] = append(f.assigned[userID], schemeIDs...)
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.created {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	user.ID = "user-new"
	f.created = append(f.created, user)
	return nil
}

func newTestUserService(repo *fakeUserRepo, audit auditRecorder) *UserService {
	svc := NewUserService(repo, audit, nil, nil)
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestUserServiceCreateStudent(t *testing.T) {
	repo := &fakeUserRepo{}
	audit := &recordingAudit{}
	svc := newTestUserService(repo, audit)

	user, err := svc.Create(context.Background(), dto.CreateUserRequest{
		Email:            " Ravi@Example.com ",
		Password:         "longpassword",
		FirstName:        "Ravi",
		Role:             models.RoleStudent,
		Department:       "CSE",
		Semester:         3,
		Section:          "a",
		EnrollmentNumber: "CSE001",
	}, models.AuditActor{UserID: "admin-1"})
	require.NoError(t, err)

	assert.Equal(t, "ravi@example.com", user.Email)
	require.NotNil(t, user.Section)
	assert.Equal(t, "A", *user.Section)
	require.NotNil(t, user.Semester)
	assert.Equal(t, 3, *user.Semester)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("longpassword")))
	assert.Equal(t, []string{models.AuditActionCreate}, audit.actions())
}

func TestUserServiceCreateStudentRequiresEnrollment(t *testing.T) {
	svc := newTestUserService(&fakeUserRepo{}, nil)

	_, err := svc.Create(context.Background(), dto.CreateUserRequest{
		Email: "s@example.com", Password: "longpassword", FirstName: "S", Role: models.RoleStudent, Department: "CSE", Semester: 3,
	}, models.AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &fakeUserRepo{byEmail: map[string]*models.User{"f@example.com": {ID: "u-1"}}}
	svc := newTestUserService(repo, nil)

	_, err := svc.Create(context.Background(), dto.CreateUserRequest{
		Email: "f@example.com", Password: "longpassword", FirstName: "F", Role: models.RoleFaculty,
	}, models.AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestUserServiceGetNotFound(t *testing.T) {
	svc := newTestUserService(&fakeUserRepo{}, nil)

	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateFacultyAssignsSubjects(t *testing.T) {
	repo := &fakeUserRepo{}
	svc := newTestUserService(repo, nil)

	user, err := svc.Create(context.Background(), dto.CreateUserRequest{
		Email: "asha@example.com", Password: "longpassword", FirstName: "Asha", Role: models.RoleFaculty, Department: "CSE",
		AssignedSubjects: []string{"sub-1", "sub-2"},
	}, models.AuditActor{})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "sub-2"}, repo.assigned[user.ID])
}

func TestUserServiceListScopesHODToDepartment(t *testing.T) {
	repo := &fakeUserRepo{}
	svc := newTestUserService(repo, nil)
	hod := models.Viewer{UserID: "hod-1", Role: models.RoleHOD, Department: "ECE"}

	_, _, err := svc.List(context.Background(), models.UserFilter{Role: models.RoleStudent, Section: "b"}, hod)
	require.NoError(t, err)
	assert.Equal(t, "ECE", repo.listFilter.Department)
	assert.Equal(t, "B", repo.listFilter.Section)

	_, _, err = svc.List(context.Background(), models.UserFilter{Department: "CSE"}, hod)
	require.NoError(t, err)
	assert.Equal(t, "CSE", repo.listFilter.Department)

	_, _, err = svc.List(context.Background(), models.UserFilter{}, models.Viewer{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Empty(t, repo.listFilter.Department)

	_, _, err = svc.List(context.Background(), models.UserFilter{Role: "JANITOR"}, hod)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
