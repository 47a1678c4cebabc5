package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type fakeSchemeStore struct {
	schemes     map[string]*models.EvaluationScheme
	exists      bool
	createErr   error
	listFilter  models.SchemeFilter
	deactivated []string
}

func (f *fakeSchemeStore) List(ctx context.Context, filter models.SchemeFilter) ([]models.EvaluationScheme, error) {
	f.listFilter = filter
	var out []models.EvaluationScheme
	for _, scheme := range f.schemes {
		if filter.Department != "" && scheme.Department != filter.Department {
			continue
		}
		out = append(out, *scheme)
	}
	return out, nil
}

func (f *fakeSchemeStore) FindByID(ctx context.Context, id string) (*models.EvaluationScheme, error) {
	if scheme, ok := f.schemes[id]; ok {
		clone := *scheme
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSchemeStore) Exists(ctx context.Context, department string, semester int, subjectCode, excludeID string) (bool, error) {
	return f.exists, nil
}

func (f *fakeSchemeStore) Create(ctx context.Context, scheme *models.EvaluationScheme) error {
	if f.createErr != nil {
		return f.createErr
	}
	scheme.ID = "scheme-new"
	if f.schemes == nil {
		f.schemes = make(map[string]*models.EvaluationScheme)
	}
	f.schemes[scheme.ID] = scheme
	return nil
}

func (f *fakeSchemeStore) Update(ctx context.Context, scheme *models.EvaluationScheme) error {
	if _, ok := f.schemes[scheme.ID]; !ok {
		return sql.ErrNoRows
	}
	f.schemes[scheme.ID] = scheme
	return nil
}

func (f *fakeSchemeStore) Deactivate(ctx context.Context, id string) error {
	if _, ok := f.schemes[id]; !ok {
		return sql.ErrNoRows
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

func validSchemeRequest() dto.SchemeRequest {
	return dto.SchemeRequest{
		Department:  "CSE",
		Semester:    3,
		SubjectCode: " cs301 ",
		SubjectName: "Data Structures",
		Components: []dto.SchemeComponentRequest{
			{Name: models.ComponentQuiz, MaxMarks: 10, Weightage: 10},
			{Name: models.ComponentMidterm, MaxMarks: 30, Weightage: 30},
			{Name: models.ComponentLab, MaxMarks: 60, Weightage: 60},
		},
	}
}

var hodActor = models.AuditActor{UserID: "hod-1"}

func TestSchemeServiceCreateAppliesDefaults(t *testing.T) {
	store := &fakeSchemeStore{}
	audit := &recordingAudit{}
	svc := NewSchemeService(store, &fakeRoster{}, audit, nil, 4, nil, nil)

	scheme, err := svc.Create(context.Background(), validSchemeRequest(), hodActor)
	require.NoError(t, err)

	assert.Equal(t, "scheme-new", scheme.ID)
	assert.Equal(t, "CS301", scheme.SubjectCode)
	assert.Equal(t, 4.0, scheme.GraceMarks.MaxGraceMarks)
	assert.Equal(t, 75.0, scheme.AttendanceThreshold.MinAttendancePercentage)
	assert.Equal(t, "hod-1", scheme.CreatedBy)
	assert.Equal(t, []string{models.AuditActionCreate}, audit.actions())
}

func TestSchemeServiceCreateRejectsOverweight(t *testing.T) {
	svc := NewSchemeService(&fakeSchemeStore{}, &fakeRoster{}, nil, nil, 5, nil, nil)
	req := validSchemeRequest()
	req.Components[2].Weightage = 61

	_, err := svc.Create(context.Background(), req, hodActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidWeights.Code, appErrors.FromError(err).Code)
}

func TestSchemeServiceCreateRejectsUnknownComponent(t *testing.T) {
	svc := NewSchemeService(&fakeSchemeStore{}, &fakeRoster{}, nil, nil, 5, nil, nil)
	req := validSchemeRequest()
	req.Components[0].Name = "Viva"

	_, err := svc.Create(context.Background(), req, hodActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSchemeServiceCreateDuplicate(t *testing.T) {
	svc := NewSchemeService(&fakeSchemeStore{exists: true}, &fakeRoster{}, nil, nil, 5, nil, nil)

	_, err := svc.Create(context.Background(), validSchemeRequest(), hodActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	racing := NewSchemeService(&fakeSchemeStore{createErr: &pq.Error{Code: "23505"}}, &fakeRoster{}, nil, nil, 5, nil, nil)
	_, err = racing.Create(context.Background(), validSchemeRequest(), hodActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSchemeServiceUpdateKeepsComponentIDsAndPolicies(t *testing.T) {
	existing := exampleScheme()
	existing.GraceMarks.MaxGraceMarks = 2
	existing.BestOfTwo = models.BestOfTwoPolicy{Enabled: true, Exams: []string{"Quiz", "Midterm"}}
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{existing.ID: existing}}
	stats := &fakeStatsInvalidator{}
	audit := &recordingAudit{}
	svc := NewSchemeService(store, &fakeRoster{}, audit, stats, 5, nil, nil)

	req := validSchemeRequest()
	req.SubjectName = "Advanced Data Structures"
	updated, err := svc.Update(context.Background(), existing.ID, req, hodActor)
	require.NoError(t, err)

	assert.Equal(t, "sub-1", updated.ID)
	assert.Equal(t, "Advanced Data Structures", updated.SubjectName)
	assert.Equal(t, []string{"quiz", "mid", "lab"}, []string{updated.Components[0].ID, updated.Components[1].ID, updated.Components[2].ID})
	assert.Equal(t, 2.0, updated.GraceMarks.MaxGraceMarks)
	assert.True(t, updated.BestOfTwo.Enabled)
	assert.Equal(t, []string{"sub-1"}, stats.subjects)
	assert.Equal(t, []string{models.AuditActionUpdate}, audit.actions())
}

func TestSchemeServiceUpdateMissing(t *testing.T) {
	svc := NewSchemeService(&fakeSchemeStore{}, &fakeRoster{}, nil, nil, 5, nil, nil)

	_, err := svc.Update(context.Background(), "nope", validSchemeRequest(), hodActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSchemeServiceDeleteDeactivates(t *testing.T) {
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{"sub-1": exampleScheme()}}
	audit := &recordingAudit{}
	svc := NewSchemeService(store, &fakeRoster{}, audit, nil, 5, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "sub-1", hodActor))
	assert.Equal(t, []string{"sub-1"}, store.deactivated)
	assert.Equal(t, []string{models.AuditActionDelete}, audit.actions())
}

func TestSchemeServiceMineFiltersBySection(t *testing.T) {
	general := exampleScheme()
	sectionA := exampleScheme()
	sectionA.ID, sectionA.Section = "sub-a", "A"
	sectionB := exampleScheme()
	sectionB.ID, sectionB.Section = "sub-b", "B"
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{general.ID: general, sectionA.ID: sectionA, sectionB.ID: sectionB}}
	stu := student("stu-1", "CSE001")
	roster := &fakeRoster{users: map[string]*models.User{"stu-1": &stu}}
	svc := NewSchemeService(store, roster, nil, nil, 5, nil, nil)

	schemes, err := svc.Mine(context.Background(), models.Viewer{UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	ids := make([]string, 0, len(schemes))
	for _, s := range schemes {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"sub-1", "sub-a"}, ids)
	require.NotNil(t, store.listFilter.Active)
	assert.True(t, *store.listFilter.Active)
	assert.Equal(t, 3, store.listFilter.Semester)
}

func TestSchemeServiceListScopesHODToDepartment(t *testing.T) {
	cse := exampleScheme()
	ece := exampleScheme()
	ece.ID, ece.Department = "sub-ece", "ECE"
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{cse.ID: cse, ece.ID: ece}}
	svc := NewSchemeService(store, &fakeRoster{}, nil, nil, 5, nil, nil)
	hod := models.Viewer{UserID: "hod-1", Role: models.RoleHOD, Department: "ECE"}

	schemes, err := svc.List(context.Background(), models.SchemeFilter{}, hod)
	require.NoError(t, err)
	require.Len(t, schemes, 1)
	assert.Equal(t, "sub-ece", schemes[0].ID)

	schemes, err = svc.List(context.Background(), models.SchemeFilter{Department: "CSE"}, hod)
	require.NoError(t, err)
	require.Len(t, schemes, 1)
	assert.Equal(t, "sub-1", schemes[0].ID)

	schemes, err = svc.List(context.Background(), models.SchemeFilter{}, models.Viewer{UserID: "fac-1", Role: models.RoleFaculty, Department: "ECE"})
	require.NoError(t, err)
	assert.Len(t, schemes, 2)
}

func TestSchemeServiceMineForStaff(t *testing.T) {
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{"sub-1": exampleScheme()}}
	roster := &fakeRoster{assigned: map[string][]string{"fac-1": {"sub-1", "sub-9"}}}
	svc := NewSchemeService(store, roster, nil, nil, 5, nil, nil)

	_, err := svc.Mine(context.Background(), models.Viewer{UserID: "fac-1", Role: models.RoleFaculty})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "sub-9"}, store.listFilter.IDs)
	require.NotNil(t, store.listFilter.Active)
	assert.True(t, *store.listFilter.Active)

	_, err = svc.Mine(context.Background(), models.Viewer{UserID: "fac-2", Role: models.RoleFaculty})
	require.NoError(t, err)
	assert.Empty(t, store.listFilter.IDs)

	_, err = svc.Mine(context.Background(), models.Viewer{UserID: "hod-1", Role: models.RoleHOD, Department: "CSE"})
	require.NoError(t, err)
	assert.Equal(t, "CSE", store.listFilter.Department)
	assert.Empty(t, store.listFilter.IDs)
}

func TestSchemeServiceUpdateRejectsDuplicateComponents(t *testing.T) {
	existing := exampleScheme()
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{existing.ID: existing}}
	svc := NewSchemeService(store, &fakeRoster{}, nil, nil, 5, nil, nil)

	req := validSchemeRequest()
	req.Components = []dto.SchemeComponentRequest{
		{Name: models.ComponentQuiz, MaxMarks: 10, Weightage: 10},
		{Name: models.ComponentQuiz, MaxMarks: 20, Weightage: 20},
	}
	_, err := svc.Update(context.Background(), existing.ID, req, hodActor)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "more than once")
	assert.Len(t, store.schemes[existing.ID].Components, 3)
}

func TestSchemeServiceTemplate(t *testing.T) {
	store := &fakeSchemeStore{schemes: map[string]*models.EvaluationScheme{"sub-1": exampleScheme()}}
	roster := &fakeRoster{students: []models.User{student("stu-1", "CSE001"), student("stu-2", "CSE002")}}
	svc := NewSchemeService(store, roster, nil, nil, 5, nil, nil)

	payload, filename, err := svc.Template(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "cs301_marks_template.csv", filename)

	rows, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"enrollmentNumber", "Quiz", "Midterm", "Lab"}, rows[0])
	assert.Equal(t, []string{"CSE001", "", "", ""}, rows[1])
}
