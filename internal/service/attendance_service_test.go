package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type fakeAttendanceRepo struct {
	saved      []models.AttendanceRecord
	failFor    string
	listFilter models.AttendanceFilter
	summaries  []models.AttendanceSummary
}

func (f *fakeAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	f.listFilter = filter
	return f.saved, nil
}

func (f *fakeAttendanceRepo) Upsert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.StudentID == f.failFor {
		return errors.New("db down")
	}
	record.ID = "att-" + record.StudentID
	f.saved = append(f.saved, *record)
	return nil
}

func (f *fakeAttendanceRepo) Summary(ctx context.Context, studentID string) ([]models.AttendanceSummary, error) {
	return f.summaries, nil
}

func attendanceRequest(studentID string, attended, total int) dto.AttendanceRequest {
	return dto.AttendanceRequest{StudentID: studentID, SubjectID: "sub-1", TotalClasses: total, AttendedClasses: attended, Month: 9, Year: 2024}
}

func TestAttendanceServiceRecordComputesPercentage(t *testing.T) {
	repo := &fakeAttendanceRepo{}
	audit := &recordingAudit{}
	svc := NewAttendanceService(repo, audit, nil, nil)

	record, err := svc.Record(context.Background(), attendanceRequest("stu-1", 17, 20), testFaculty)
	require.NoError(t, err)

	assert.Equal(t, "att-stu-1", record.ID)
	assert.Equal(t, 85.0, record.Percentage)
	require.NotNil(t, record.MarkedBy)
	assert.Equal(t, testFaculty.UserID, *record.MarkedBy)
	assert.Equal(t, []string{models.AuditActionCreate}, audit.actions())
}

func TestAttendanceServiceRecordZeroClasses(t *testing.T) {
	svc := NewAttendanceService(&fakeAttendanceRepo{}, nil, nil, nil)

	record, err := svc.Record(context.Background(), attendanceRequest("stu-1", 0, 0), testFaculty)
	require.NoError(t, err)
	assert.Equal(t, 0.0, record.Percentage)
}

func TestAttendanceServiceRecordRejectsAttendedAboveTotal(t *testing.T) {
	repo := &fakeAttendanceRepo{}
	svc := NewAttendanceService(repo, nil, nil, nil)

	_, err := svc.Record(context.Background(), attendanceRequest("stu-1", 21, 20), testFaculty)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.saved)
}

func TestAttendanceServiceBulkReportsRowErrors(t *testing.T) {
	repo := &fakeAttendanceRepo{failFor: "stu-3"}
	audit := &recordingAudit{}
	svc := NewAttendanceService(repo, audit, nil, nil)

	result, err := svc.Bulk(context.Background(), dto.BulkAttendanceRequest{Records: []dto.AttendanceRequest{
		attendanceRequest("stu-1", 18, 20),
		attendanceRequest("stu-2", 30, 20),
		attendanceRequest("stu-3", 10, 20),
		attendanceRequest("stu-4", 20, 20),
	}}, testFaculty)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Saved)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 2, result.Errors[0].Row)
	assert.Equal(t, appErrors.ErrValidation.Code, result.Errors[0].Code)
	assert.Equal(t, 3, result.Errors[1].Row)
	assert.Equal(t, appErrors.ErrInternal.Code, result.Errors[1].Code)
	assert.Equal(t, []string{models.AuditActionUpload}, audit.actions())
}

func TestAttendanceServiceBulkRequiresRecords(t *testing.T) {
	svc := NewAttendanceService(&fakeAttendanceRepo{}, nil, nil, nil)

	_, err := svc.Bulk(context.Background(), dto.BulkAttendanceRequest{}, testFaculty)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceStudentVisibility(t *testing.T) {
	repo := &fakeAttendanceRepo{summaries: []models.AttendanceSummary{{SubjectID: "sub-1", AveragePercentage: 80}}}
	svc := NewAttendanceService(repo, nil, nil, nil)
	viewer := models.Viewer{UserID: "stu-1", Role: models.RoleStudent}

	_, err := svc.List(context.Background(), models.AttendanceFilter{StudentID: "stu-2"}, viewer)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", repo.listFilter.StudentID)

	_, err = svc.Summary(context.Background(), "stu-2", viewer)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	summaries, err := svc.Summary(context.Background(), "stu-1", viewer)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}
