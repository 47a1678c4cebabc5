package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
)

func TestAttendanceRepositoryListPercentages(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT percentage FROM attendance_records WHERE student_id = $1 AND subject_id = $2 ORDER BY year, month")).
		WithArgs("stu-1", "sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"percentage"}).AddRow(80.0).AddRow(70.0))

	percentages, err := repo.ListPercentages(context.Background(), "stu-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, []float64{80, 70}, percentages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListPercentagesEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("SELECT percentage FROM attendance_records").
		WillReturnRows(sqlmock.NewRows([]string{"percentage"}))

	percentages, err := repo.ListPercentages(context.Background(), "stu-1", "sub-1")
	require.NoError(t, err)
	assert.NotNil(t, percentages)
	assert.Empty(t, percentages)
}

func TestAttendanceRepositoryListPercentagesError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("SELECT percentage FROM attendance_records").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListPercentages(context.Background(), "stu-1", "sub-1")
	assert.Error(t, err)
}

func TestAttendanceRepositoryUpsertDerivesPercentage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectPrepare("INSERT INTO attendance_records").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("att-existing"))

	record := &models.AttendanceRecord{StudentID: "stu-1", SubjectID: "sub-1", TotalClasses: 20, AttendedClasses: 16, Month: 8, Year: 2026}
	require.NoError(t, repo.Upsert(context.Background(), record))
	assert.Equal(t, 80.0, record.Percentage)
	assert.Equal(t, "att-existing", record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummary(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("FROM attendance_records a JOIN evaluation_schemes s ON s.id = a.subject_id").
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "subject_code", "subject_name", "total_classes", "attended_classes", "average_percentage"}).
			AddRow("sub-1", "CS301", "Data Structures", 40, 30, 76.5))

	summaries, err := repo.Summary(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 75.0, summaries[0].OverallPercentage)
	assert.Equal(t, 76.5, summaries[0].AveragePercentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
