package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userColumnNames = []string{"id", "email", "password_hash", "first_name", "last_name", "role", "department", "semester", "section", "enrollment_number", "active", "last_login", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userColumnNames).
		AddRow("1", "hod@example.com", "hash", "Asha", "Rao", string(models.RoleHOD), "CSE", nil, nil, nil, true, now, now, now)
	mock.ExpectQuery(`SELECT id, email, password_hash, first_name, last_name, role, department, semester, section,\s+enrollment_number, active, last_login, created_at, updated_at FROM users WHERE email = \$1 LIMIT 1`).
		WithArgs("hod@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "hod@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hod@example.com", user.Email)
	require.NotNil(t, user.Department)
	assert.Equal(t, "CSE", *user.Department)
	assert.Nil(t, user.Semester)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStudentsWithSection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userColumnNames).
		AddRow("stu-1", "s1@example.com", "hash", "Ravi", "K", string(models.RoleStudent), "CSE", 3, "A", "CSE001", true, nil, now, now).
		AddRow("stu-2", "s2@example.com", "hash", "Meera", "P", string(models.RoleStudent), "CSE", 3, "A", "CSE002", true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE role = $1 AND active = TRUE AND department = $2 AND semester = $3 AND section = $4 ORDER BY enrollment_number")).
		WithArgs(models.RoleStudent, "CSE", 3, "A").
		WillReturnRows(rows)

	students, err := repo.ListStudents(context.Background(), models.RosterFilter{Department: "CSE", Semester: 3, Section: "A"})
	require.NoError(t, err)
	require.Len(t, students, 2)
	require.NotNil(t, students[1].EnrollmentNumber)
	assert.Equal(t, "CSE002", *students[1].EnrollmentNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStudentsWithoutSection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND department = $2 AND semester = $3 ORDER BY enrollment_number")).
		WithArgs(models.RoleStudent, "CSE", 3).
		WillReturnRows(sqlmock.NewRows(userColumnNames))

	students, err := repo.ListStudents(context.Background(), models.RosterFilter{Department: "CSE", Semester: 3})
	require.NoError(t, err)
	assert.Empty(t, students)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{UserID: "u1", TokenHash: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Email: "f@example.com", PasswordHash: "hash", FirstName: "Faculty", Role: models.RoleFaculty, Active: true}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1 AND department = $2 AND (LOWER(first_name) LIKE $3 OR LOWER(last_name) LIKE $3 OR LOWER(email) LIKE $3)")).
		WithArgs(models.RoleFaculty, "CSE", "%asha%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs(models.RoleFaculty, "CSE", "%asha%", 10, 10).
		WillReturnRows(sqlmock.NewRows(userColumnNames).
			AddRow("fac-1", "asha@example.com", "hash", "Asha", "Rao", string(models.RoleFaculty), "CSE", nil, nil, nil, true, nil, now, now))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: models.RoleFaculty, Department: "CSE", Search: "Asha", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, users, 1)
	assert.Equal(t, "fac-1", users[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignedSubjects(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT scheme_id FROM faculty_subjects WHERE user_id = $1")).
		WithArgs("fac-1").
		WillReturnRows(sqlmock.NewRows([]string{"scheme_id"}).AddRow("sub-1").AddRow("sub-2"))

	ids, err := repo.AssignedSubjects(context.Background(), "fac-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "sub-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignSubjectsRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO faculty_subjects").WithArgs("fac-1", "sub-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO faculty_subjects").WithArgs("fac-1", "sub-x").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.AssignSubjects(context.Background(), "fac-1", []string{"sub-1", "sub-x"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
