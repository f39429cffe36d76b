package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aularis/lms-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func enrollmentRows(state models.EnrollmentState, progress int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "student_id", "course_id", "state", "progress", "grade", "enrolled_at", "completed_at", "updated_at"}).
		AddRow("enr-1", "stu-1", "crs-1", string(state), progress, nil, now, nil, now)
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_student_id_course_id_key"})

	err := repo.Create(context.Background(), &models.Enrollment{StudentID: "stu-1", CourseID: "crs-1"})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
}

func TestSetUnitCompletion(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, state, progress, grade, enrolled_at, completed_at, updated_at FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateEnrolled, 25))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_units WHERE course_id = $1 AND number = $2 LIMIT 1")).
		WithArgs("crs-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_units")).
		WithArgs("enr-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_units WHERE course_id = $1")).
		WithArgs("crs-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_units WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET state = $2, progress = $3, completed_at = $4, updated_at = $5 WHERE id = $1")).
		WithArgs("enr-1", string(models.EnrollmentStateEnrolled), 50, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT unit_number FROM enrollment_units WHERE enrollment_id = $1 ORDER BY unit_number ASC")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"unit_number"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	result, err := repo.SetUnitCompletion(context.Background(), "enr-1", 2, true)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 50, result.Enrollment.Progress)
	assert.Equal(t, models.EnrollmentStateEnrolled, result.Enrollment.State)
	assert.Equal(t, []int{1, 2}, result.Enrollment.CompletedUnits)
	assert.Equal(t, 4, result.TotalUnits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUnitCompletionAutoCompletes(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateEnrolled, 67))
	mock.ExpectQuery("SELECT 1 FROM course_units").
		WithArgs("crs-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("INSERT INTO enrollment_units").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_units")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_units")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("UPDATE enrollments SET").
		WithArgs("enr-1", string(models.EnrollmentStateCompleted), 100, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT unit_number FROM enrollment_units").
		WillReturnRows(sqlmock.NewRows([]string{"unit_number"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectCommit()

	result, err := repo.SetUnitCompletion(context.Background(), "enr-1", 3, true)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Enrollment.Progress)
	assert.Equal(t, models.EnrollmentStateCompleted, result.Enrollment.State)
	require.NotNil(t, result.Enrollment.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUnitCompletionRevertsCompleted(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateCompleted, 100))
	mock.ExpectQuery("SELECT 1 FROM course_units").
		WithArgs("crs-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("DELETE FROM enrollment_units").
		WithArgs("enr-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_units")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_units")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("UPDATE enrollments SET").
		WithArgs("enr-1", string(models.EnrollmentStateEnrolled), 67, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT unit_number FROM enrollment_units").
		WillReturnRows(sqlmock.NewRows([]string{"unit_number"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	result, err := repo.SetUnitCompletion(context.Background(), "enr-1", 3, false)
	require.NoError(t, err)
	assert.Equal(t, 67, result.Enrollment.Progress)
	assert.Equal(t, models.EnrollmentStateEnrolled, result.Enrollment.State)
	assert.Nil(t, result.Enrollment.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUnitCompletionDropped(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateDropped, 40))
	mock.ExpectRollback()

	_, err := repo.SetUnitCompletion(context.Background(), "enr-1", 1, true)
	assert.ErrorIs(t, err, ErrEnrollmentDropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUnitCompletionUnknownUnit(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateEnrolled, 0))
	mock.ExpectQuery("SELECT 1 FROM course_units").
		WithArgs("crs-1", 99).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	_, err := repo.SetUnitCompletion(context.Background(), "enr-1", 99, true)
	assert.ErrorIs(t, err, ErrUnitNotInCourse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEnrollmentIgnoresProgressWhileCompleted(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateCompleted, 100))
	mock.ExpectExec("UPDATE enrollments SET").
		WithArgs("enr-1", string(models.EnrollmentStateCompleted), 100, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT unit_number FROM enrollment_units").
		WillReturnRows(sqlmock.NewRows([]string{"unit_number"}))
	mock.ExpectCommit()

	progress := 10
	updated, err := repo.UpdateEnrollment(context.Background(), "enr-1", UpdateEnrollmentParams{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEnrollmentForceCompleted(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM enrollments WHERE id").
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.EnrollmentStateEnrolled, 40))
	mock.ExpectExec("UPDATE enrollments SET").
		WithArgs("enr-1", string(models.EnrollmentStateCompleted), 100, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT unit_number FROM enrollment_units").
		WillReturnRows(sqlmock.NewRows([]string{"unit_number"}).AddRow(1))
	mock.ExpectCommit()

	state := models.EnrollmentStateCompleted
	updated, err := repo.UpdateEnrollment(context.Background(), "enr-1", UpdateEnrollmentParams{State: &state})
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Progress)
	assert.Equal(t, models.EnrollmentStateCompleted, updated.State)
	require.NotNil(t, updated.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
