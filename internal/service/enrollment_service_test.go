package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type courseFinderStub struct {
	courses map[string]*models.Course
	err     error
}

func (s courseFinderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if s.err != nil {
		return nil, s.err
	}
	if course, ok := s.courses[id]; ok {
		return course, nil
	}
	return nil, sql.ErrNoRows
}

type professorFinderStub struct {
	professors map[string]*models.Professor
}

func (s professorFinderStub) FindByID(ctx context.Context, id string) (*models.Professor, error) {
	if professor, ok := s.professors[id]; ok {
		return professor, nil
	}
	return nil, sql.ErrNoRows
}

type studentResolverStub struct {
	byID     map[string]*models.Student
	byUserID map[string]*models.Student
}

func (s studentResolverStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := s.byID[id]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (s studentResolverStub) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if student, ok := s.byUserID[userID]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

type enrollmentRepoStub struct {
	byID    map[string]*models.Enrollment
	byPair  map[string]*models.Enrollment
	details map[string]*models.EnrollmentDetail

	created   []*models.Enrollment
	createErr error

	pairCalls  int
	raceWinner *models.Enrollment

	unitResult *repository.UnitMutationResult
	unitErr    error

	updated      *models.Enrollment
	updateErr    error
	updateParams []repository.UpdateEnrollmentParams

	listItems  []models.EnrollmentDetail
	listFilter models.EnrollmentFilter

	deleted []string
}

func enrollmentPairKey(studentID, courseID string) string {
	return studentID + "|" + courseID
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if enrollment, ok := s.byID[id]; ok {
		return enrollment, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	s.pairCalls++
	if enrollment, ok := s.byPair[enrollmentPairKey(studentID, courseID)]; ok {
		return enrollment, nil
	}
	if s.raceWinner != nil && s.pairCalls > 1 {
		return s.raceWinner, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if detail, ok := s.details[id]; ok {
		return detail, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	s.listFilter = filter
	return s.listItems, len(s.listItems), nil
}

func (s *enrollmentRepoStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if s.createErr != nil {
		return s.createErr
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	s.created = append(s.created, enrollment)
	return nil
}

func (s *enrollmentRepoStub) SetUnitCompletion(ctx context.Context, enrollmentID string, unitNumber int, completed bool) (*repository.UnitMutationResult, error) {
	if s.unitErr != nil {
		return nil, s.unitErr
	}
	return s.unitResult, nil
}

func (s *enrollmentRepoStub) UpdateEnrollment(ctx context.Context, id string, params repository.UpdateEnrollmentParams) (*models.Enrollment, error) {
	s.updateParams = append(s.updateParams, params)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.updated, nil
}

func (s *enrollmentRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type enrollmentNotifierStub struct {
	queued [][2]string
	err    error
}

func (s *enrollmentNotifierStub) QueueEnrollmentConfirmation(studentID, courseID string) error {
	s.queued = append(s.queued, [2]string{studentID, courseID})
	return s.err
}

func TestEnrollmentServiceEnrollCreates(t *testing.T) {
	courseID := uuid.NewString()
	repo := &enrollmentRepoStub{}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: true}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	notifier := &enrollmentNotifierStub{}

	service := NewEnrollmentService(repo, students, courses, professors, notifier, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	enrollment, created, err := service.Enroll(context.Background(), actor, models.CreateEnrollmentRequest{CourseID: courseID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "student-1", enrollment.StudentID)
	assert.Equal(t, models.EnrollmentStateEnrolled, enrollment.State)
	assert.Equal(t, 0, enrollment.Progress)
	require.Len(t, notifier.queued, 1)
	assert.Equal(t, [2]string{"student-1", courseID}, notifier.queued[0])
}

func TestEnrollmentServiceEnrollIdempotent(t *testing.T) {
	courseID := uuid.NewString()
	existing := &models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: courseID, State: models.EnrollmentStateEnrolled}
	repo := &enrollmentRepoStub{byPair: map[string]*models.Enrollment{enrollmentPairKey("student-1", courseID): existing}}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: true}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	notifier := &enrollmentNotifierStub{}

	service := NewEnrollmentService(repo, students, courses, professors, notifier, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	enrollment, created, err := service.Enroll(context.Background(), actor, models.CreateEnrollmentRequest{CourseID: courseID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "enr-1", enrollment.ID)
	assert.Empty(t, repo.created)
	assert.Empty(t, notifier.queued)
}

func TestEnrollmentServiceEnrollOwnCourse(t *testing.T) {
	courseID := uuid.NewString()
	repo := &enrollmentRepoStub{}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: true}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-1"}}}

	service := NewEnrollmentService(repo, students, courses, professors, nil, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleProfessor}
	_, _, err := service.Enroll(context.Background(), actor, models.CreateEnrollmentRequest{CourseID: courseID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOwnCourse.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestEnrollmentServiceEnrollLostRaceServesWinner(t *testing.T) {
	courseID := uuid.NewString()
	winner := &models.Enrollment{ID: "enr-winner", StudentID: "student-1", CourseID: courseID}
	repo := &enrollmentRepoStub{createErr: repository.ErrDuplicateEnrollment, raceWinner: winner}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: true}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}

	service := NewEnrollmentService(repo, students, courses, professors, nil, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	enrollment, created, err := service.Enroll(context.Background(), actor, models.CreateEnrollmentRequest{CourseID: courseID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "enr-winner", enrollment.ID)
}

func TestEnrollmentServiceEnrollForOtherRequiresAdmin(t *testing.T) {
	courseID := uuid.NewString()
	studentID := uuid.NewString()
	repo := &enrollmentRepoStub{}
	students := studentResolverStub{
		byID:     map[string]*models.Student{studentID: {ID: studentID, UserID: "user-2"}},
		byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}},
	}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: true}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	service := NewEnrollmentService(repo, students, courses, professors, nil, nil, zap.NewNop())

	student := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, _, err := service.Enroll(context.Background(), student, models.CreateEnrollmentRequest{CourseID: courseID, StudentID: studentID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	enrollment, created, err := service.Enroll(context.Background(), admin, models.CreateEnrollmentRequest{CourseID: courseID, StudentID: studentID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, studentID, enrollment.StudentID)
}

func TestEnrollmentServiceEnrollInactiveCourseHidden(t *testing.T) {
	courseID := uuid.NewString()
	repo := &enrollmentRepoStub{}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{courseID: {ID: courseID, ProfessorID: "prof-1", Active: false}}}

	service := NewEnrollmentService(repo, students, courses, professorFinderStub{}, nil, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, _, err := service.Enroll(context.Background(), actor, models.CreateEnrollmentRequest{CourseID: courseID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompleteUnitOwnerOnly(t *testing.T) {
	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}
	repo := &enrollmentRepoStub{
		byID: map[string]*models.Enrollment{"enr-1": enrollment},
		unitResult: &repository.UnitMutationResult{
			Enrollment: models.Enrollment{ID: "enr-1", Progress: 50},
			TotalUnits: 2,
			Changed:    true,
		},
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{
		"user-1": {ID: "student-1", UserID: "user-1"},
		"user-2": {ID: "student-2", UserID: "user-2"},
	}}
	service := NewEnrollmentService(repo, students, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	stranger := models.JWTClaims{UserID: "user-2", Role: models.RoleStudent}
	_, err := service.CompleteUnit(context.Background(), stranger, "enr-1", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	owner := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	result, err := service.CompleteUnit(context.Background(), owner, "enr-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Enrollment.Progress)
	assert.True(t, result.Changed)
}

func TestEnrollmentServiceCompleteUnitDropped(t *testing.T) {
	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}
	repo := &enrollmentRepoStub{
		byID:    map[string]*models.Enrollment{"enr-1": enrollment},
		unitErr: repository.ErrEnrollmentDropped,
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	service := NewEnrollmentService(repo, students, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.CompleteUnit(context.Background(), actor, "enr-1", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrEnrollmentDropped.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompleteUnitUnknownUnit(t *testing.T) {
	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}
	repo := &enrollmentRepoStub{
		byID:    map[string]*models.Enrollment{"enr-1": enrollment},
		unitErr: repository.ErrUnitNotInCourse,
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	service := NewEnrollmentService(repo, students, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.CompleteUnit(context.Background(), actor, "enr-1", 99)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownUnit.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceUpdateStudentStateOnly(t *testing.T) {
	detail := &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}}
	repo := &enrollmentRepoStub{
		details: map[string]*models.EnrollmentDetail{"enr-1": detail},
		updated: &models.Enrollment{ID: "enr-1", State: models.EnrollmentStateDropped},
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	service := NewEnrollmentService(repo, students, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	state := models.EnrollmentStateDropped
	grade := 95.0
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	updated, err := service.Update(context.Background(), actor, "enr-1", models.UpdateEnrollmentRequest{State: &state, Grade: &grade})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStateDropped, updated.State)
	require.Len(t, repo.updateParams, 1)
	assert.NotNil(t, repo.updateParams[0].State)
	assert.Nil(t, repo.updateParams[0].Grade)
	assert.Nil(t, repo.updateParams[0].Progress)
}

func TestEnrollmentServiceUpdateProfessorGradeOnly(t *testing.T) {
	detail := &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}}
	repo := &enrollmentRepoStub{
		details: map[string]*models.EnrollmentDetail{"enr-1": detail},
		updated: &models.Enrollment{ID: "enr-1"},
	}
	courses := courseFinderStub{courses: map[string]*models.Course{"course-1": {ID: "course-1", ProfessorID: "prof-1"}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	service := NewEnrollmentService(repo, studentResolverStub{}, courses, professors, nil, nil, zap.NewNop())

	state := models.EnrollmentStateCompleted
	grade := 88.5
	actor := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	_, err := service.Update(context.Background(), actor, "enr-1", models.UpdateEnrollmentRequest{State: &state, Grade: &grade})
	require.NoError(t, err)
	require.Len(t, repo.updateParams, 1)
	assert.Nil(t, repo.updateParams[0].State)
	require.NotNil(t, repo.updateParams[0].Grade)
	assert.InDelta(t, 88.5, *repo.updateParams[0].Grade, 0.001)
}

func TestEnrollmentServiceUpdateNothingForRole(t *testing.T) {
	detail := &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: "enr-1", StudentID: "student-1", CourseID: "course-1"}}
	repo := &enrollmentRepoStub{details: map[string]*models.EnrollmentDetail{"enr-1": detail}}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	service := NewEnrollmentService(repo, students, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	// A student may only change state; sending just a progress value
	// leaves nothing this role can write.
	progress := 40
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.Update(context.Background(), actor, "enr-1", models.UpdateEnrollmentRequest{Progress: &progress})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.updateParams)
}

func TestEnrollmentServiceRemoveAdminOnly(t *testing.T) {
	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "student-1"}
	repo := &enrollmentRepoStub{byID: map[string]*models.Enrollment{"enr-1": enrollment}}
	service := NewEnrollmentService(repo, studentResolverStub{}, courseFinderStub{}, professorFinderStub{}, nil, nil, zap.NewNop())

	student := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	err := service.Remove(context.Background(), student, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	require.NoError(t, service.Remove(context.Background(), admin, "enr-1"))
	assert.Equal(t, []string{"enr-1"}, repo.deleted)
}

func TestEnrollmentServiceListScopesByRole(t *testing.T) {
	repo := &enrollmentRepoStub{}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	courses := courseFinderStub{courses: map[string]*models.Course{"course-1": {ID: "course-1", ProfessorID: "prof-1"}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	service := NewEnrollmentService(repo, students, courses, professors, nil, nil, zap.NewNop())

	student := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, _, err := service.List(context.Background(), student, models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "student-1", repo.listFilter.StudentID)

	professor := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	_, _, err = service.List(context.Background(), professor, models.EnrollmentFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, err = service.List(context.Background(), professor, models.EnrollmentFilter{CourseID: "course-1"})
	require.NoError(t, err)
}
