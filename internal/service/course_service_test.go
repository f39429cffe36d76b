package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type courseRepoStub struct {
	byID    map[string]*models.Course
	details map[string]*models.CourseDetail

	listItems  []models.CourseDetail
	listFilter models.CourseFilter

	created []*models.Course
	updated []*models.Course
	deleted []string

	units        map[string][]models.CourseUnit
	upserted     []*models.CourseUnit
	deletedUnits []int
}

func newCourseRepoStub() *courseRepoStub {
	return &courseRepoStub{
		byID:    map[string]*models.Course{},
		details: map[string]*models.CourseDetail{},
		units:   map[string][]models.CourseUnit{},
	}
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if course, ok := s.byID[id]; ok {
		return course, nil
	}
	return nil, sql.ErrNoRows
}

func (s *courseRepoStub) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	if detail, ok := s.details[id]; ok {
		return detail, nil
	}
	return nil, sql.ErrNoRows
}

func (s *courseRepoStub) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	s.listFilter = filter
	return s.listItems, len(s.listItems), nil
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	s.created = append(s.created, course)
	return nil
}

func (s *courseRepoStub) Update(ctx context.Context, course *models.Course) error {
	s.updated = append(s.updated, course)
	return nil
}

func (s *courseRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *courseRepoStub) ListUnits(ctx context.Context, courseID string) ([]models.CourseUnit, error) {
	return s.units[courseID], nil
}

func (s *courseRepoStub) FindUnit(ctx context.Context, courseID string, number int) (*models.CourseUnit, error) {
	for i := range s.units[courseID] {
		if s.units[courseID][i].Number == number {
			return &s.units[courseID][i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *courseRepoStub) UpsertUnit(ctx context.Context, unit *models.CourseUnit) error {
	s.upserted = append(s.upserted, unit)
	return nil
}

func (s *courseRepoStub) DeleteUnit(ctx context.Context, courseID string, number int) error {
	s.deletedUnits = append(s.deletedUnits, number)
	return nil
}

type courseProfessorStub struct {
	byID     map[string]*models.Professor
	byUserID map[string]*models.Professor
}

func (s courseProfessorStub) FindByID(ctx context.Context, id string) (*models.Professor, error) {
	if professor, ok := s.byID[id]; ok {
		return professor, nil
	}
	return nil, sql.ErrNoRows
}

func (s courseProfessorStub) FindByUserID(ctx context.Context, userID string) (*models.Professor, error) {
	if professor, ok := s.byUserID[userID]; ok {
		return professor, nil
	}
	return nil, sql.ErrNoRows
}

func courseOwnerFixture() courseProfessorStub {
	owner := &models.Professor{ID: "prof-1", UserID: "user-9"}
	return courseProfessorStub{
		byID:     map[string]*models.Professor{"prof-1": owner},
		byUserID: map[string]*models.Professor{"user-9": owner},
	}
}

func TestCourseServiceCreateRequiresProfessorProfile(t *testing.T) {
	repo := newCourseRepoStub()
	service := NewCourseService(repo, courseProfessorStub{}, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	_, err := service.Create(context.Background(), actor, models.CreateCourseRequest{Title: "Databases"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	service = NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())
	course, err := service.Create(context.Background(), actor, models.CreateCourseRequest{Title: "Databases", Description: "SQL and beyond"})
	require.NoError(t, err)
	assert.NotEmpty(t, course.ID)
	assert.Equal(t, "prof-1", course.ProfessorID)
	assert.True(t, course.Active)
	require.Len(t, repo.created, 1)
}

func TestCourseServiceListForcesActiveForStudents(t *testing.T) {
	repo := newCourseRepoStub()
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())

	student := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, _, err := service.List(context.Background(), student, models.CourseFilter{})
	require.NoError(t, err)
	require.NotNil(t, repo.listFilter.Active)
	assert.True(t, *repo.listFilter.Active)

	professor := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	_, _, err = service.List(context.Background(), professor, models.CourseFilter{})
	require.NoError(t, err)
	assert.Nil(t, repo.listFilter.Active)
}

func TestCourseServiceUpdateOwnerOnly(t *testing.T) {
	repo := newCourseRepoStub()
	repo.byID["course-1"] = &models.Course{ID: "course-1", ProfessorID: "prof-1", Title: "Databases", Active: true}
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())

	title := "Advanced Databases"
	stranger := models.JWTClaims{UserID: "user-5", Role: models.RoleProfessor}
	_, err := service.Update(context.Background(), stranger, "course-1", models.UpdateCourseRequest{Title: &title})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.updated)

	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	course, err := service.Update(context.Background(), owner, "course-1", models.UpdateCourseRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Advanced Databases", course.Title)

	inactive := false
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	course, err = service.Update(context.Background(), admin, "course-1", models.UpdateCourseRequest{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, course.Active)
}

func TestCourseServiceDeleteDeactivates(t *testing.T) {
	repo := newCourseRepoStub()
	repo.byID["course-1"] = &models.Course{ID: "course-1", ProfessorID: "prof-1", Active: true}
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())

	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	require.NoError(t, service.Delete(context.Background(), owner, "course-1"))
	assert.Equal(t, []string{"course-1"}, repo.deleted)
}

func TestCourseServiceUpsertUnit(t *testing.T) {
	repo := newCourseRepoStub()
	repo.byID["course-1"] = &models.Course{ID: "course-1", ProfessorID: "prof-1", Active: true}
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())
	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}

	_, err := service.UpsertUnit(context.Background(), owner, "course-1", models.UpsertCourseUnitRequest{Number: 0, Title: "Intro"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	unit, err := service.UpsertUnit(context.Background(), owner, "course-1", models.UpsertCourseUnitRequest{
		Number: 1, Title: "Intro", Content: "Welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, "course-1", unit.CourseID)
	assert.Equal(t, 1, unit.Number)
	require.Len(t, repo.upserted, 1)
}

func TestCourseServiceDeleteUnit(t *testing.T) {
	repo := newCourseRepoStub()
	repo.byID["course-1"] = &models.Course{ID: "course-1", ProfessorID: "prof-1", Active: true}
	repo.units["course-1"] = []models.CourseUnit{{CourseID: "course-1", Number: 1, Title: "Intro"}}
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())
	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}

	err := service.DeleteUnit(context.Background(), owner, "course-1", 7)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, service.DeleteUnit(context.Background(), owner, "course-1", 1))
	assert.Equal(t, []int{1}, repo.deletedUnits)
}

func TestCourseServiceListUnitsChecksCourse(t *testing.T) {
	repo := newCourseRepoStub()
	service := NewCourseService(repo, courseOwnerFixture(), nil, zap.NewNop())

	_, err := service.ListUnits(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
