package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type userRepoStub struct {
	users  map[string]*models.User
	emails map[string]bool

	listUsers []models.User
	listTotal int

	created           []*models.User
	createdStudents   []*models.Student
	createdProfessors []*models.Professor
	createErr         error

	updated   []*models.User
	deleted   []string
	revoked   []string
	auditLogs []*models.AuditLog
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{
		users:  map[string]*models.User{},
		emails: map[string]bool{},
	}
}

func (s *userRepoStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return s.listUsers, s.listTotal, nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.emails[email], nil
}

func (s *userRepoStub) Create(ctx context.Context, user *models.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	user.ID = "user-new"
	s.created = append(s.created, user)
	return nil
}

func (s *userRepoStub) CreateWithStudentProfile(ctx context.Context, user *models.User, student *models.Student) error {
	if s.createErr != nil {
		return s.createErr
	}
	user.ID = "user-new"
	s.created = append(s.created, user)
	s.createdStudents = append(s.createdStudents, student)
	return nil
}

func (s *userRepoStub) CreateWithProfessorProfile(ctx context.Context, user *models.User, professor *models.Professor) error {
	if s.createErr != nil {
		return s.createErr
	}
	user.ID = "user-new"
	s.created = append(s.created, user)
	s.createdProfessors = append(s.createdProfessors, professor)
	return nil
}

func (s *userRepoStub) Update(ctx context.Context, user *models.User) error {
	s.updated = append(s.updated, user)
	return nil
}

func (s *userRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *userRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

func (s *userRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.auditLogs = append(s.auditLogs, log)
	return nil
}

type userStudentRepoStub struct {
	byUserID map[string]*models.Student
	created  []*models.Student
}

func (s *userStudentRepoStub) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if student, ok := s.byUserID[userID]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userStudentRepoStub) Create(ctx context.Context, student *models.Student) error {
	s.created = append(s.created, student)
	return nil
}

type userProfessorRepoStub struct {
	byUserID map[string]*models.Professor
	created  []*models.Professor
}

func (s *userProfessorRepoStub) FindByUserID(ctx context.Context, userID string) (*models.Professor, error) {
	if professor, ok := s.byUserID[userID]; ok {
		return professor, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userProfessorRepoStub) Create(ctx context.Context, professor *models.Professor) error {
	s.created = append(s.created, professor)
	return nil
}

func newUserService(repo *userRepoStub, students *userStudentRepoStub, professors *userProfessorRepoStub) *UserService {
	if students == nil {
		students = &userStudentRepoStub{byUserID: map[string]*models.Student{}}
	}
	if professors == nil {
		professors = &userProfessorRepoStub{byUserID: map[string]*models.Professor{}}
	}
	return NewUserService(repo, students, professors, nil, zap.NewNop())
}

func TestUserServiceCreateProfessorAccount(t *testing.T) {
	repo := newUserRepoStub()
	service := newUserService(repo, nil, nil)

	title := "Dr."
	institution := "6edc2f4a-94c5-4b0a-9d2f-0a4a7d0a9c11"
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	user, err := service.Create(context.Background(), admin, CreateUserRequest{
		Email:         "  Grace@Example.COM ",
		Password:      "secret-pass",
		Name:          "Grace",
		Surname:       "Hopper",
		Role:          models.RoleProfessor,
		InstitutionID: &institution,
		Title:         &title,
	}, "203.0.113.1", "go-test")
	require.NoError(t, err)

	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, models.RoleProfessor, user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret-pass")))

	require.Len(t, repo.createdProfessors, 1)
	require.NotNil(t, repo.createdProfessors[0].Title)
	assert.Equal(t, "Dr.", *repo.createdProfessors[0].Title)
	require.NotNil(t, repo.createdProfessors[0].InstitutionID)
	assert.Equal(t, institution, *repo.createdProfessors[0].InstitutionID)

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	require.NotNil(t, repo.auditLogs[0].UserID)
	assert.Equal(t, "admin-1", *repo.auditLogs[0].UserID)
}

func TestUserServiceCreatePicksProfileByRole(t *testing.T) {
	repo := newUserRepoStub()
	service := newUserService(repo, nil, nil)
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := service.Create(context.Background(), admin, CreateUserRequest{
		Email: "s@example.com", Password: "secret-pass", Name: "A", Surname: "B", Role: models.RoleStudent,
	}, "", "")
	require.NoError(t, err)
	assert.Len(t, repo.createdStudents, 1)

	_, err = service.Create(context.Background(), admin, CreateUserRequest{
		Email: "a@example.com", Password: "secret-pass", Name: "A", Surname: "B", Role: models.RoleAdmin,
	}, "", "")
	require.NoError(t, err)
	// Admin accounts carry no role profile.
	assert.Len(t, repo.createdStudents, 1)
	assert.Empty(t, repo.createdProfessors)
	assert.Len(t, repo.created, 2)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := newUserRepoStub()
	repo.emails["taken@example.com"] = true
	service := newUserService(repo, nil, nil)

	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err := service.Create(context.Background(), admin, CreateUserRequest{
		Email: "Taken@example.com", Password: "secret-pass", Name: "A", Surname: "B", Role: models.RoleStudent,
	}, "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestUserServiceUpdateRoleChangeCreatesMissingProfile(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["user-1"] = &models.User{ID: "user-1", Role: models.RoleStudent, Active: true}
	professors := &userProfessorRepoStub{byUserID: map[string]*models.Professor{}}
	service := newUserService(repo, nil, professors)

	role := models.RoleProfessor
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	updated, err := service.Update(context.Background(), admin, "user-1", UpdateUserRequest{Role: &role}, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleProfessor, updated.Role)

	require.Len(t, professors.created, 1)
	assert.Equal(t, "user-1", professors.created[0].UserID)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserUpdate, repo.auditLogs[0].Action)
}

func TestUserServiceUpdateRoleChangeKeepsExistingProfile(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["user-1"] = &models.User{ID: "user-1", Role: models.RoleProfessor, Active: true}
	students := &userStudentRepoStub{byUserID: map[string]*models.Student{
		"user-1": {ID: "student-1", UserID: "user-1"},
	}}
	service := newUserService(repo, students, nil)

	role := models.RoleStudent
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err := service.Update(context.Background(), admin, "user-1", UpdateUserRequest{Role: &role}, "", "")
	require.NoError(t, err)
	assert.Empty(t, students.created)
}

func TestUserServiceUpdateSameRoleSkipsProfileCheck(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["user-1"] = &models.User{ID: "user-1", Name: "Old", Role: models.RoleStudent, Active: true}
	students := &userStudentRepoStub{byUserID: map[string]*models.Student{}}
	service := newUserService(repo, students, nil)

	name := "New"
	role := models.RoleStudent
	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	updated, err := service.Update(context.Background(), admin, "user-1", UpdateUserRequest{Name: &name, Role: &role}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.Empty(t, students.created)
}

func TestUserServiceDeactivate(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["user-1"] = &models.User{ID: "user-1", Role: models.RoleStudent, Active: true}
	service := newUserService(repo, nil, nil)

	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	err := service.Deactivate(context.Background(), admin, "admin-1", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	require.NoError(t, service.Deactivate(context.Background(), admin, "user-1", "", ""))
	assert.Equal(t, []string{"user-1"}, repo.deleted)
	// Open sessions die with the account.
	assert.Equal(t, []string{"user-1"}, repo.revoked)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDeactivate, repo.auditLogs[0].Action)
}

func TestUserServiceMeAttachesRoleProfile(t *testing.T) {
	repo := newUserRepoStub()
	repo.users["user-1"] = &models.User{ID: "user-1", Role: models.RoleStudent, Active: true}
	repo.users["user-2"] = &models.User{ID: "user-2", Role: models.RoleProfessor, Active: true}
	students := &userStudentRepoStub{byUserID: map[string]*models.Student{
		"user-1": {ID: "student-1", UserID: "user-1"},
	}}
	professors := &userProfessorRepoStub{byUserID: map[string]*models.Professor{}}
	service := newUserService(repo, students, professors)

	profile, err := service.Me(context.Background(), models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})
	require.NoError(t, err)
	require.NotNil(t, profile.Student)
	assert.Equal(t, "student-1", profile.Student.ID)
	assert.Nil(t, profile.Professor)

	// A missing profile row is tolerated rather than failing the read.
	profile, err = service.Me(context.Background(), models.JWTClaims{UserID: "user-2", Role: models.RoleProfessor})
	require.NoError(t, err)
	assert.Nil(t, profile.Professor)
}

func TestUserServiceListPaginationDefaults(t *testing.T) {
	repo := newUserRepoStub()
	repo.listUsers = []models.User{{ID: "user-1"}, {ID: "user-2"}}
	repo.listTotal = 41
	service := newUserService(repo, nil, nil)

	users, pagination, err := service.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 41, pagination.TotalCount)
}
