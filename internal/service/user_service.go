package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	CreateWithStudentProfile(ctx context.Context, user *models.User, student *models.Student) error
	CreateWithProfessorProfile(ctx context.Context, user *models.User, professor *models.Professor) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userStudentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
}

type userProfessorRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Professor, error)
	Create(ctx context.Context, professor *models.Professor) error
}

// CreateUserRequest is the admin payload for creating an account of any
// role. Student and professor accounts get their profile in the same
// transaction; institution and title only apply to those roles.
type CreateUserRequest struct {
	Email         string          `json:"email" validate:"required,email"`
	Password      string          `json:"password" validate:"required,min=6"`
	Name          string          `json:"name" validate:"required"`
	Surname       string          `json:"surname" validate:"required"`
	Role          models.UserRole `json:"role" validate:"required,oneof=ADMIN PROFESSOR STUDENT"`
	InstitutionID *string         `json:"institution_id,omitempty" validate:"omitempty,uuid"`
	Title         *string         `json:"title,omitempty"`
}

// UpdateUserRequest partially updates a user's identity fields.
type UpdateUserRequest struct {
	Name    *string          `json:"name,omitempty"`
	Surname *string          `json:"surname,omitempty"`
	Role    *models.UserRole `json:"role,omitempty" validate:"omitempty,oneof=ADMIN PROFESSOR STUDENT"`
	Active  *bool            `json:"active,omitempty"`
}

// ProfileResponse bundles a user with their role profile for profile
// reads. At most one of Student and Professor is set.
type ProfileResponse struct {
	User      *models.User      `json:"user"`
	Student   *models.Student   `json:"student,omitempty"`
	Professor *models.Professor `json:"professor,omitempty"`
}

// UserService handles admin user management and profile reads.
type UserService struct {
	repo       userRepository
	students   userStudentRepository
	professors userProfessorRepository
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userRepository, students userStudentRepository, professors userProfessorRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:       repo,
		students:   students,
		professors: professors,
		validator:  validate,
		logger:     logger,
	}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}
	return users, pagination, nil
}

// Get returns a user by ID.
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

// Me returns the actor's own user record with the attached student or
// professor profile.
func (s *UserService) Me(ctx context.Context, actor models.JWTClaims) (*ProfileResponse, error) {
	user, err := s.Get(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	resp := &ProfileResponse{User: user}
	switch user.Role {
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, user.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		resp.Student = student
	case models.RoleProfessor:
		professor, err := s.professors.FindByUserID(ctx, user.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load professor profile")
		}
		resp.Professor = professor
	}
	return resp, nil
}

// Create adds a user account of any role. Registration only produces
// students; this is how professor and admin accounts come to exist.
func (s *UserService) Create(ctx context.Context, actor models.JWTClaims, req CreateUserRequest, ip, userAgent string) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(passwordHash),
		Name:         req.Name,
		Surname:      req.Surname,
		Role:         req.Role,
		Active:       true,
	}

	switch req.Role {
	case models.RoleStudent:
		err = s.repo.CreateWithStudentProfile(ctx, user, &models.Student{InstitutionID: req.InstitutionID})
	case models.RoleProfessor:
		err = s.repo.CreateWithProfessorProfile(ctx, user, &models.Professor{InstitutionID: req.InstitutionID, Title: req.Title})
	default:
		err = s.repo.Create(ctx, user)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.Role})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record user create audit log", zap.Error(err))
	}

	return user, nil
}

// Update applies partial changes to a user. A role change to STUDENT or
// PROFESSOR creates the missing role profile so course and enrollment
// operations keep working for the promoted account.
func (s *UserService) Update(ctx context.Context, actor models.JWTClaims, id string, req UpdateUserRequest, ip, userAgent string) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Surname != nil {
		user.Surname = *req.Surname
	}
	roleChanged := false
	if req.Role != nil && *req.Role != user.Role {
		user.Role = *req.Role
		roleChanged = true
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if roleChanged {
		if err := s.ensureRoleProfile(ctx, user); err != nil {
			return nil, err
		}
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "active": user.Active})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record user update audit log", zap.Error(err))
	}

	return user, nil
}

// Deactivate soft-deletes a user and revokes their refresh tokens so open
// sessions die with the account. Admins cannot deactivate themselves.
func (s *UserService) Deactivate(ctx context.Context, actor models.JWTClaims, id, ip, userAgent string) error {
	if actor.UserID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke tokens of deactivated user",
			zap.String("user_id", id),
			zap.Error(err))
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"active": false})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionUserDeactivate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record user deactivate audit log", zap.Error(err))
	}

	return nil
}

// ensureRoleProfile creates the student or professor profile a role
// change requires when it does not exist yet. Profiles for the previous
// role are kept; enrollments and owned courses stay attached to them.
func (s *UserService) ensureRoleProfile(ctx context.Context, user *models.User) error {
	switch user.Role {
	case models.RoleStudent:
		_, err := s.students.FindByUserID(ctx, user.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		if err := s.students.Create(ctx, &models.Student{UserID: user.ID}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student profile")
		}
	case models.RoleProfessor:
		_, err := s.professors.FindByUserID(ctx, user.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load professor profile")
		}
		if err := s.professors.Create(ctx, &models.Professor{UserID: user.ID}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create professor profile")
		}
	}
	return nil
}
