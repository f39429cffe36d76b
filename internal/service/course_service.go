package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	ListUnits(ctx context.Context, courseID string) ([]models.CourseUnit, error)
	FindUnit(ctx context.Context, courseID string, number int) (*models.CourseUnit, error)
	UpsertUnit(ctx context.Context, unit *models.CourseUnit) error
	DeleteUnit(ctx context.Context, courseID string, number int) error
}

type courseProfessorRepository interface {
	FindByID(ctx context.Context, id string) (*models.Professor, error)
	FindByUserID(ctx context.Context, userID string) (*models.Professor, error)
}

// CourseService manages courses and their content units.
type CourseService struct {
	repo       courseRepository
	professors courseProfessorRepository
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, professors courseProfessorRepository, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, professors: professors, validator: validate, logger: logger}
}

// Get returns a course with owner and enrollment context.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return detail, nil
}

// List returns courses matching the filter. Students and anonymous reads
// only see active courses; the owning professor and admins also see
// deactivated ones when the filter asks.
func (s *CourseService) List(ctx context.Context, actor models.JWTClaims, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleProfessor {
		active := true
		filter.Active = &active
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, total, nil
}

// Create registers a course owned by the acting professor.
func (s *CourseService) Create(ctx context.Context, actor models.JWTClaims, req models.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	professor, err := s.professors.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "professor profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load professor profile")
	}

	now := time.Now().UTC()
	course := &models.Course{
		ID:          uuid.NewString(),
		ProfessorID: professor.ID,
		Title:       req.Title,
		Description: req.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update changes course fields, owner or admin only.
func (s *CourseService) Update(ctx context.Context, actor models.JWTClaims, id string, req models.UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.ownedCourse(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Active != nil {
		course.Active = *req.Active
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete deactivates a course. Existing enrollments and attempts remain.
func (s *CourseService) Delete(ctx context.Context, actor models.JWTClaims, id string) error {
	if _, err := s.ownedCourse(ctx, actor, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// ListUnits returns the ordered units of a course.
func (s *CourseService) ListUnits(ctx context.Context, courseID string) ([]models.CourseUnit, error) {
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	units, err := s.repo.ListUnits(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list units")
	}
	return units, nil
}

// UpsertUnit creates or replaces a numbered unit, owner or admin only.
func (s *CourseService) UpsertUnit(ctx context.Context, actor models.JWTClaims, courseID string, req models.UpsertCourseUnitRequest) (*models.CourseUnit, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unit payload")
	}

	if _, err := s.ownedCourse(ctx, actor, courseID); err != nil {
		return nil, err
	}

	unit := &models.CourseUnit{
		CourseID: courseID,
		Number:   req.Number,
		Title:    req.Title,
		Content:  req.Content,
	}
	if err := s.repo.UpsertUnit(ctx, unit); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save unit")
	}
	return unit, nil
}

// DeleteUnit removes a unit and its completion marks across enrollments,
// owner or admin only. Progress values recorded on enrollments are not
// recomputed here; the next unit mutation on each enrollment trues them up.
func (s *CourseService) DeleteUnit(ctx context.Context, actor models.JWTClaims, courseID string, number int) error {
	if _, err := s.ownedCourse(ctx, actor, courseID); err != nil {
		return err
	}

	if _, err := s.repo.FindUnit(ctx, courseID, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "unit not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load unit")
	}

	if err := s.repo.DeleteUnit(ctx, courseID, number); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete unit")
	}
	return nil
}

// ownedCourse loads a course and verifies the actor owns it or is admin.
func (s *CourseService) ownedCourse(ctx context.Context, actor models.JWTClaims, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if actor.Role == models.RoleAdmin {
		return course, nil
	}

	owner, err := s.professors.FindByID(ctx, course.ProfessorID)
	if err != nil || owner.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another professor")
	}
	return course, nil
}
