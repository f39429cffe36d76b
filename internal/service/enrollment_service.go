package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	SetUnitCompletion(ctx context.Context, enrollmentID string, unitNumber int, completed bool) (*repository.UnitMutationResult, error)
	UpdateEnrollment(ctx context.Context, id string, params repository.UpdateEnrollmentParams) (*models.Enrollment, error)
	Delete(ctx context.Context, id string) error
}

type enrollmentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type enrollmentCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentProfessorRepository interface {
	FindByID(ctx context.Context, id string) (*models.Professor, error)
}

// enrollmentNotifier queues best-effort mail; enqueue failures never block
// the enrollment itself.
type enrollmentNotifier interface {
	QueueEnrollmentConfirmation(studentID, courseID string) error
}

// EnrollmentService manages course membership and unit progress.
type EnrollmentService struct {
	repo       enrollmentRepository
	students   enrollmentStudentRepository
	courses    enrollmentCourseRepository
	professors enrollmentProfessorRepository
	notifier   enrollmentNotifier
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService. The notifier may be
// nil, which disables confirmation mail.
func NewEnrollmentService(
	repo enrollmentRepository,
	students enrollmentStudentRepository,
	courses enrollmentCourseRepository,
	professors enrollmentProfessorRepository,
	notifier enrollmentNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{
		repo:       repo,
		students:   students,
		courses:    courses,
		professors: professors,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
	}
}

// Enroll creates an enrollment for a student in a course. Calling it again
// for the same pair returns the existing row untouched; created reports
// whether a new enrollment was made.
func (s *EnrollmentService) Enroll(ctx context.Context, actor models.JWTClaims, req models.CreateEnrollmentRequest) (enrollment *models.Enrollment, created bool, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.resolveStudent(ctx, actor, req.StudentID)
	if err != nil {
		return nil, false, err
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}

	owner, err := s.professors.FindByID(ctx, course.ProfessorID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course owner")
	}
	if owner != nil && owner.UserID == student.UserID {
		return nil, false, appErrors.ErrOwnCourse
	}

	existing, err := s.repo.FindByStudentAndCourse(ctx, student.ID, course.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	enrollment = &models.Enrollment{
		StudentID:      student.ID,
		CourseID:       course.ID,
		State:          models.EnrollmentStateEnrolled,
		Progress:       0,
		CompletedUnits: []int{},
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			// Lost the race against a concurrent enroll; serve the winner's row.
			existing, findErr := s.repo.FindByStudentAndCourse(ctx, student.ID, course.ID)
			if findErr != nil {
				return nil, false, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
			}
			return existing, false, nil
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if s.notifier != nil {
		if err := s.notifier.QueueEnrollmentConfirmation(student.ID, course.ID); err != nil {
			s.logger.Warn("failed to queue enrollment confirmation",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
	}

	return enrollment, true, nil
}

// Get returns an enrollment with course and student context. Students see
// only their own rows, professors only rows of courses they own.
func (s *EnrollmentService) Get(ctx context.Context, actor models.JWTClaims, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.authorize(ctx, actor, detail.StudentID, detail.CourseID); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns enrollments scoped to what the actor may see.
func (s *EnrollmentService) List(ctx context.Context, actor models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	switch actor.Role {
	case models.RoleStudent:
		student, err := resolveOwnStudent(ctx, s.students, actor.UserID)
		if err != nil {
			return nil, 0, err
		}
		filter.StudentID = student.ID
	case models.RoleProfessor:
		if filter.CourseID == "" {
			return nil, 0, appErrors.Clone(appErrors.ErrValidation, "course_id filter is required")
		}
		if err := s.requireCourseOwner(ctx, actor.UserID, filter.CourseID); err != nil {
			return nil, 0, err
		}
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

// CompleteUnit marks a unit as done for the enrollment and returns the
// recomputed state. Marking an already-completed unit changes nothing.
func (s *EnrollmentService) CompleteUnit(ctx context.Context, actor models.JWTClaims, enrollmentID string, unitNumber int) (*repository.UnitMutationResult, error) {
	return s.setUnit(ctx, actor, enrollmentID, unitNumber, true)
}

// UncompleteUnit removes a completion mark. Removing an absent mark changes
// nothing.
func (s *EnrollmentService) UncompleteUnit(ctx context.Context, actor models.JWTClaims, enrollmentID string, unitNumber int) (*repository.UnitMutationResult, error) {
	return s.setUnit(ctx, actor, enrollmentID, unitNumber, false)
}

func (s *EnrollmentService) setUnit(ctx context.Context, actor models.JWTClaims, enrollmentID string, unitNumber int, completed bool) (*repository.UnitMutationResult, error) {
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	// Unit progress belongs to the student; professors only read it.
	if actor.Role != models.RoleAdmin {
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil || student.ID != enrollment.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
	}

	result, err := s.repo.SetUnitCompletion(ctx, enrollmentID, unitNumber, completed)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEnrollmentDropped):
			return nil, appErrors.ErrEnrollmentDropped
		case errors.Is(err, repository.ErrUnitNotInCourse):
			return nil, appErrors.ErrUnknownUnit
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update unit completion")
		}
	}
	return result, nil
}

// Update applies manual enrollment overrides. What may change depends on the
// actor: students change state of their own rows (drop and re-enroll),
// professors grade their courses' rows, admins change anything.
func (s *EnrollmentService) Update(ctx context.Context, actor models.JWTClaims, id string, req models.UpdateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment update payload")
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	params := repository.UpdateEnrollmentParams{}
	switch actor.Role {
	case models.RoleAdmin:
		params.State = req.State
		params.Progress = req.Progress
		params.Grade = req.Grade
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil || student.ID != detail.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
		params.State = req.State
	case models.RoleProfessor:
		if err := s.requireCourseOwner(ctx, actor.UserID, detail.CourseID); err != nil {
			return nil, err
		}
		params.Grade = req.Grade
	default:
		return nil, appErrors.ErrForbidden
	}

	if params.State == nil && params.Progress == nil && params.Grade == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no updatable fields for this role")
	}

	updated, err := s.repo.UpdateEnrollment(ctx, id, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return updated, nil
}

// Remove deletes an enrollment and its completion marks outright.
func (s *EnrollmentService) Remove(ctx context.Context, actor models.JWTClaims, id string) error {
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins remove enrollments")
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	return nil
}

func (s *EnrollmentService) resolveStudent(ctx context.Context, actor models.JWTClaims, studentID string) (*models.Student, error) {
	if studentID != "" {
		if actor.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins enroll other students")
		}
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		return student, nil
	}

	return resolveOwnStudent(ctx, s.students, actor.UserID)
}

func (s *EnrollmentService) authorize(ctx context.Context, actor models.JWTClaims, studentID, courseID string) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil || student.ID != studentID {
			return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
		return nil
	case models.RoleProfessor:
		return s.requireCourseOwner(ctx, actor.UserID, courseID)
	default:
		return appErrors.ErrForbidden
	}
}

func (s *EnrollmentService) requireCourseOwner(ctx context.Context, userID, courseID string) error {
	return courseOwnedBy(ctx, s.courses, s.professors, userID, courseID)
}
