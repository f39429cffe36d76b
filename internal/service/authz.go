package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

// Minimal lookup surfaces shared by the ownership checks below.

type courseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type professorFinder interface {
	FindByID(ctx context.Context, id string) (*models.Professor, error)
}

type studentResolver interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// courseOwnedBy returns nil when the user owns the course through their
// professor profile.
func courseOwnedBy(ctx context.Context, courses courseFinder, professors professorFinder, userID, courseID string) error {
	course, err := courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	owner, err := professors.FindByID(ctx, course.ProfessorID)
	if err != nil || owner.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another professor")
	}
	return nil
}

// resolveOwnStudent maps the acting user to their student profile.
func resolveOwnStudent(ctx context.Context, students studentResolver, userID string) (*models.Student, error) {
	student, err := students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	return student, nil
}
