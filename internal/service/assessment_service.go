package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type assessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
	FindWithQuestions(ctx context.Context, id string) (*models.Assessment, error)
	List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	ListQuestions(ctx context.Context, assessmentID string) ([]models.Question, error)
	CountQuestions(ctx context.Context, assessmentID string) (int, error)
	FindQuestion(ctx context.Context, id string) (*models.Question, error)
	CreateQuestion(ctx context.Context, question *models.Question) error
	UpdateQuestion(ctx context.Context, question *models.Question) error
	DeleteQuestion(ctx context.Context, id string) error
}

type assessmentCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type assessmentProfessorRepository interface {
	FindByID(ctx context.Context, id string) (*models.Professor, error)
}

// assessmentNotifier queues publication mail for a course's enrolled
// students. Implemented by the notification service; nil disables mail.
type assessmentNotifier interface {
	QueueAssessmentPublished(assessmentID, courseID string) error
}

// AssessmentService manages assessments and their questions. Assessments
// are created unpublished; Publish flips the active flag and fans out a
// notification to enrolled students.
type AssessmentService struct {
	repo       assessmentRepository
	courses    assessmentCourseRepository
	professors assessmentProfessorRepository
	notifier   assessmentNotifier
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAssessmentService constructs an AssessmentService. notifier may be
// nil, in which case publishing skips the mail fan-out.
func NewAssessmentService(
	repo assessmentRepository,
	courses assessmentCourseRepository,
	professors assessmentProfessorRepository,
	notifier assessmentNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssessmentService{
		repo:       repo,
		courses:    courses,
		professors: professors,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
	}
}

// Get returns an assessment with its questions. Admins and the owning
// professor see it regardless of state; everyone else only sees published
// assessments. Correct answers are stripped by the handler's student view.
func (s *AssessmentService) Get(ctx context.Context, actor models.JWTClaims, id string) (*models.Assessment, error) {
	assessment, err := s.repo.FindWithQuestions(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if err := s.requireVisible(ctx, actor, assessment); err != nil {
		return nil, err
	}
	return assessment, nil
}

// List returns assessments matching the filter. Unpublished assessments
// are only listed for admins and for the owning professor of the filtered
// course.
func (s *AssessmentService) List(ctx context.Context, actor models.JWTClaims, filter models.AssessmentFilter) ([]models.Assessment, int, error) {
	if !s.canSeeUnpublished(ctx, actor, filter.CourseID) {
		active := true
		filter.Active = &active
	}

	assessments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	return assessments, total, nil
}

// Create adds an unpublished assessment to a course the actor owns.
func (s *AssessmentService) Create(ctx context.Context, actor models.JWTClaims, req models.CreateAssessmentRequest) (*models.Assessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	if err := validateWindow(req.AvailableFrom, req.AvailableUntil); err != nil {
		return nil, err
	}
	if err := s.requireCourseAccess(ctx, actor, req.CourseID); err != nil {
		return nil, err
	}

	assessment := &models.Assessment{
		ID:             uuid.NewString(),
		CourseID:       req.CourseID,
		Title:          req.Title,
		Description:    req.Description,
		PassingScore:   req.PassingScore,
		MaxAttempts:    req.MaxAttempts,
		AvailableFrom:  req.AvailableFrom,
		AvailableUntil: req.AvailableUntil,
		Active:         false,
	}
	if err := s.repo.Create(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assessment")
	}

	s.logger.Info("assessment created",
		zap.String("assessment_id", assessment.ID),
		zap.String("course_id", assessment.CourseID),
		zap.String("actor_id", actor.UserID))
	return assessment, nil
}

// Update applies partial changes to an assessment the actor owns. Setting
// active through here behaves like Publish/unpublish, including the
// notification fan-out on the unpublished-to-published transition.
func (s *AssessmentService) Update(ctx context.Context, actor models.JWTClaims, id string, req models.UpdateAssessmentRequest) (*models.Assessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}

	assessment, err := s.ownedAssessment(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	wasActive := assessment.Active
	if req.Title != nil {
		assessment.Title = *req.Title
	}
	if req.Description != nil {
		assessment.Description = *req.Description
	}
	if req.PassingScore != nil {
		assessment.PassingScore = *req.PassingScore
	}
	if req.MaxAttempts != nil {
		assessment.MaxAttempts = req.MaxAttempts
	}
	if req.AvailableFrom != nil {
		assessment.AvailableFrom = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		assessment.AvailableUntil = req.AvailableUntil
	}
	if req.Active != nil {
		assessment.Active = *req.Active
	}
	if err := validateWindow(assessment.AvailableFrom, assessment.AvailableUntil); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment")
	}

	if !wasActive && assessment.Active {
		s.notifyPublished(assessment)
	}
	return assessment, nil
}

// Publish flips an assessment to active and queues publication mail for
// the course's enrolled students. Publishing an already-active assessment
// returns it unchanged without re-notifying. An assessment without
// questions cannot be published.
func (s *AssessmentService) Publish(ctx context.Context, actor models.JWTClaims, id string) (*models.Assessment, error) {
	assessment, err := s.ownedAssessment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if assessment.Active {
		return assessment, nil
	}

	count, err := s.repo.CountQuestions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count questions")
	}
	if count == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assessment has no questions to publish")
	}

	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish assessment")
	}
	assessment.Active = true

	s.logger.Info("assessment published",
		zap.String("assessment_id", assessment.ID),
		zap.String("course_id", assessment.CourseID),
		zap.String("actor_id", actor.UserID))
	s.notifyPublished(assessment)
	return assessment, nil
}

// Delete removes an assessment with its questions, attempts and answers.
func (s *AssessmentService) Delete(ctx context.Context, actor models.JWTClaims, id string) error {
	if _, err := s.ownedAssessment(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assessment")
	}
	s.logger.Info("assessment deleted",
		zap.String("assessment_id", id),
		zap.String("actor_id", actor.UserID))
	return nil
}

// ListQuestions returns an assessment's questions in display order,
// subject to the same visibility rule as Get.
func (s *AssessmentService) ListQuestions(ctx context.Context, actor models.JWTClaims, assessmentID string) ([]models.Question, error) {
	assessment, err := s.repo.FindByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if err := s.requireVisible(ctx, actor, assessment); err != nil {
		return nil, err
	}

	questions, err := s.repo.ListQuestions(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list questions")
	}
	return questions, nil
}

// CreateQuestion adds a question to an assessment the actor owns. An
// omitted position appends the question after the current last one.
func (s *AssessmentService) CreateQuestion(ctx context.Context, actor models.JWTClaims, assessmentID string, req models.CreateQuestionRequest) (*models.Question, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid question payload")
	}
	if _, err := s.ownedAssessment(ctx, actor, assessmentID); err != nil {
		return nil, err
	}

	question := &models.Question{
		ID:            uuid.NewString(),
		AssessmentID:  assessmentID,
		Type:          req.Type,
		Text:          req.Text,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
		Position:      req.Position,
	}
	if question.Points == 0 {
		question.Points = 1
	}
	if question.Position == 0 {
		count, err := s.repo.CountQuestions(ctx, assessmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count questions")
		}
		question.Position = count + 1
	}
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	if err := s.repo.CreateQuestion(ctx, question); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create question")
	}
	return question, nil
}

// UpdateQuestion applies partial changes to a question of an assessment
// the actor owns. The resulting question is re-checked against its type's
// shape rules, so a type change also revalidates options and the answer.
func (s *AssessmentService) UpdateQuestion(ctx context.Context, actor models.JWTClaims, assessmentID, questionID string, req models.UpdateQuestionRequest) (*models.Question, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid question payload")
	}
	if _, err := s.ownedAssessment(ctx, actor, assessmentID); err != nil {
		return nil, err
	}

	question, err := s.assessmentQuestion(ctx, assessmentID, questionID)
	if err != nil {
		return nil, err
	}

	if req.Type != nil {
		question.Type = *req.Type
	}
	if req.Text != nil {
		question.Text = *req.Text
	}
	if req.Options != nil {
		question.Options = req.Options
	}
	if req.CorrectAnswer != nil {
		question.CorrectAnswer = *req.CorrectAnswer
	}
	if req.Points != nil {
		question.Points = *req.Points
	}
	if req.Position != nil {
		question.Position = *req.Position
	}
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateQuestion(ctx, question); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update question")
	}
	return question, nil
}

// DeleteQuestion removes a question, including answers already recorded
// against it on past attempts.
func (s *AssessmentService) DeleteQuestion(ctx context.Context, actor models.JWTClaims, assessmentID, questionID string) error {
	if _, err := s.ownedAssessment(ctx, actor, assessmentID); err != nil {
		return err
	}
	if _, err := s.assessmentQuestion(ctx, assessmentID, questionID); err != nil {
		return err
	}
	if err := s.repo.DeleteQuestion(ctx, questionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete question")
	}
	return nil
}

// ownedAssessment loads an assessment and verifies the actor owns its
// course or is admin.
func (s *AssessmentService) ownedAssessment(ctx context.Context, actor models.JWTClaims, id string) (*models.Assessment, error) {
	assessment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if actor.Role == models.RoleAdmin {
		return assessment, nil
	}
	if err := courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, assessment.CourseID); err != nil {
		return nil, err
	}
	return assessment, nil
}

// requireVisible hides unpublished assessments from everyone but admins
// and the owning professor. Not-found is returned instead of forbidden so
// existence does not leak.
func (s *AssessmentService) requireVisible(ctx context.Context, actor models.JWTClaims, assessment *models.Assessment) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleProfessor {
		if err := courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, assessment.CourseID); err == nil {
			return nil
		}
	}
	if !assessment.Active {
		return appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	return nil
}

// canSeeUnpublished reports whether the actor may list unpublished
// assessments of the given course.
func (s *AssessmentService) canSeeUnpublished(ctx context.Context, actor models.JWTClaims, courseID string) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleProfessor:
		if courseID == "" {
			return false
		}
		return courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, courseID) == nil
	default:
		return false
	}
}

// requireCourseAccess verifies the course exists and, for professors,
// that the actor owns it.
func (s *AssessmentService) requireCourseAccess(ctx context.Context, actor models.JWTClaims, courseID string) error {
	if actor.Role == models.RoleAdmin {
		if _, err := s.courses.FindByID(ctx, courseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		return nil
	}
	return courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, courseID)
}

// assessmentQuestion loads a question and verifies it belongs to the
// given assessment.
func (s *AssessmentService) assessmentQuestion(ctx context.Context, assessmentID, questionID string) (*models.Question, error) {
	question, err := s.repo.FindQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
	}
	if question.AssessmentID != assessmentID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
	}
	return question, nil
}

func (s *AssessmentService) notifyPublished(assessment *models.Assessment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.QueueAssessmentPublished(assessment.ID, assessment.CourseID); err != nil {
		s.logger.Warn("failed to queue publication mail",
			zap.String("assessment_id", assessment.ID),
			zap.Error(err))
	}
}

// validateWindow rejects an availability window that closes before it
// opens.
func validateWindow(from, until *time.Time) error {
	if from != nil && until != nil && !until.After(*from) {
		return appErrors.Clone(appErrors.ErrValidation, "available_until must be after available_from")
	}
	return nil
}

// validateQuestion enforces per-type shape rules: multiple choice needs
// at least two options with the correct answer among them, true/false
// needs a boolean answer, numeric needs a parseable number. Options on
// the other types are dropped.
func validateQuestion(q *models.Question) error {
	switch q.Type {
	case models.QuestionTypeMultipleChoice:
		if len(q.Options) < 2 {
			return appErrors.Clone(appErrors.ErrValidation, "multiple choice questions need at least two options")
		}
		found := false
		for _, option := range q.Options {
			if strings.EqualFold(strings.TrimSpace(option), strings.TrimSpace(q.CorrectAnswer)) {
				found = true
				break
			}
		}
		if !found {
			return appErrors.Clone(appErrors.ErrValidation, "correct answer must be one of the options")
		}
	case models.QuestionTypeTrueFalse:
		answer := strings.ToLower(strings.TrimSpace(q.CorrectAnswer))
		if answer != "true" && answer != "false" {
			return appErrors.Clone(appErrors.ErrValidation, "true/false questions take true or false as the answer")
		}
		q.Options = nil
	case models.QuestionTypeNumeric:
		if _, err := strconv.ParseFloat(strings.TrimSpace(q.CorrectAnswer), 64); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("numeric answer %q does not parse as a number", q.CorrectAnswer))
		}
		q.Options = nil
	default:
		q.Options = nil
	}
	return nil
}
