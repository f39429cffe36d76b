package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/dto"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type attemptRepository interface {
	StartAttempt(ctx context.Context, params repository.StartAttemptParams) (*repository.StartAttemptResult, error)
	FindByID(ctx context.Context, id string) (*models.AssessmentAttempt, error)
	FindWithAnswers(ctx context.Context, id string) (*models.AssessmentAttempt, error)
	SaveAnswers(ctx context.Context, attemptID string, answers []models.AttemptAnswer) error
	SubmitAttempt(ctx context.Context, params repository.SubmitParams) (*repository.SubmitResult, error)
	List(ctx context.Context, filter models.AttemptFilter) ([]models.AssessmentAttempt, int, error)
	ListResults(ctx context.Context, assessmentID string) ([]models.AttemptResultRow, error)
	Aggregate(ctx context.Context, assessmentID string) (*repository.AggregateStats, error)
	QuestionStats(ctx context.Context, assessmentID string) ([]repository.QuestionStatsRow, error)
	ListPendingForStudent(ctx context.Context, studentID string, now time.Time) ([]dto.PendingAssessment, error)
}

type attemptAssessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
	FindWithQuestions(ctx context.Context, id string) (*models.Assessment, error)
	ListQuestions(ctx context.Context, assessmentID string) ([]models.Question, error)
	FindQuestion(ctx context.Context, id string) (*models.Question, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AttemptService runs the assessment attempt lifecycle: start, answer,
// submit, and the professor-facing read side.
type AttemptService struct {
	repo        attemptRepository
	assessments attemptAssessmentRepository
	students    studentResolver
	courses     courseFinder
	professors  professorFinder
	cache       statsCache
	statsTTL    time.Duration
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttemptService constructs an AttemptService. The cache may be nil,
// which disables statistics caching.
func NewAttemptService(
	repo attemptRepository,
	assessments attemptAssessmentRepository,
	students studentResolver,
	courses courseFinder,
	professors professorFinder,
	cache statsCache,
	statsTTL time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttemptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if statsTTL <= 0 {
		statsTTL = 5 * time.Minute
	}
	return &AttemptService{
		repo:        repo,
		assessments: assessments,
		students:    students,
		courses:     courses,
		professors:  professors,
		cache:       cache,
		statsTTL:    statsTTL,
		validator:   validate,
		logger:      logger,
	}
}

// Start opens a new attempt for the acting student, or resumes an
// in-progress one without consuming a slot. The response carries the
// questions with grading fields stripped and any answers already saved.
func (s *AttemptService) Start(ctx context.Context, actor models.JWTClaims, assessmentID string) (*dto.StartAttemptResponse, error) {
	student, err := resolveOwnStudent(ctx, s.students, actor.UserID)
	if err != nil {
		return nil, err
	}

	assessment, err := s.assessments.FindWithQuestions(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}

	if !assessment.Active || !assessment.AvailableAt(time.Now().UTC()) {
		return nil, appErrors.ErrAssessmentClosed
	}

	result, err := s.repo.StartAttempt(ctx, repository.StartAttemptParams{
		AssessmentID: assessment.ID,
		StudentID:    student.ID,
		CourseID:     assessment.CourseID,
		MaxAttempts:  assessment.MaxAttempts,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotEnrolledInCourse):
			return nil, appErrors.ErrNotEnrolled
		case errors.Is(err, repository.ErrMaxAttemptsReached):
			return nil, appErrors.ErrMaxAttemptsReached
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start attempt")
		}
	}

	saved := make([]dto.SavedAnswer, 0, len(result.Attempt.Answers))
	for _, a := range result.Attempt.Answers {
		saved = append(saved, dto.SavedAnswer{QuestionID: a.QuestionID, Answer: a.Answer})
	}
	// Correctness never travels while the attempt is open; the raw answer
	// rows stay behind.
	result.Attempt.Answers = nil

	return &dto.StartAttemptResponse{
		Attempt:      result.Attempt,
		Questions:    dto.NewStudentQuestions(assessment.Questions),
		SavedAnswers: saved,
		Resumed:      result.Resumed,
	}, nil
}

// SubmitAnswer grades and upserts a single answer of an open attempt.
// Re-answering a question overwrites the earlier answer.
func (s *AttemptService) SubmitAnswer(ctx context.Context, actor models.JWTClaims, attemptID string, req models.SubmitAnswerRequest) (*dto.SavedAnswer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answer payload")
	}

	attempt, err := s.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}

	question, err := s.assessments.FindQuestion(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
	}
	if question.AssessmentID != attempt.AssessmentID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "question does not belong to the attempted assessment")
	}

	correct := gradeAnswer(*question, req.Answer)
	answer := models.AttemptAnswer{QuestionID: question.ID, Answer: req.Answer, IsCorrect: &correct}

	if err := s.repo.SaveAnswers(ctx, attemptID, []models.AttemptAnswer{answer}); err != nil {
		return nil, mapAttemptWriteError(err)
	}
	return &dto.SavedAnswer{QuestionID: question.ID, Answer: req.Answer}, nil
}

// SaveAnswers grades and upserts a batch of answers in one call, the
// auto-save path. Preconditions match SubmitAnswer.
func (s *AttemptService) SaveAnswers(ctx context.Context, actor models.JWTClaims, attemptID string, req models.SubmitAttemptRequest) ([]dto.SavedAnswer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answers payload")
	}

	attempt, err := s.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}

	answers, err := s.gradeBatch(ctx, attempt.AssessmentID, req.Answers)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveAnswers(ctx, attemptID, answers); err != nil {
		return nil, mapAttemptWriteError(err)
	}

	saved := make([]dto.SavedAnswer, 0, len(answers))
	for _, a := range answers {
		saved = append(saved, dto.SavedAnswer{QuestionID: a.QuestionID, Answer: a.Answer})
	}
	return saved, nil
}

// Submit finalizes an attempt: the provided answers are applied on top of
// whatever was auto-saved, then the whole attempt is scored. Submitting a
// closed attempt fails; there is no silent re-submit.
func (s *AttemptService) Submit(ctx context.Context, actor models.JWTClaims, attemptID string, req models.SubmitAttemptRequest) (*dto.AttemptResultResponse, error) {
	attempt, err := s.ownAttempt(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}

	assessment, err := s.assessments.FindWithQuestions(ctx, attempt.AssessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}

	answers, err := s.gradeBatch(ctx, attempt.AssessmentID, req.Answers)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.SubmitAttempt(ctx, repository.SubmitParams{
		AttemptID:      attemptID,
		Answers:        answers,
		TotalQuestions: len(assessment.Questions),
		PassingScore:   assessment.PassingScore,
	})
	if err != nil {
		return nil, mapAttemptWriteError(err)
	}

	s.invalidateStats(ctx, assessment.ID)

	resp := &dto.AttemptResultResponse{
		AttemptID:     result.Attempt.ID,
		AssessmentID:  assessment.ID,
		AttemptNumber: result.Attempt.AttemptNumber,
		CorrectCount:  result.CorrectCount,
		TotalCount:    len(assessment.Questions),
		SubmittedAt:   result.Attempt.SubmittedAt,
	}
	if result.Attempt.Score != nil {
		resp.Score = *result.Attempt.Score
	}
	if result.Attempt.Passed != nil {
		resp.Passed = *result.Attempt.Passed
	}
	return resp, nil
}

// Get returns an attempt with its answers. Students see their own attempts
// only; correctness flags are withheld while the attempt is still open.
func (s *AttemptService) Get(ctx context.Context, actor models.JWTClaims, attemptID string) (*models.AssessmentAttempt, error) {
	attempt, err := s.repo.FindWithAnswers(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attempt not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		student, err := resolveOwnStudent(ctx, s.students, actor.UserID)
		if err != nil || student.ID != attempt.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "attempt belongs to another student")
		}
		if attempt.Status == models.AttemptStatusInProgress {
			for i := range attempt.Answers {
				attempt.Answers[i].IsCorrect = nil
			}
		}
	case models.RoleProfessor:
		assessment, err := s.assessments.FindByID(ctx, attempt.AssessmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
		}
		if err := courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, assessment.CourseID); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.ErrForbidden
	}

	return attempt, nil
}

// ListResults returns every attempt of an assessment with student identity,
// for the owning professor or an admin.
func (s *AttemptService) ListResults(ctx context.Context, actor models.JWTClaims, assessmentID string) ([]models.AttemptResultRow, error) {
	if _, err := s.requireAssessmentAccess(ctx, actor, assessmentID); err != nil {
		return nil, err
	}

	rows, err := s.repo.ListResults(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempt results")
	}
	return rows, nil
}

// Statistics aggregates attempt and per-question outcomes for an
// assessment. Results are cached; submissions invalidate the cache.
func (s *AttemptService) Statistics(ctx context.Context, actor models.JWTClaims, assessmentID string) (*dto.AssessmentStatistics, error) {
	if _, err := s.requireAssessmentAccess(ctx, actor, assessmentID); err != nil {
		return nil, err
	}

	cacheKey := statsCacheKey(assessmentID)
	if s.cache != nil {
		var cached dto.AssessmentStatistics
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("statistics cache read failed", zap.Error(err))
		}
	}

	agg, err := s.repo.Aggregate(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attempts")
	}
	questionRows, err := s.repo.QuestionStats(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate question stats")
	}

	stats := &dto.AssessmentStatistics{
		AssessmentID:       assessmentID,
		TotalAttempts:      agg.Total,
		SubmittedAttempts:  agg.Submitted,
		InProgressAttempts: agg.InProgress,
		DistinctStudents:   agg.DistinctStudents,
		AverageScore:       roundScorePtr(agg.AverageScore),
		HighestScore:       agg.HighestScore,
		LowestScore:        agg.LowestScore,
		PassRate:           roundScorePtr(agg.PassRate),
		Questions:          make([]dto.QuestionStatistics, 0, len(questionRows)),
	}
	for _, row := range questionRows {
		q := dto.QuestionStatistics{
			QuestionID: row.QuestionID,
			Text:       row.Text,
			Answered:   row.Answered,
			Correct:    row.Correct,
		}
		if row.Answered > 0 {
			q.CorrectRate = math.Round(float64(row.Correct)/float64(row.Answered)*10000) / 100
		}
		stats.Questions = append(stats.Questions, q)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.statsTTL); err != nil {
			s.logger.Warn("statistics cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// Pending returns the assessments the acting student can still take.
func (s *AttemptService) Pending(ctx context.Context, actor models.JWTClaims) ([]dto.PendingAssessment, error) {
	student, err := resolveOwnStudent(ctx, s.students, actor.UserID)
	if err != nil {
		return nil, err
	}

	pending, err := s.repo.ListPendingForStudent(ctx, student.ID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending assessments")
	}
	if pending == nil {
		pending = []dto.PendingAssessment{}
	}
	return pending, nil
}

// invalidateStats drops cached statistics after a submission. Failures are
// logged and swallowed; the TTL bounds the staleness either way.
func (s *AttemptService) invalidateStats(ctx context.Context, assessmentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statsCacheKey(assessmentID)); err != nil {
		s.logger.Warn("statistics cache invalidation failed",
			zap.String("assessment_id", assessmentID), zap.Error(err))
	}
}

// ownAttempt loads an attempt and verifies the acting student owns it.
func (s *AttemptService) ownAttempt(ctx context.Context, actor models.JWTClaims, attemptID string) (*models.AssessmentAttempt, error) {
	attempt, err := s.repo.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attempt not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}

	student, err := resolveOwnStudent(ctx, s.students, actor.UserID)
	if err != nil {
		return nil, err
	}
	if student.ID != attempt.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attempt belongs to another student")
	}
	return attempt, nil
}

// requireAssessmentAccess loads the assessment and enforces professor
// ownership; admins pass through.
func (s *AttemptService) requireAssessmentAccess(ctx context.Context, actor models.JWTClaims, assessmentID string) (*models.Assessment, error) {
	assessment, err := s.assessments.FindByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}

	switch actor.Role {
	case models.RoleAdmin:
		return assessment, nil
	case models.RoleProfessor:
		if err := courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, assessment.CourseID); err != nil {
			return nil, err
		}
		return assessment, nil
	default:
		return nil, appErrors.ErrForbidden
	}
}

// gradeBatch grades submitted answers against the assessment's questions.
// Unknown question identifiers reject the whole batch.
func (s *AttemptService) gradeBatch(ctx context.Context, assessmentID string, submitted []models.SubmitAnswerRequest) ([]models.AttemptAnswer, error) {
	if len(submitted) == 0 {
		return nil, nil
	}

	questions, err := s.assessments.ListQuestions(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questions")
	}
	byID := make(map[string]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answers := make([]models.AttemptAnswer, 0, len(submitted))
	for _, sub := range submitted {
		question, ok := byID[sub.QuestionID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("question %s does not belong to the attempted assessment", sub.QuestionID))
		}
		correct := gradeAnswer(question, sub.Answer)
		answers = append(answers, models.AttemptAnswer{
			QuestionID: question.ID,
			Answer:     sub.Answer,
			IsCorrect:  &correct,
		})
	}
	return answers, nil
}

// gradeAnswer compares a submitted answer against the stored correct one.
// NUMERIC questions compare parsed values so "1.0" matches "1"; everything
// else, including numeric text that fails to parse, falls back to trimmed
// case-insensitive string equality.
func gradeAnswer(question models.Question, answer string) bool {
	given := strings.TrimSpace(answer)
	want := strings.TrimSpace(question.CorrectAnswer)

	if question.Type == models.QuestionTypeNumeric {
		givenNum, errGiven := strconv.ParseFloat(given, 64)
		wantNum, errWant := strconv.ParseFloat(want, 64)
		if errGiven == nil && errWant == nil {
			return givenNum == wantNum
		}
	}
	return strings.EqualFold(given, want)
}

func mapAttemptWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrAttemptNotInProgress):
		return appErrors.ErrAttemptNotInProgress
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "attempt not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store answers")
	}
}

func statsCacheKey(assessmentID string) string {
	return "stats:assessment:" + assessmentID
}

func roundScorePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded := math.Round(*v*100) / 100
	return &rounded
}
