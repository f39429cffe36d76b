package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/dto"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type attemptRepoStub struct {
	startResult *repository.StartAttemptResult
	startErr    error
	startParams []repository.StartAttemptParams

	byID        map[string]*models.AssessmentAttempt
	withAnswers map[string]*models.AssessmentAttempt

	savedAnswers [][]models.AttemptAnswer
	saveErr      error

	submitResult *repository.SubmitResult
	submitErr    error
	submitParams []repository.SubmitParams

	resultRows []models.AttemptResultRow

	aggStats       *repository.AggregateStats
	aggregateCalls int
	questionRows   []repository.QuestionStatsRow

	pending []dto.PendingAssessment
}

func (s *attemptRepoStub) StartAttempt(ctx context.Context, params repository.StartAttemptParams) (*repository.StartAttemptResult, error) {
	s.startParams = append(s.startParams, params)
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.startResult, nil
}

func (s *attemptRepoStub) FindByID(ctx context.Context, id string) (*models.AssessmentAttempt, error) {
	if attempt, ok := s.byID[id]; ok {
		return attempt, nil
	}
	return nil, sql.ErrNoRows
}

func (s *attemptRepoStub) FindWithAnswers(ctx context.Context, id string) (*models.AssessmentAttempt, error) {
	if attempt, ok := s.withAnswers[id]; ok {
		return attempt, nil
	}
	return nil, sql.ErrNoRows
}

func (s *attemptRepoStub) SaveAnswers(ctx context.Context, attemptID string, answers []models.AttemptAnswer) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.savedAnswers = append(s.savedAnswers, answers)
	return nil
}

func (s *attemptRepoStub) SubmitAttempt(ctx context.Context, params repository.SubmitParams) (*repository.SubmitResult, error) {
	s.submitParams = append(s.submitParams, params)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.submitResult, nil
}

func (s *attemptRepoStub) List(ctx context.Context, filter models.AttemptFilter) ([]models.AssessmentAttempt, int, error) {
	return nil, 0, nil
}

func (s *attemptRepoStub) ListResults(ctx context.Context, assessmentID string) ([]models.AttemptResultRow, error) {
	return s.resultRows, nil
}

func (s *attemptRepoStub) Aggregate(ctx context.Context, assessmentID string) (*repository.AggregateStats, error) {
	s.aggregateCalls++
	return s.aggStats, nil
}

func (s *attemptRepoStub) QuestionStats(ctx context.Context, assessmentID string) ([]repository.QuestionStatsRow, error) {
	return s.questionRows, nil
}

func (s *attemptRepoStub) ListPendingForStudent(ctx context.Context, studentID string, now time.Time) ([]dto.PendingAssessment, error) {
	return s.pending, nil
}

type attemptAssessmentStub struct {
	assessments   map[string]*models.Assessment
	withQuestions map[string]*models.Assessment
	questions     []models.Question
}

func (s attemptAssessmentStub) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	if assessment, ok := s.assessments[id]; ok {
		return assessment, nil
	}
	return nil, sql.ErrNoRows
}

func (s attemptAssessmentStub) FindWithQuestions(ctx context.Context, id string) (*models.Assessment, error) {
	if assessment, ok := s.withQuestions[id]; ok {
		return assessment, nil
	}
	return nil, sql.ErrNoRows
}

func (s attemptAssessmentStub) ListQuestions(ctx context.Context, assessmentID string) ([]models.Question, error) {
	return s.questions, nil
}

func (s attemptAssessmentStub) FindQuestion(ctx context.Context, id string) (*models.Question, error) {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return &s.questions[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type statsCacheStub struct {
	entries map[string]*dto.AssessmentStatistics
	sets    []string
	deletes []string
}

func (s *statsCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	cached, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*dto.AssessmentStatistics) = *cached
	return nil
}

func (s *statsCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.sets = append(s.sets, key)
	return nil
}

func (s *statsCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	s.deletes = append(s.deletes, pattern)
	return nil
}

func newAttemptFixture() (*attemptRepoStub, attemptAssessmentStub, studentResolverStub) {
	correct3 := 3
	questions := []models.Question{
		{ID: "q1", AssessmentID: "asm-1", Type: models.QuestionTypeMultipleChoice, Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Points: 1, Position: 1},
		{ID: "q2", AssessmentID: "asm-1", Type: models.QuestionTypeTrueFalse, Text: "Go has generics", CorrectAnswer: "true", Points: 1, Position: 2},
		{ID: "q3", AssessmentID: "asm-1", Type: models.QuestionTypeNumeric, Text: "Pi to one decimal", CorrectAnswer: "3.1", Points: 1, Position: 3},
		{ID: "q4", AssessmentID: "asm-1", Type: models.QuestionTypeShortAnswer, Text: "Capital of France", CorrectAnswer: "Paris", Points: 1, Position: 4},
	}
	assessment := &models.Assessment{
		ID:           "asm-1",
		CourseID:     "course-1",
		Title:        "Midterm",
		PassingScore: 60,
		MaxAttempts:  &correct3,
		Active:       true,
		Questions:    questions,
	}
	repo := &attemptRepoStub{}
	assessments := attemptAssessmentStub{
		assessments:   map[string]*models.Assessment{"asm-1": assessment},
		withQuestions: map[string]*models.Assessment{"asm-1": assessment},
		questions:     questions,
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	return repo, assessments, students
}

func TestGradeAnswer(t *testing.T) {
	cases := []struct {
		name     string
		question models.Question
		answer   string
		want     bool
	}{
		{"multiple choice exact", models.Question{Type: models.QuestionTypeMultipleChoice, CorrectAnswer: "4"}, "4", true},
		{"multiple choice wrong", models.Question{Type: models.QuestionTypeMultipleChoice, CorrectAnswer: "4"}, "3", false},
		{"case and whitespace ignored", models.Question{Type: models.QuestionTypeShortAnswer, CorrectAnswer: "Paris"}, "  paris ", true},
		{"true false", models.Question{Type: models.QuestionTypeTrueFalse, CorrectAnswer: "true"}, "TRUE", true},
		{"numeric same value different form", models.Question{Type: models.QuestionTypeNumeric, CorrectAnswer: "1"}, "1.0", true},
		{"numeric trailing zeros", models.Question{Type: models.QuestionTypeNumeric, CorrectAnswer: "0.3"}, "0.30", true},
		{"numeric wrong value", models.Question{Type: models.QuestionTypeNumeric, CorrectAnswer: "3.1"}, "3.14", false},
		{"numeric unparseable falls back to text", models.Question{Type: models.QuestionTypeNumeric, CorrectAnswer: "N/A"}, "n/a", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gradeAnswer(tc.question, tc.answer))
		})
	}
}

func TestAttemptServiceStartStripsAnswers(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	yes := true
	repo.startResult = &repository.StartAttemptResult{
		Attempt: models.AssessmentAttempt{
			ID:            "att-1",
			AssessmentID:  "asm-1",
			StudentID:     "student-1",
			AttemptNumber: 2,
			Status:        models.AttemptStatusInProgress,
			Answers: []models.AttemptAnswer{
				{QuestionID: "q1", Answer: "4", IsCorrect: &yes},
			},
		},
		Resumed: true,
	}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	resp, err := service.Start(context.Background(), actor, "asm-1")
	require.NoError(t, err)
	assert.True(t, resp.Resumed)
	assert.Empty(t, resp.Attempt.Answers)
	require.Len(t, resp.SavedAnswers, 1)
	assert.Equal(t, dto.SavedAnswer{QuestionID: "q1", Answer: "4"}, resp.SavedAnswers[0])
	require.Len(t, resp.Questions, 4)
	assert.Equal(t, "q1", resp.Questions[0].ID)

	require.Len(t, repo.startParams, 1)
	assert.Equal(t, "course-1", repo.startParams[0].CourseID)
	require.NotNil(t, repo.startParams[0].MaxAttempts)
	assert.Equal(t, 3, *repo.startParams[0].MaxAttempts)
}

func TestAttemptServiceStartOutsideWindow(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	past := time.Now().UTC().Add(-time.Hour)
	assessments.withQuestions["asm-1"].AvailableUntil = &past
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.Start(context.Background(), actor, "asm-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAssessmentClosed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.startParams)
}

func TestAttemptServiceStartMapsRepositoryErrors(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())
	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}

	repo.startErr = repository.ErrNotEnrolledInCourse
	_, err := service.Start(context.Background(), actor, "asm-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)

	repo.startErr = repository.ErrMaxAttemptsReached
	_, err = service.Start(context.Background(), actor, "asm-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMaxAttemptsReached.Code, appErrors.FromError(err).Code)
}

func TestAttemptServiceSubmitAnswerGrades(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	repo.byID = map[string]*models.AssessmentAttempt{
		"att-1": {ID: "att-1", AssessmentID: "asm-1", StudentID: "student-1", Status: models.AttemptStatusInProgress},
	}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	saved, err := service.SubmitAnswer(context.Background(), actor, "att-1", models.SubmitAnswerRequest{QuestionID: "q1", Answer: "4"})
	require.NoError(t, err)
	assert.Equal(t, "q1", saved.QuestionID)

	require.Len(t, repo.savedAnswers, 1)
	require.Len(t, repo.savedAnswers[0], 1)
	stored := repo.savedAnswers[0][0]
	require.NotNil(t, stored.IsCorrect)
	assert.True(t, *stored.IsCorrect)
}

func TestAttemptServiceSubmitAnswerForeignQuestion(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	repo.byID = map[string]*models.AssessmentAttempt{
		"att-1": {ID: "att-1", AssessmentID: "asm-other", StudentID: "student-1", Status: models.AttemptStatusInProgress},
	}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.SubmitAnswer(context.Background(), actor, "att-1", models.SubmitAnswerRequest{QuestionID: "q1", Answer: "4"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.savedAnswers)
}

func TestAttemptServiceSubmitScoresAndInvalidatesCache(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	repo.byID = map[string]*models.AssessmentAttempt{
		"att-1": {ID: "att-1", AssessmentID: "asm-1", StudentID: "student-1", Status: models.AttemptStatusInProgress},
	}
	score := 75.0
	passed := true
	now := time.Now().UTC()
	repo.submitResult = &repository.SubmitResult{
		Attempt: models.AssessmentAttempt{
			ID:            "att-1",
			AssessmentID:  "asm-1",
			AttemptNumber: 1,
			Status:        models.AttemptStatusSubmitted,
			Score:         &score,
			Passed:        &passed,
			SubmittedAt:   &now,
		},
		CorrectCount: 3,
	}
	cache := &statsCacheStub{entries: map[string]*dto.AssessmentStatistics{}}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, cache, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	req := models.SubmitAttemptRequest{Answers: []models.SubmitAnswerRequest{
		{QuestionID: "q1", Answer: "4"},
		{QuestionID: "q2", Answer: "true"},
		{QuestionID: "q3", Answer: "3.10"},
		{QuestionID: "q4", Answer: "london"},
	}}
	result, err := service.Submit(context.Background(), actor, "att-1", req)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, result.Score, 0.001)
	assert.True(t, result.Passed)
	assert.Equal(t, 3, result.CorrectCount)
	assert.Equal(t, 4, result.TotalCount)

	require.Len(t, repo.submitParams, 1)
	params := repo.submitParams[0]
	assert.Equal(t, 4, params.TotalQuestions)
	assert.InDelta(t, 60.0, params.PassingScore, 0.001)
	correct := 0
	for _, answer := range params.Answers {
		require.NotNil(t, answer.IsCorrect)
		if *answer.IsCorrect {
			correct++
		}
	}
	assert.Equal(t, 3, correct)

	assert.Equal(t, []string{statsCacheKey("asm-1")}, cache.deletes)
}

func TestAttemptServiceSubmitClosedAttempt(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	repo.byID = map[string]*models.AssessmentAttempt{
		"att-1": {ID: "att-1", AssessmentID: "asm-1", StudentID: "student-1", Status: models.AttemptStatusSubmitted},
	}
	repo.submitErr = repository.ErrAttemptNotInProgress
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err := service.Submit(context.Background(), actor, "att-1", models.SubmitAttemptRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAttemptNotInProgress.Code, appErrors.FromError(err).Code)
}

func TestAttemptServiceGetWithholdsOpenCorrectness(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	yes := true
	repo.withAnswers = map[string]*models.AssessmentAttempt{
		"att-open": {
			ID: "att-open", AssessmentID: "asm-1", StudentID: "student-1",
			Status:  models.AttemptStatusInProgress,
			Answers: []models.AttemptAnswer{{QuestionID: "q1", Answer: "4", IsCorrect: &yes}},
		},
		"att-done": {
			ID: "att-done", AssessmentID: "asm-1", StudentID: "student-1",
			Status:  models.AttemptStatusSubmitted,
			Answers: []models.AttemptAnswer{{QuestionID: "q1", Answer: "4", IsCorrect: &yes}},
		},
	}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	open, err := service.Get(context.Background(), actor, "att-open")
	require.NoError(t, err)
	require.Len(t, open.Answers, 1)
	assert.Nil(t, open.Answers[0].IsCorrect)

	done, err := service.Get(context.Background(), actor, "att-done")
	require.NoError(t, err)
	require.Len(t, done.Answers, 1)
	require.NotNil(t, done.Answers[0].IsCorrect)
	assert.True(t, *done.Answers[0].IsCorrect)
}

func TestAttemptServiceGetForeignAttemptForbidden(t *testing.T) {
	repo, assessments, _ := newAttemptFixture()
	repo.withAnswers = map[string]*models.AssessmentAttempt{
		"att-1": {ID: "att-1", AssessmentID: "asm-1", StudentID: "student-1", Status: models.AttemptStatusSubmitted},
	}
	students := studentResolverStub{byUserID: map[string]*models.Student{"user-2": {ID: "student-2", UserID: "user-2"}}}
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-2", Role: models.RoleStudent}
	_, err := service.Get(context.Background(), actor, "att-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAttemptServiceStatisticsCaches(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	avg := 72.456
	repo.aggStats = &repository.AggregateStats{Total: 10, Submitted: 8, InProgress: 2, DistinctStudents: 6, AverageScore: &avg}
	repo.questionRows = []repository.QuestionStatsRow{{QuestionID: "q1", Text: "2+2?", Answered: 3, Correct: 2}}

	cache := &statsCacheStub{entries: map[string]*dto.AssessmentStatistics{}}
	courses := courseFinderStub{courses: map[string]*models.Course{"course-1": {ID: "course-1", ProfessorID: "prof-1"}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	service := NewAttemptService(repo, assessments, students, courses, professors, cache, time.Minute, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	stats, err := service.Statistics(context.Background(), actor, "asm-1")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalAttempts)
	require.NotNil(t, stats.AverageScore)
	assert.InDelta(t, 72.46, *stats.AverageScore, 0.001)
	require.Len(t, stats.Questions, 1)
	assert.InDelta(t, 66.67, stats.Questions[0].CorrectRate, 0.001)
	assert.Equal(t, 1, repo.aggregateCalls)
	assert.Equal(t, []string{statsCacheKey("asm-1")}, cache.sets)

	// A cached copy short-circuits the aggregate queries.
	cache.entries[statsCacheKey("asm-1")] = stats
	again, err := service.Statistics(context.Background(), actor, "asm-1")
	require.NoError(t, err)
	assert.Equal(t, stats.TotalAttempts, again.TotalAttempts)
	assert.Equal(t, 1, repo.aggregateCalls)
}

func TestAttemptServiceStatisticsOwnershipRequired(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	courses := courseFinderStub{courses: map[string]*models.Course{"course-1": {ID: "course-1", ProfessorID: "prof-1"}}}
	professors := professorFinderStub{professors: map[string]*models.Professor{"prof-1": {ID: "prof-1", UserID: "user-9"}}}
	service := NewAttemptService(repo, assessments, students, courses, professors, nil, 0, nil, zap.NewNop())

	outsider := models.JWTClaims{UserID: "user-5", Role: models.RoleProfessor}
	_, err := service.Statistics(context.Background(), outsider, "asm-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	student := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	_, err = service.Statistics(context.Background(), student, "asm-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAttemptServicePendingNeverNil(t *testing.T) {
	repo, assessments, students := newAttemptFixture()
	service := NewAttemptService(repo, assessments, students, courseFinderStub{}, professorFinderStub{}, nil, 0, nil, zap.NewNop())

	actor := models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
	pending, err := service.Pending(context.Background(), actor)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}
