package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aularis/lms-api/internal/dto"
	"github.com/aularis/lms-api/internal/models"
)

// Sentinel errors surfaced by attempt transactions.
var (
	ErrNotEnrolledInCourse  = errors.New("student has no active enrollment in course")
	ErrMaxAttemptsReached   = errors.New("maximum attempts reached")
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
)

// AttemptRepository handles persistence of assessment attempts and answers.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const attemptColumns = `id, assessment_id, student_id, attempt_number, status, score, passed, started_at, submitted_at`

const answerColumns = `id, attempt_id, question_id, answer, is_correct, answered_at`

// StartAttemptParams carries what the start transaction needs to decide
// eligibility.
type StartAttemptParams struct {
	AssessmentID string
	StudentID    string
	CourseID     string
	MaxAttempts  *int
}

// StartAttemptResult is the outcome of a start transaction.
type StartAttemptResult struct {
	Attempt models.AssessmentAttempt
	// Resumed is true when an existing IN_PROGRESS attempt was returned
	// instead of opening a new one; its saved answers are loaded.
	Resumed bool
}

// StartAttempt opens a new attempt or resumes an in-progress one, all in a
// single transaction. The student's enrollment row is locked first so two
// concurrent starts serialize and attempt numbers stay strictly increasing
// without duplicates.
func (r *AttemptRepository) StartAttempt(ctx context.Context, params StartAttemptParams) (result *StartAttemptResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start attempt: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var enrollmentID string
	const lockEnrollment = `SELECT id FROM enrollments WHERE student_id = $1 AND course_id = $2 AND state <> 'DROPPED' FOR UPDATE`
	if err = tx.GetContext(ctx, &enrollmentID, lockEnrollment, params.StudentID, params.CourseID); err != nil {
		if err == sql.ErrNoRows {
			err = ErrNotEnrolledInCourse
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment for attempt: %w", err)
	}

	inProgressQuery := fmt.Sprintf(`SELECT %s FROM assessment_attempts WHERE assessment_id = $1 AND student_id = $2 AND status = $3 ORDER BY attempt_number DESC LIMIT 1`, attemptColumns)
	var open models.AssessmentAttempt
	err = tx.GetContext(ctx, &open, inProgressQuery, params.AssessmentID, params.StudentID, models.AttemptStatusInProgress)
	if err == nil {
		var answers []models.AttemptAnswer
		answersQuery := fmt.Sprintf(`SELECT %s FROM attempt_answers WHERE attempt_id = $1 ORDER BY answered_at ASC`, answerColumns)
		if err = tx.SelectContext(ctx, &answers, answersQuery, open.ID); err != nil {
			return nil, fmt.Errorf("load saved answers: %w", err)
		}
		open.Answers = answers
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit attempt resume: %w", err)
		}
		return &StartAttemptResult{Attempt: open, Resumed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("find open attempt: %w", err)
	}

	var priorCount int
	const countQuery = `SELECT COUNT(*) FROM assessment_attempts WHERE assessment_id = $1 AND student_id = $2`
	if err = tx.GetContext(ctx, &priorCount, countQuery, params.AssessmentID, params.StudentID); err != nil {
		return nil, fmt.Errorf("count prior attempts: %w", err)
	}

	if params.MaxAttempts != nil && priorCount >= *params.MaxAttempts {
		err = ErrMaxAttemptsReached
		return nil, err
	}

	attempt := models.AssessmentAttempt{
		ID:            uuid.NewString(),
		AssessmentID:  params.AssessmentID,
		StudentID:     params.StudentID,
		AttemptNumber: priorCount + 1,
		Status:        models.AttemptStatusInProgress,
		StartedAt:     time.Now().UTC(),
	}
	const insert = `INSERT INTO assessment_attempts (id, assessment_id, student_id, attempt_number, status, score, passed, started_at, submitted_at)
        VALUES (:id, :assessment_id, :student_id, :attempt_number, :status, :score, :passed, :started_at, :submitted_at)`
	if _, err = tx.NamedExecContext(ctx, insert, &attempt); err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start attempt: %w", err)
	}
	return &StartAttemptResult{Attempt: attempt}, nil
}

// FindByID returns an attempt by identifier.
func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*models.AssessmentAttempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM assessment_attempts WHERE id = $1 LIMIT 1`, attemptColumns)
	var attempt models.AssessmentAttempt
	if err := r.db.GetContext(ctx, &attempt, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attempt by id: %w", err)
	}
	return &attempt, nil
}

// FindWithAnswers returns an attempt with its saved answers loaded.
func (r *AttemptRepository) FindWithAnswers(ctx context.Context, id string) (*models.AssessmentAttempt, error) {
	attempt, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	answers, err := r.ListAnswers(ctx, id)
	if err != nil {
		return nil, err
	}
	attempt.Answers = answers
	return attempt, nil
}

// ListAnswers returns all saved answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID string) ([]models.AttemptAnswer, error) {
	query := fmt.Sprintf(`SELECT %s FROM attempt_answers WHERE attempt_id = $1 ORDER BY answered_at ASC`, answerColumns)
	var answers []models.AttemptAnswer
	if err := r.db.SelectContext(ctx, &answers, query, attemptID); err != nil {
		return nil, fmt.Errorf("list attempt answers: %w", err)
	}
	return answers, nil
}

// SaveAnswers upserts a batch of graded answers while the attempt row is
// locked. One answer per question: a second submission for the same
// question overwrites in place. Fails with ErrAttemptNotInProgress once
// the attempt left IN_PROGRESS.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, attemptID string, answers []models.AttemptAnswer) (err error) {
	if len(answers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save answers: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockAttemptInProgress(ctx, tx, attemptID); err != nil {
		return err
	}
	if err = upsertAnswers(ctx, tx, attemptID, answers); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save answers: %w", err)
	}
	return nil
}

// SubmitParams carries everything the submit transaction needs. Answers
// arrive pre-graded; unanswered questions count against the score.
type SubmitParams struct {
	AttemptID      string
	Answers        []models.AttemptAnswer
	TotalQuestions int
	PassingScore   float64
}

// SubmitResult reports the finalized attempt.
type SubmitResult struct {
	Attempt      models.AssessmentAttempt
	CorrectCount int
}

// SubmitAttempt finalizes an attempt: applies the last answer batch,
// counts correct answers, computes the score rounded to two decimals and
// transitions IN_PROGRESS to SUBMITTED. The attempt row lock makes the
// transition terminal: a concurrent or repeated submit observes SUBMITTED
// and fails with ErrAttemptNotInProgress.
func (r *AttemptRepository) SubmitAttempt(ctx context.Context, params SubmitParams) (result *SubmitResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit attempt: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM assessment_attempts WHERE id = $1 FOR UPDATE`, attemptColumns)
	var attempt models.AssessmentAttempt
	if err = tx.GetContext(ctx, &attempt, lockQuery, params.AttemptID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	if attempt.Status != models.AttemptStatusInProgress {
		err = ErrAttemptNotInProgress
		return nil, err
	}

	if err = upsertAnswers(ctx, tx, params.AttemptID, params.Answers); err != nil {
		return nil, err
	}

	var correctCount int
	const correctQuery = `SELECT COUNT(*) FROM attempt_answers WHERE attempt_id = $1 AND is_correct = TRUE`
	if err = tx.GetContext(ctx, &correctCount, correctQuery, params.AttemptID); err != nil {
		return nil, fmt.Errorf("count correct answers: %w", err)
	}

	score := 0.0
	if params.TotalQuestions > 0 {
		score = math.Round(float64(correctCount)/float64(params.TotalQuestions)*100*100) / 100
	}
	passed := score >= params.PassingScore
	now := time.Now().UTC()

	attempt.Score = &score
	attempt.Passed = &passed
	attempt.Status = models.AttemptStatusSubmitted
	attempt.SubmittedAt = &now

	const update = `UPDATE assessment_attempts SET status = $2, score = $3, passed = $4, submitted_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, params.AttemptID, attempt.Status, attempt.Score, attempt.Passed, attempt.SubmittedAt); err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit attempt: %w", err)
	}
	return &SubmitResult{Attempt: attempt, CorrectCount: correctCount}, nil
}

// List returns attempts filtered by the provided criteria.
func (r *AttemptRepository) List(ctx context.Context, filter models.AttemptFilter) ([]models.AssessmentAttempt, int, error) {
	base := `FROM assessment_attempts WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.AssessmentID != "" {
		conditions = append(conditions, fmt.Sprintf("assessment_id = $%d", len(args)+1))
		args = append(args, filter.AssessmentID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"started_at":     true,
		"submitted_at":   true,
		"attempt_number": true,
		"score":          true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "started_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", attemptColumns, base, sortBy, order, size, offset)
	var attempts []models.AssessmentAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}
	return attempts, total, nil
}

// ListResults returns per-student result rows for an assessment, used by
// the professor view and the export.
func (r *AttemptRepository) ListResults(ctx context.Context, assessmentID string) ([]models.AttemptResultRow, error) {
	const query = `SELECT at.id AS attempt_id, at.student_id, u.name || ' ' || u.surname AS student_name, u.email AS student_email,
        at.attempt_number, at.status, at.score, at.passed, at.submitted_at
        FROM assessment_attempts at
        JOIN students s ON s.id = at.student_id
        JOIN users u ON u.id = s.user_id
        WHERE at.assessment_id = $1
        ORDER BY u.surname ASC, u.name ASC, at.attempt_number ASC`
	var rows []models.AttemptResultRow
	if err := r.db.SelectContext(ctx, &rows, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list attempt results: %w", err)
	}
	return rows, nil
}

// AggregateStats holds one row of attempt aggregates for an assessment.
type AggregateStats struct {
	Total            int      `db:"total"`
	Submitted        int      `db:"submitted"`
	InProgress       int      `db:"in_progress"`
	DistinctStudents int      `db:"distinct_students"`
	AverageScore     *float64 `db:"average_score"`
	HighestScore     *float64 `db:"highest_score"`
	LowestScore      *float64 `db:"lowest_score"`
	PassRate         *float64 `db:"pass_rate"`
}

// Aggregate computes attempt aggregates for an assessment in one query.
func (r *AttemptRepository) Aggregate(ctx context.Context, assessmentID string) (*AggregateStats, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'SUBMITTED') AS submitted,
        COUNT(*) FILTER (WHERE status = 'IN_PROGRESS') AS in_progress,
        COUNT(DISTINCT student_id) AS distinct_students,
        AVG(score) FILTER (WHERE status = 'SUBMITTED') AS average_score,
        MAX(score) FILTER (WHERE status = 'SUBMITTED') AS highest_score,
        MIN(score) FILTER (WHERE status = 'SUBMITTED') AS lowest_score,
        AVG(CASE WHEN passed THEN 100.0 ELSE 0.0 END) FILTER (WHERE status = 'SUBMITTED') AS pass_rate
        FROM assessment_attempts WHERE assessment_id = $1`
	var stats AggregateStats
	if err := r.db.GetContext(ctx, &stats, query, assessmentID); err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}
	return &stats, nil
}

// QuestionStatsRow aggregates answer outcomes per question.
type QuestionStatsRow struct {
	QuestionID string `db:"question_id"`
	Text       string `db:"text"`
	Answered   int    `db:"answered"`
	Correct    int    `db:"correct"`
}

// QuestionStats returns per-question answer aggregates for an assessment.
func (r *AttemptRepository) QuestionStats(ctx context.Context, assessmentID string) ([]QuestionStatsRow, error) {
	const query = `SELECT q.id AS question_id, q.text,
        COUNT(aa.attempt_id) AS answered,
        COUNT(aa.attempt_id) FILTER (WHERE aa.is_correct) AS correct
        FROM questions q
        LEFT JOIN attempt_answers aa ON aa.question_id = q.id
        WHERE q.assessment_id = $1
        GROUP BY q.id, q.text, q.position
        ORDER BY q.position ASC`
	var rows []QuestionStatsRow
	if err := r.db.SelectContext(ctx, &rows, query, assessmentID); err != nil {
		return nil, fmt.Errorf("aggregate question stats: %w", err)
	}
	return rows, nil
}

// ListPendingForStudent returns open assessments the student can still
// take and has not passed.
func (r *AttemptRepository) ListPendingForStudent(ctx context.Context, studentID string, now time.Time) ([]dto.PendingAssessment, error) {
	const query = `SELECT a.id AS assessment_id, a.title, c.id AS course_id, c.title AS course_title,
        a.available_until, a.max_attempts,
        (SELECT COUNT(*) FROM assessment_attempts ca WHERE ca.assessment_id = a.id AND ca.student_id = e.student_id) AS attempts_used
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        JOIN assessments a ON a.course_id = c.id
        WHERE e.student_id = $1 AND e.state = 'ENROLLED'
        AND a.active = TRUE
        AND (a.available_from IS NULL OR a.available_from <= $2)
        AND (a.available_until IS NULL OR a.available_until >= $2)
        AND NOT EXISTS (
            SELECT 1 FROM assessment_attempts pa
            WHERE pa.assessment_id = a.id AND pa.student_id = e.student_id AND pa.passed = TRUE
        )
        AND (a.max_attempts IS NULL OR (
            SELECT COUNT(*) FROM assessment_attempts ua
            WHERE ua.assessment_id = a.id AND ua.student_id = e.student_id
        ) < a.max_attempts)
        ORDER BY a.available_until ASC NULLS LAST, a.title ASC`
	var pending []dto.PendingAssessment
	if err := r.db.SelectContext(ctx, &pending, query, studentID, now); err != nil {
		return nil, fmt.Errorf("list pending assessments: %w", err)
	}
	return pending, nil
}

// ReminderRecipient is one student owed a pending-assessment reminder.
type ReminderRecipient struct {
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	PendingCount int    `db:"pending_count"`
}

// ListReminderRecipients returns every active student with at least one
// pending assessment, for the daily reminder job.
func (r *AttemptRepository) ListReminderRecipients(ctx context.Context, now time.Time) ([]ReminderRecipient, error) {
	const query = `SELECT u.id AS user_id, u.email, u.name, COUNT(DISTINCT a.id) AS pending_count
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN users u ON u.id = s.user_id
        JOIN courses c ON c.id = e.course_id
        JOIN assessments a ON a.course_id = c.id
        WHERE u.active = TRUE AND e.state = 'ENROLLED'
        AND a.active = TRUE
        AND (a.available_from IS NULL OR a.available_from <= $1)
        AND (a.available_until IS NULL OR a.available_until >= $1)
        AND NOT EXISTS (
            SELECT 1 FROM assessment_attempts pa
            WHERE pa.assessment_id = a.id AND pa.student_id = e.student_id AND pa.passed = TRUE
        )
        AND (a.max_attempts IS NULL OR (
            SELECT COUNT(*) FROM assessment_attempts ua
            WHERE ua.assessment_id = a.id AND ua.student_id = e.student_id
        ) < a.max_attempts)
        GROUP BY u.id, u.email, u.name
        ORDER BY u.email ASC`
	var recipients []ReminderRecipient
	if err := r.db.SelectContext(ctx, &recipients, query, now); err != nil {
		return nil, fmt.Errorf("list reminder recipients: %w", err)
	}
	return recipients, nil
}

func lockAttemptInProgress(ctx context.Context, tx *sqlx.Tx, attemptID string) error {
	var status models.AttemptStatus
	const query = `SELECT status FROM assessment_attempts WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &status, query, attemptID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock attempt: %w", err)
	}
	if status != models.AttemptStatusInProgress {
		return ErrAttemptNotInProgress
	}
	return nil
}

func upsertAnswers(ctx context.Context, tx *sqlx.Tx, attemptID string, answers []models.AttemptAnswer) error {
	const upsert = `INSERT INTO attempt_answers (id, attempt_id, question_id, answer, is_correct, answered_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (attempt_id, question_id) DO UPDATE SET answer = EXCLUDED.answer, is_correct = EXCLUDED.is_correct, answered_at = EXCLUDED.answered_at`
	now := time.Now().UTC()
	for i := range answers {
		a := &answers[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.AttemptID = attemptID
		if a.AnsweredAt.IsZero() {
			a.AnsweredAt = now
		}
		if _, err := tx.ExecContext(ctx, upsert, a.ID, a.AttemptID, a.QuestionID, a.Answer, a.IsCorrect, a.AnsweredAt); err != nil {
			return fmt.Errorf("upsert attempt answer: %w", err)
		}
	}
	return nil
}
