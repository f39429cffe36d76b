package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aularis/lms-api/internal/models"
)

// AssessmentRepository handles persistence of assessments and questions.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs the repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

const assessmentColumns = `id, course_id, title, description, passing_score, max_attempts, available_from, available_until, active, created_at, updated_at`

const questionColumns = `id, assessment_id, type, text, options, correct_answer, points, position, created_at, updated_at`

// FindByID returns an assessment without its questions.
func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assessments WHERE id = $1 LIMIT 1`, assessmentColumns)
	var assessment models.Assessment
	if err := r.db.GetContext(ctx, &assessment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assessment by id: %w", err)
	}
	return &assessment, nil
}

// FindWithQuestions returns an assessment with its question set loaded.
func (r *AssessmentRepository) FindWithQuestions(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	questions, err := r.ListQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	assessment.Questions = questions
	return assessment, nil
}

// List returns assessments filtered by the provided criteria.
func (r *AssessmentRepository) List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error) {
	base := `FROM assessments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"title":          true,
		"created_at":     true,
		"available_from": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", assessmentColumns, base, sortBy, order, size, offset)
	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assessments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assessments: %w", err)
	}
	return assessments, total, nil
}

// Create persists a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = now
	}
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, course_id, title, description, passing_score, max_attempts, available_from, available_until, active, created_at, updated_at)
        VALUES (:id, :course_id, :title, :description, :passing_score, :max_attempts, :available_from, :available_until, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// Update updates mutable fields of an assessment.
func (r *AssessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	assessment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessments SET title = :title, description = :description, passing_score = :passing_score, max_attempts = :max_attempts, available_from = :available_from, available_until = :available_until, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	return nil
}

// SetActive flips the publish flag.
func (r *AssessmentRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE assessments SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set assessment active: %w", err)
	}
	return nil
}

// Delete removes an assessment together with its questions, attempts and
// recorded answers.
func (r *AssessmentRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assessment delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const deleteAnswers = `DELETE FROM attempt_answers WHERE attempt_id IN (SELECT id FROM assessment_attempts WHERE assessment_id = $1)`
	if _, err = tx.ExecContext(ctx, deleteAnswers, id); err != nil {
		return fmt.Errorf("delete assessment answers: %w", err)
	}

	const deleteAttempts = `DELETE FROM assessment_attempts WHERE assessment_id = $1`
	if _, err = tx.ExecContext(ctx, deleteAttempts, id); err != nil {
		return fmt.Errorf("delete assessment attempts: %w", err)
	}

	const deleteQuestions = `DELETE FROM questions WHERE assessment_id = $1`
	if _, err = tx.ExecContext(ctx, deleteQuestions, id); err != nil {
		return fmt.Errorf("delete assessment questions: %w", err)
	}

	const deleteAssessment = `DELETE FROM assessments WHERE id = $1`
	res, err := tx.ExecContext(ctx, deleteAssessment, id)
	if err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assessment rows affected: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assessment delete: %w", err)
	}
	return nil
}

// ListQuestions returns all questions of an assessment in display order.
func (r *AssessmentRepository) ListQuestions(ctx context.Context, assessmentID string) ([]models.Question, error) {
	query := fmt.Sprintf(`SELECT %s FROM questions WHERE assessment_id = $1 ORDER BY position ASC, created_at ASC`, questionColumns)
	var questions []models.Question
	if err := r.db.SelectContext(ctx, &questions, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

// CountQuestions returns how many questions an assessment holds.
func (r *AssessmentRepository) CountQuestions(ctx context.Context, assessmentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM questions WHERE assessment_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, assessmentID); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return total, nil
}

// FindQuestion returns a question by identifier.
func (r *AssessmentRepository) FindQuestion(ctx context.Context, id string) (*models.Question, error) {
	query := fmt.Sprintf(`SELECT %s FROM questions WHERE id = $1 LIMIT 1`, questionColumns)
	var question models.Question
	if err := r.db.GetContext(ctx, &question, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find question by id: %w", err)
	}
	return &question, nil
}

// CreateQuestion persists a new question.
func (r *AssessmentRepository) CreateQuestion(ctx context.Context, question *models.Question) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if question.CreatedAt.IsZero() {
		question.CreatedAt = now
	}
	question.UpdatedAt = now
	const query = `INSERT INTO questions (id, assessment_id, type, text, options, correct_answer, points, position, created_at, updated_at)
        VALUES (:id, :assessment_id, :type, :text, :options, :correct_answer, :points, :position, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, question); err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// UpdateQuestion updates mutable fields of a question.
func (r *AssessmentRepository) UpdateQuestion(ctx context.Context, question *models.Question) error {
	question.UpdatedAt = time.Now().UTC()
	const query = `UPDATE questions SET type = :type, text = :text, options = :options, correct_answer = :correct_answer, points = :points, position = :position, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, question); err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return nil
}

// DeleteQuestion removes a question and any answers referencing it.
func (r *AssessmentRepository) DeleteQuestion(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin question delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const deleteAnswers = `DELETE FROM attempt_answers WHERE question_id = $1`
	if _, err = tx.ExecContext(ctx, deleteAnswers, id); err != nil {
		return fmt.Errorf("delete question answers: %w", err)
	}

	const deleteQuestion = `DELETE FROM questions WHERE id = $1`
	if _, err = tx.ExecContext(ctx, deleteQuestion, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit question delete: %w", err)
	}
	return nil
}
