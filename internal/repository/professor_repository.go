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

// ProfessorRepository handles persistence of professor profiles.
type ProfessorRepository struct {
	db *sqlx.DB
}

// NewProfessorRepository constructs the repository.
func NewProfessorRepository(db *sqlx.DB) *ProfessorRepository {
	return &ProfessorRepository{db: db}
}

// FindByID returns a professor profile by identifier.
func (r *ProfessorRepository) FindByID(ctx context.Context, id string) (*models.Professor, error) {
	const query = `SELECT id, user_id, institution_id, title, created_at, updated_at FROM professors WHERE id = $1 LIMIT 1`
	var professor models.Professor
	if err := r.db.GetContext(ctx, &professor, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find professor by id: %w", err)
	}
	return &professor, nil
}

// FindByUserID returns the professor profile owned by a user account.
func (r *ProfessorRepository) FindByUserID(ctx context.Context, userID string) (*models.Professor, error) {
	const query = `SELECT id, user_id, institution_id, title, created_at, updated_at FROM professors WHERE user_id = $1 LIMIT 1`
	var professor models.Professor
	if err := r.db.GetContext(ctx, &professor, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find professor by user id: %w", err)
	}
	return &professor, nil
}

// Create inserts a professor profile. Used when an admin promotes a user.
func (r *ProfessorRepository) Create(ctx context.Context, professor *models.Professor) error {
	if professor.ID == "" {
		professor.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if professor.CreatedAt.IsZero() {
		professor.CreatedAt = now
	}
	professor.UpdatedAt = now
	const query = `INSERT INTO professors (id, user_id, institution_id, title, created_at, updated_at) VALUES (:id, :user_id, :institution_id, :title, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, professor); err != nil {
		return fmt.Errorf("create professor: %w", err)
	}
	return nil
}

// List returns professor detail rows filtered by the provided criteria.
func (r *ProfessorRepository) List(ctx context.Context, filter models.ProfessorFilter) ([]models.ProfessorDetail, int, error) {
	base := `FROM professors p
JOIN users u ON u.id = p.user_id
LEFT JOIN institutions i ON i.id = p.institution_id`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.email) LIKE $%d OR LOWER(u.name || ' ' || u.surname) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.InstitutionID != "" {
		conditions = append(conditions, fmt.Sprintf("p.institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "p.created_at",
		"surname":    "u.surname",
		"email":      "u.email",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "p.created_at"
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

	query := fmt.Sprintf(`SELECT p.id, p.user_id, p.institution_id, p.title, p.created_at, p.updated_at,
        u.name, u.surname, u.email, i.name AS institution_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var professors []models.ProfessorDetail
	if err := r.db.SelectContext(ctx, &professors, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list professors: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count professors: %w", err)
	}
	return professors, total, nil
}
