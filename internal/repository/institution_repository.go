package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aularis/lms-api/internal/models"
)

// ErrDuplicateInstitution signals a normalized-name collision on insert
// or rename.
var ErrDuplicateInstitution = errors.New("institution name already registered")

// InstitutionRepository handles persistence of institutions.
type InstitutionRepository struct {
	db *sqlx.DB
}

// NewInstitutionRepository constructs the repository.
func NewInstitutionRepository(db *sqlx.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

const institutionColumns = `id, name, normalized_name, aliases, website, created_at, updated_at`

// FindByID returns an institution by identifier.
func (r *InstitutionRepository) FindByID(ctx context.Context, id string) (*models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions WHERE id = $1 LIMIT 1`, institutionColumns)
	var inst models.Institution
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find institution by id: %w", err)
	}
	return &inst, nil
}

// FindByNormalizedName returns the institution whose normalized name
// matches exactly, or sql.ErrNoRows.
func (r *InstitutionRepository) FindByNormalizedName(ctx context.Context, normalized string) (*models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions WHERE normalized_name = $1 LIMIT 1`, institutionColumns)
	var inst models.Institution
	if err := r.db.GetContext(ctx, &inst, query, normalized); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find institution by normalized name: %w", err)
	}
	return &inst, nil
}

// ListAll returns every institution, for the in-memory similarity scan.
func (r *InstitutionRepository) ListAll(ctx context.Context) ([]models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions ORDER BY name ASC`, institutionColumns)
	var institutions []models.Institution
	if err := r.db.SelectContext(ctx, &institutions, query); err != nil {
		return nil, fmt.Errorf("list all institutions: %w", err)
	}
	return institutions, nil
}

// List returns institutions matching the filter with a total count.
func (r *InstitutionRepository) List(ctx context.Context, filter models.InstitutionFilter) ([]models.Institution, int, error) {
	base := `FROM institutions WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR $%d = ANY(aliases))", len(args)+1, len(args)+2))
		args = append(args, "%"+filter.Search+"%", filter.Search)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"name":       true,
		"created_at": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", institutionColumns, base, sortBy, order, size, offset)
	var institutions []models.Institution
	if err := r.db.SelectContext(ctx, &institutions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list institutions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count institutions: %w", err)
	}
	return institutions, total, nil
}

// Create inserts an institution. A unique index on normalized_name backs
// the duplicate check under concurrent creates.
func (r *InstitutionRepository) Create(ctx context.Context, inst *models.Institution) error {
	const query = `INSERT INTO institutions (id, name, normalized_name, aliases, website, created_at, updated_at)
        VALUES (:id, :name, :normalized_name, :aliases, :website, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateInstitution
		}
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}

// Update rewrites the mutable institution fields.
func (r *InstitutionRepository) Update(ctx context.Context, inst *models.Institution) error {
	const query = `UPDATE institutions SET name = :name, normalized_name = :normalized_name, aliases = :aliases,
        website = :website, updated_at = NOW() WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, inst)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateInstitution
		}
		return fmt.Errorf("update institution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update institution rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountStudents returns how many student profiles reference an
// institution. Deletion is refused while the count is nonzero.
func (r *InstitutionRepository) CountStudents(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE institution_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count institution students: %w", err)
	}
	return count, nil
}

// Delete removes an institution row.
func (r *InstitutionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM institutions WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete institution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete institution rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
