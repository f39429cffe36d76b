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

// CourseRepository handles persistence of courses and their content units.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, professor_id, title, description, active, created_at, updated_at FROM courses WHERE id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindDetailByID returns a course with its owner name and unit count.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	const query = `SELECT c.id, c.professor_id, c.title, c.description, c.active, c.created_at, c.updated_at,
        u.name || ' ' || u.surname AS professor_name,
        (SELECT COUNT(*) FROM course_units cu WHERE cu.course_id = c.id) AS total_units,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.state <> 'DROPPED') AS enrolled_count
        FROM courses c
        JOIN professors p ON p.id = c.professor_id
        JOIN users u ON u.id = p.user_id
        WHERE c.id = $1`
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course detail: %w", err)
	}
	return &detail, nil
}

// List returns course detail rows filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c
JOIN professors p ON p.id = c.professor_id
JOIN users u ON u.id = p.user_id`
	var conditions []string
	var args []interface{}

	if filter.ProfessorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.professor_id = $%d", len(args)+1))
		args = append(args, filter.ProfessorID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"title":      "c.title",
		"created_at": "c.created_at",
		"updated_at": "c.updated_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
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

	query := fmt.Sprintf(`SELECT c.id, c.professor_id, c.title, c.description, c.active, c.created_at, c.updated_at,
        u.name || ' ' || u.surname AS professor_name,
        (SELECT COUNT(*) FROM course_units cu WHERE cu.course_id = c.id) AS total_units,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.state <> 'DROPPED') AS enrolled_count
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, professor_id, title, description, active, created_at, updated_at)
        VALUES (:id, :professor_id, :title, :description, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update updates mutable fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete deactivates a course. Enrollments and attempts stay intact.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE courses SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// ListUnits returns all units of a course ordered by number.
func (r *CourseRepository) ListUnits(ctx context.Context, courseID string) ([]models.CourseUnit, error) {
	const query = `SELECT id, course_id, number, title, content, created_at, updated_at FROM course_units WHERE course_id = $1 ORDER BY number ASC`
	var units []models.CourseUnit
	if err := r.db.SelectContext(ctx, &units, query, courseID); err != nil {
		return nil, fmt.Errorf("list course units: %w", err)
	}
	return units, nil
}

// CountUnits returns the number of units a course has.
func (r *CourseRepository) CountUnits(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM course_units WHERE course_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseID); err != nil {
		return 0, fmt.Errorf("count course units: %w", err)
	}
	return total, nil
}

// FindUnit returns a single unit by course and number.
func (r *CourseRepository) FindUnit(ctx context.Context, courseID string, number int) (*models.CourseUnit, error) {
	const query = `SELECT id, course_id, number, title, content, created_at, updated_at FROM course_units WHERE course_id = $1 AND number = $2 LIMIT 1`
	var unit models.CourseUnit
	if err := r.db.GetContext(ctx, &unit, query, courseID, number); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course unit: %w", err)
	}
	return &unit, nil
}

// UpsertUnit inserts or replaces the unit with the given number.
func (r *CourseRepository) UpsertUnit(ctx context.Context, unit *models.CourseUnit) error {
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	unit.UpdatedAt = now
	const query = `INSERT INTO course_units (id, course_id, number, title, content, created_at, updated_at)
        VALUES (:id, :course_id, :number, :title, :content, :created_at, :updated_at)
        ON CONFLICT (course_id, number) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, unit); err != nil {
		return fmt.Errorf("upsert course unit: %w", err)
	}
	return nil
}

// DeleteUnit removes a unit and any completion marks referencing it.
func (r *CourseRepository) DeleteUnit(ctx context.Context, courseID string, number int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const deleteMarks = `DELETE FROM enrollment_units eu USING enrollments e
        WHERE eu.enrollment_id = e.id AND e.course_id = $1 AND eu.unit_number = $2`
	if _, err = tx.ExecContext(ctx, deleteMarks, courseID, number); err != nil {
		return fmt.Errorf("delete unit completion marks: %w", err)
	}

	const deleteUnit = `DELETE FROM course_units WHERE course_id = $1 AND number = $2`
	if _, err = tx.ExecContext(ctx, deleteUnit, courseID, number); err != nil {
		return fmt.Errorf("delete course unit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit unit delete: %w", err)
	}
	return nil
}
