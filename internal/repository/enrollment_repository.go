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
	"github.com/lib/pq"

	"github.com/aularis/lms-api/internal/models"
)

// Sentinel errors surfaced by enrollment transactions. Services translate
// them into API error codes.
var (
	ErrDuplicateEnrollment = errors.New("enrollment already exists for student and course")
	ErrUnitNotInCourse     = errors.New("unit number does not exist in course")
	ErrEnrollmentDropped   = errors.New("enrollment is dropped")
)

// EnrollmentRepository handles persistence of enrollments and their
// completed-unit sets.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, state, progress, grade, enrolled_at, completed_at, updated_at`

// FindByID returns an enrollment with its completed-unit set loaded.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	units, err := r.completedUnits(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	enrollment.CompletedUnits = units
	return &enrollment, nil
}

// FindByStudentAndCourse returns the enrollment for a (student, course)
// pair regardless of state.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by pair: %w", err)
	}
	units, err := r.completedUnits(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.CompletedUnits = units
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with course and student context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.state, e.progress, e.grade, e.enrolled_at, e.completed_at, e.updated_at,
        c.title AS course_title, u.name || ' ' || u.surname AS student_name,
        (SELECT COUNT(*) FROM course_units cu WHERE cu.course_id = e.course_id) AS total_units
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        JOIN students s ON s.id = e.student_id
        JOIN users u ON u.id = s.user_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	units, err := r.completedUnits(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	detail.CompletedUnits = units
	return &detail, nil
}

// List returns enrollment detail rows filtered by the provided criteria.
// Completed-unit sets are not loaded for list responses.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN courses c ON c.id = e.course_id
JOIN students s ON s.id = e.student_id
JOIN users u ON u.id = s.user_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("e.state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"progress":     "e.progress",
		"student_name": "u.surname",
		"course_title": "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.state, e.progress, e.grade, e.enrolled_at, e.completed_at, e.updated_at,
        c.title AS course_title, u.name || ' ' || u.surname AS student_name,
        (SELECT COUNT(*) FROM course_units cu WHERE cu.course_id = e.course_id) AS total_units
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// Create persists a new enrollment. The unique index on (student_id,
// course_id) backs the at-most-one invariant; a violation surfaces as
// ErrDuplicateEnrollment so the caller can return the existing record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.State == "" {
		enrollment.State = models.EnrollmentStateEnrolled
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, state, progress, grade, enrolled_at, completed_at, updated_at)
        VALUES (:id, :student_id, :course_id, :state, :progress, :grade, :enrolled_at, :completed_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UnitMutationResult reports the persisted state after a completion change.
type UnitMutationResult struct {
	Enrollment models.Enrollment
	TotalUnits int
	// Changed is false when the unit was already in the requested state;
	// the call is then a no-op by set semantics.
	Changed bool
}

// SetUnitCompletion marks a unit complete or incomplete inside one
// transaction. The enrollment row is locked first so concurrent calls on
// the same enrollment serialize and the progress recomputation never loses
// an update. State auto-transitions ENROLLED to COMPLETED at 100 and back
// below 100.
func (r *EnrollmentRepository) SetUnitCompletion(ctx context.Context, enrollmentID string, unitNumber int, completed bool) (result *UnitMutationResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unit completion: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err = tx.GetContext(ctx, &enrollment, lockQuery, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}

	if enrollment.State == models.EnrollmentStateDropped {
		err = ErrEnrollmentDropped
		return nil, err
	}

	var unitExists int
	const unitQuery = `SELECT 1 FROM course_units WHERE course_id = $1 AND number = $2 LIMIT 1`
	if err = tx.GetContext(ctx, &unitExists, unitQuery, enrollment.CourseID, unitNumber); err != nil {
		if err == sql.ErrNoRows {
			err = ErrUnitNotInCourse
			return nil, err
		}
		return nil, fmt.Errorf("check course unit: %w", err)
	}

	now := time.Now().UTC()
	var res sql.Result
	if completed {
		const insert = `INSERT INTO enrollment_units (enrollment_id, unit_number, completed_at) VALUES ($1, $2, $3) ON CONFLICT (enrollment_id, unit_number) DO NOTHING`
		res, err = tx.ExecContext(ctx, insert, enrollmentID, unitNumber, now)
	} else {
		const remove = `DELETE FROM enrollment_units WHERE enrollment_id = $1 AND unit_number = $2`
		res, err = tx.ExecContext(ctx, remove, enrollmentID, unitNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("write unit completion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read unit completion result: %w", err)
	}
	changed := affected > 0

	var totalUnits int
	const totalQuery = `SELECT COUNT(*) FROM course_units WHERE course_id = $1`
	if err = tx.GetContext(ctx, &totalUnits, totalQuery, enrollment.CourseID); err != nil {
		return nil, fmt.Errorf("count course units: %w", err)
	}

	var doneUnits int
	const doneQuery = `SELECT COUNT(*) FROM enrollment_units WHERE enrollment_id = $1`
	if err = tx.GetContext(ctx, &doneUnits, doneQuery, enrollmentID); err != nil {
		return nil, fmt.Errorf("count completed units: %w", err)
	}

	progress := 0
	if totalUnits > 0 {
		progress = int(math.Round(float64(doneUnits) / float64(totalUnits) * 100))
	}

	enrollment.Progress = progress
	switch {
	case progress == 100 && enrollment.State == models.EnrollmentStateEnrolled:
		enrollment.State = models.EnrollmentStateCompleted
		enrollment.CompletedAt = &now
	case progress < 100 && enrollment.State == models.EnrollmentStateCompleted:
		enrollment.State = models.EnrollmentStateEnrolled
		enrollment.CompletedAt = nil
	}
	enrollment.UpdatedAt = now

	const update = `UPDATE enrollments SET state = $2, progress = $3, completed_at = $4, updated_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, enrollmentID, enrollment.State, enrollment.Progress, enrollment.CompletedAt, enrollment.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update enrollment progress: %w", err)
	}

	units, err := r.completedUnits(ctx, tx, enrollmentID)
	if err != nil {
		return nil, err
	}
	enrollment.CompletedUnits = units

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unit completion: %w", err)
	}
	return &UnitMutationResult{Enrollment: enrollment, TotalUnits: totalUnits, Changed: changed}, nil
}

// UpdateEnrollmentParams carries the manual override fields.
type UpdateEnrollmentParams struct {
	State    *models.EnrollmentState
	Progress *int
	Grade    *float64
}

// UpdateEnrollment applies manual overrides under the row lock. Forcing
// COMPLETED pins progress at 100; progress writes are ignored while the
// enrollment is already COMPLETED.
func (r *EnrollmentRepository) UpdateEnrollment(ctx context.Context, id string, params UpdateEnrollmentParams) (updated *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err = tx.GetContext(ctx, &enrollment, lockQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}

	now := time.Now().UTC()
	wasCompleted := enrollment.State == models.EnrollmentStateCompleted

	if params.Progress != nil && !wasCompleted {
		enrollment.Progress = *params.Progress
	}
	if params.Grade != nil {
		enrollment.Grade = params.Grade
	}
	if params.State != nil {
		enrollment.State = *params.State
		switch *params.State {
		case models.EnrollmentStateCompleted:
			enrollment.Progress = 100
			if enrollment.CompletedAt == nil {
				enrollment.CompletedAt = &now
			}
		case models.EnrollmentStateEnrolled:
			enrollment.CompletedAt = nil
		}
	}
	enrollment.UpdatedAt = now

	const update = `UPDATE enrollments SET state = $2, progress = $3, grade = $4, completed_at = $5, updated_at = $6 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, id, enrollment.State, enrollment.Progress, enrollment.Grade, enrollment.CompletedAt, enrollment.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update enrollment: %w", err)
	}

	units, err := r.completedUnits(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	enrollment.CompletedUnits = units

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment update: %w", err)
	}
	return &enrollment, nil
}

// Delete removes the enrollment and its completion marks. Not reversible.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const deleteUnits = `DELETE FROM enrollment_units WHERE enrollment_id = $1`
	if _, err = tx.ExecContext(ctx, deleteUnits, id); err != nil {
		return fmt.Errorf("delete enrollment units: %w", err)
	}

	const deleteEnrollment = `DELETE FROM enrollments WHERE id = $1`
	if _, err = tx.ExecContext(ctx, deleteEnrollment, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment delete: %w", err)
	}
	return nil
}

// StudentContact identifies an enrolled student for notification fan-out.
type StudentContact struct {
	UserID  string `db:"user_id"`
	Email   string `db:"email"`
	Name    string `db:"name"`
	Surname string `db:"surname"`
}

// ListActiveStudentContacts returns contact rows for every non-dropped
// enrollment of a course.
func (r *EnrollmentRepository) ListActiveStudentContacts(ctx context.Context, courseID string) ([]StudentContact, error) {
	const query = `SELECT u.id AS user_id, u.email, u.name, u.surname
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN users u ON u.id = s.user_id
        WHERE e.course_id = $1 AND e.state <> 'DROPPED' AND u.active = TRUE
        ORDER BY u.surname ASC`
	var contacts []StudentContact
	if err := r.db.SelectContext(ctx, &contacts, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrolled contacts: %w", err)
	}
	return contacts, nil
}

type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *EnrollmentRepository) completedUnits(ctx context.Context, q queryer, enrollmentID string) ([]int, error) {
	const query = `SELECT unit_number FROM enrollment_units WHERE enrollment_id = $1 ORDER BY unit_number ASC`
	var units []int
	if err := q.SelectContext(ctx, &units, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("load completed units: %w", err)
	}
	if units == nil {
		units = []int{}
	}
	return units, nil
}
