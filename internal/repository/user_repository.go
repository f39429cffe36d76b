package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aularis/lms-api/internal/models"
)

// ErrDuplicateEmail signals the users.email unique constraint fired.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository provides database access for user accounts, refresh token
// sessions and the audit trail.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, name, surname, role, active, reset_token_hash, reset_token_expires_at, last_login, created_at, updated_at`

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByResetTokenHash returns the user whose stored reset token hash
// matches. Expiry is checked by the caller against the returned record.
func (r *UserRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE reset_token_hash = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by reset token: %w", err)
	}
	return &user, nil
}

// ExistsByEmail checks whether the email is already registered.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT 1 FROM users WHERE email = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check user email: %w", err)
	}
	return true, nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetResetToken stores the hashed reset token and its expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	const query = `UPDATE users SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, tokenHash, expiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ClearResetToken removes any stored reset token state.
func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

// ResetPassword atomically replaces the password hash and clears the reset
// token fields.
func (r *UserRepository) ResetPassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(name || ' ' || surname) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]bool{
		"email":      true,
		"created_at": true,
		"updated_at": true,
		"surname":    true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, password_hash, name, surname, role, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :name, :surname, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateWithStudentProfile inserts a user and its paired student profile in
// one transaction. A unique-constraint violation on the email maps to
// ErrDuplicateEmail so concurrent registrations stay conflict-safe.
func (r *UserRepository) CreateWithStudentProfile(ctx context.Context, user *models.User, student *models.Student) (err error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.UserID = user.ID
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertUser = `INSERT INTO users (id, email, password_hash, name, surname, role, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :name, :surname, :role, :active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertUser, user); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = ErrDuplicateEmail
			return err
		}
		return fmt.Errorf("create user: %w", err)
	}

	const insertStudent = `INSERT INTO students (id, user_id, institution_id, created_at, updated_at) VALUES (:id, :user_id, :institution_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertStudent, student); err != nil {
		return fmt.Errorf("create student profile: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit registration: %w", err)
	}
	return nil
}

// CreateWithProfessorProfile inserts a user and its paired professor
// profile in one transaction, with the same duplicate-email mapping as
// CreateWithStudentProfile.
func (r *UserRepository) CreateWithProfessorProfile(ctx context.Context, user *models.User, professor *models.Professor) (err error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if professor.ID == "" {
		professor.ID = uuid.NewString()
	}
	professor.UserID = user.ID
	if professor.CreatedAt.IsZero() {
		professor.CreatedAt = now
	}
	professor.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin professor creation transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertUser = `INSERT INTO users (id, email, password_hash, name, surname, role, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :name, :surname, :role, :active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertUser, user); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = ErrDuplicateEmail
			return err
		}
		return fmt.Errorf("create user: %w", err)
	}

	const insertProfessor = `INSERT INTO professors (id, user_id, institution_id, title, created_at, updated_at) VALUES (:id, :user_id, :institution_id, :title, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertProfessor, professor); err != nil {
		return fmt.Errorf("create professor profile: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit professor creation: %w", err)
	}
	return nil
}

// Update updates mutable fields of a user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET name = :name, surname = :surname, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Delete performs a soft delete by marking the user inactive.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

const refreshTokenColumns = `id, user_id, token, expires_at, created_at, revoked, revoked_at, replaced_by_token, ip_address, user_agent`

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, replaced_by_token, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :replaced_by_token, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1 LIMIT 1`, refreshTokenColumns)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// RotateOutcome reports what a rotation transaction found and did.
type RotateOutcome struct {
	// Old is the presented token's stored record.
	Old *models.RefreshToken
	// Reused means the presented token was already revoked; every session
	// of the owning user has been revoked in the same transaction.
	Reused bool
	// Expired means the presented token was past its expiry; nothing was
	// changed.
	Expired bool
}

// RotateRefreshToken performs one rotation step atomically. The presented
// token row is locked for the duration of the transaction so two concurrent
// refresh calls with the same token serialize: the first rotates, the
// second observes the revocation and triggers the reuse outcome.
// Returns sql.ErrNoRows when the token does not exist.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, token string, replacement *models.RefreshToken) (outcome *RotateOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1 FOR UPDATE`, refreshTokenColumns)
	var old models.RefreshToken
	if err = tx.GetContext(ctx, &old, lockQuery, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock refresh token: %w", err)
	}

	now := time.Now().UTC()

	if old.Revoked {
		const revokeAll = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
		if _, err = tx.ExecContext(ctx, revokeAll, old.UserID, now); err != nil {
			return nil, fmt.Errorf("revoke sessions after reuse: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit reuse revocation: %w", err)
		}
		return &RotateOutcome{Old: &old, Reused: true}, nil
	}

	if old.Expired(now) {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit expired check: %w", err)
		}
		return &RotateOutcome{Old: &old, Expired: true}, nil
	}

	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = now
	}
	replacement.UserID = old.UserID

	const revokeOld = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by_token = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, revokeOld, old.ID, now, replacement.Token); err != nil {
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}

	const insertNew = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, replaced_by_token, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :replaced_by_token, :ip_address, :user_agent)`
	if _, err = tx.NamedExecContext(ctx, insertNew, replacement); err != nil {
		return nil, fmt.Errorf("insert rotated token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return &RotateOutcome{Old: &old}, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
