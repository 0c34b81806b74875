package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// UserStorage implements SQLite storage for users
type UserStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewUserStorage creates a new user storage instance
func NewUserStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

// CreateUser inserts a user; the unique name index rejects duplicates
func (s *UserStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.Name == "" {
		return common.BadRequestf("user name is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	var restrictedJob sql.NullInt64
	if user.RestrictedJob != nil {
		restrictedJob = sql.NullInt64{Valid: true, Int64: *user.RestrictedJob}
	}

	result, err := s.db.db.ExecContext(ctx, `
		INSERT INTO users (name, email, is_admin, password_hash, restricted_job, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.Name, nullString(user.Email), boolToInt(user.IsAdmin),
		nullString(user.PasswordHash), restrictedJob, user.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return common.Conflictf("user %s already exists", user.Name)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}

	s.logger.Debug().Str("name", user.Name).Bool("admin", user.IsAdmin).Msg("User created")
	return nil
}

// GetUser retrieves a user by ID
func (s *UserStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, name, email, is_admin, password_hash, restricted_job, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByName retrieves a user by its unique name
func (s *UserStorage) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, name, email, is_admin, password_hash, restricted_job, created_at
		FROM users WHERE name = ?`, name)
	return scanUser(row)
}

// ListUsers lists non-guest users with pagination, plus the total count
func (s *UserStorage) ListUsers(ctx context.Context, offset, limit int) ([]*models.User, int, error) {
	var total int
	if err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE restricted_job IS NULL`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := `
		SELECT id, name, email, is_admin, password_hash, restricted_job, created_at
		FROM users WHERE restricted_job IS NULL ORDER BY id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUserRows(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// SetPassword replaces a user's password hash
func (s *UserStorage) SetPassword(ctx context.Context, name string, passwordHash string) error {
	result, err := s.db.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE name = ?`, passwordHash, name)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.NotFoundf("user %s", name)
	}
	return nil
}

// CountAdmins returns the number of admin users; used for startup seeding
func (s *UserStorage) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE is_admin = 1`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row *sql.Row) (*models.User, error) {
	user, err := scanUserRows(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("user")
	}
	return user, err
}

func scanUserRows(row rowScanner) (*models.User, error) {
	var (
		user          models.User
		email         sql.NullString
		isAdmin       int
		passwordHash  sql.NullString
		restrictedJob sql.NullInt64
		createdAt     int64
	)

	err := row.Scan(&user.ID, &user.Name, &email, &isAdmin, &passwordHash, &restrictedJob, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Email = email.String
	user.IsAdmin = isAdmin != 0
	user.PasswordHash = passwordHash.String
	if restrictedJob.Valid {
		user.RestrictedJob = &restrictedJob.Int64
	}
	user.CreatedAt = time.Unix(createdAt, 0)

	return &user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{Valid: true, String: s}
}
