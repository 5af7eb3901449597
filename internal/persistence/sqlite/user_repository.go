package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/trainer-scheduler/internal/persistence"
)

// UserRepository implements persistence.UserRepository over SQLite.
type UserRepository struct {
	store *Store
}

// NewUserRepository wires a repository onto the shared store.
func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

const userColumns = `id, email, display_name, role, password_hash, created_at, updated_at`

// CreateUser inserts a new account row.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Role,
		nullString(user.PasswordHash),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	return mapError(err)
}

// UpdateUser rewrites an existing account row.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	result, err := r.store.db.ExecContext(ctx,
		`UPDATE users SET email = ?, display_name = ?, role = ?, password_hash = ?, updated_at = ?
		 WHERE id = ?`,
		user.Email,
		user.DisplayName,
		user.Role,
		nullString(user.PasswordHash),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves one account by id.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.store.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves one account by email, case-insensitively.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsers returns accounts, optionally filtered by role.
func (r *UserRepository) ListUsers(ctx context.Context, role string) ([]persistence.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, role)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []persistence.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

// DeleteUser removes an account row.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (persistence.User, error) {
	var user persistence.User
	var createdAtStr, updatedAtStr string
	var passwordHash sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.Role,
		&passwordHash,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.User{}, mapError(err)
	}

	user.PasswordHash = stringPtr(passwordHash)
	if user.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}
