package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/repository"
)

// UserDB implements repository.UserRepository.
type UserDB struct {
	conn *sql.DB
}

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

const userColumns = `id, email, first_name, last_name, phone, password_hash,
	is_active, is_staff, created_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u         model.User
		phone     sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&phone,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsStaff,
		&u.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}
	if phone.Valid {
		u.Phone = &phone.String
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

// CreateUser inserts user, filling in ID and CreatedAt.
// Email is expected to be normalized already.
func (db *UserDB) CreateUser(ctx context.Context, user *model.User) error {
	return insertUser(ctx, db.conn, user)
}

func insertUser(ctx context.Context, q querier, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, phone, password_hash, is_active, is_staff, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.PasswordHash,
		user.IsActive,
		user.IsStaff,
		user.CreatedAt,
	)
	if err != nil {
		switch {
		case violates(err, "users.email"):
			return apperror.ConflictMessage("email", "This Email already exists.")
		case violates(err, "users.phone"):
			return apperror.ConflictMessage("phone", "Phone already in use")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUserBy(ctx, db.conn, "id", id)
}

// GetUserByEmail looks a user up by normalized email.
func (db *UserDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return getUserBy(ctx, db.conn, "email", email)
}

func getUserBy(ctx context.Context, q querier, column, value string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

// PhoneInUse reports whether any user already has phone.
func (db *UserDB) PhoneInUse(ctx context.Context, phone string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE phone = ?`, phone,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking phone: %w", err)
	}
	return n > 0, nil
}

// UpdateProfile writes only the fields set in update.
func (db *UserDB) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) error {
	if update.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	if update.FirstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, *update.FirstName)
	}
	if update.LastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, *update.LastName)
	}
	args = append(args, id)

	return db.execOne(ctx, id,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

// Activate marks the user active. Activating an active user is a no-op.
func (db *UserDB) Activate(ctx context.Context, id string) error {
	return db.execOne(ctx, id, `UPDATE users SET is_active = 1 WHERE id = ?`, id)
}

// TouchLastLogin records a successful login.
func (db *UserDB) TouchLastLogin(ctx context.Context, id string) error {
	return db.execOne(ctx, id, `UPDATE users SET last_login = ? WHERE id = ?`, time.Now().UTC(), id)
}

// DeleteUser removes the user and, through the foreign key, its identities.
// Used to roll back a registration whose activation mail could not be sent.
func (db *UserDB) DeleteUser(ctx context.Context, id string) error {
	return db.execOne(ctx, id, `DELETE FROM users WHERE id = ?`, id)
}

// execOne runs a statement that must hit exactly the row for id.
func (db *UserDB) execOne(ctx context.Context, id, query string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: writing user %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}
