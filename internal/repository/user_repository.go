package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/personal-health-manager/internal/model"
)

const userColumns = "id,email,password_hash,first_name,last_name,is_active,is_verified," +
	"refresh_token_hash,password_reset_token,password_reset_expires,last_login,created_at,updated_at"

// UserRepo reads and writes the identity columns of the users table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u, assigning an ID and timestamps when they are unset.
// A duplicate email yields ErrEmailExists and leaves u untouched.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id,email,password_hash,first_name,last_name,is_active,is_verified,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)",
		id, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive, u.IsVerified, now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// FindByEmail looks a user up by exact email.  found is false when no row
// matches; err is reserved for storage failures.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (model.User, bool, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	return scanUser(row)
}

// FindByID looks a user up by id with the same found/err contract as FindByEmail.
func (r *UserRepo) FindByID(ctx context.Context, id string) (model.User, bool, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// UpdatePassword replaces the password digest of user id.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE id=?", passwordHash, id)
	return err
}

func scanUser(row *sql.Row) (model.User, bool, error) {
	var (
		u                           model.User
		firstName, lastName         sql.NullString
		refreshHash, resetToken     sql.NullString
		resetExpires, lastLoginTime sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &firstName, &lastName, &u.IsActive, &u.IsVerified,
		&refreshHash, &resetToken, &resetExpires, &lastLoginTime, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	u.FirstName = nullString(firstName)
	u.LastName = nullString(lastName)
	u.RefreshTokenHash = nullString(refreshHash)
	u.PasswordResetToken = nullString(resetToken)
	u.PasswordResetExpires = nullTime(resetExpires)
	u.LastLogin = nullTime(lastLoginTime)
	return u, true, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
