package model

import "time"

// User represents an account record as stored in the `users` table. Each
// field corresponds to a column in the database. The json tags are omitted
// here because these structs are used internally by the repository and
// service layers; handlers define separate response types so that password
// and token bookkeeping never leave the process.
//
// Fields:
//
//	ID                   – UUID primary key.
//	Email                – unique address, case-sensitive as stored.
//	PasswordHash         – bcrypt digest of the password.
//	FirstName, LastName  – optional display names.
//	IsActive             – inactive accounts cannot log in or use tokens.
//	IsVerified           – whether the email address has been confirmed.
//	RefreshTokenHash     – SHA-256 hex digest of the single live refresh token (nil after logout).
//	PasswordResetToken   – SHA-256 hex digest of the outstanding reset token.
//	PasswordResetExpires – expiry of PasswordResetToken; set whenever the token is.
//	LastLogin            – time of the last successful login.
//	CreatedAt, UpdatedAt – row timestamps.
type User struct {
	ID                   string     // users.id
	Email                string     // users.email
	PasswordHash         string     // users.password_hash
	FirstName            *string    // users.first_name (nullable)
	LastName             *string    // users.last_name (nullable)
	IsActive             bool       // users.is_active
	IsVerified           bool       // users.is_verified
	RefreshTokenHash     *string    // users.refresh_token_hash (nullable)
	PasswordResetToken   *string    // users.password_reset_token (nullable)
	PasswordResetExpires *time.Time // users.password_reset_expires (nullable)
	LastLogin            *time.Time // users.last_login (nullable)
	CreatedAt            time.Time  // users.created_at
	UpdatedAt            time.Time  // users.updated_at
}

// FullName returns "First Last" when both names are present, whichever one
// is set otherwise, and falls back to the email address.
func (u User) FullName() string {
	first, last := deref(u.FirstName), deref(u.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	return u.Email
}

// HasPendingReset reports whether a reset token is outstanding at now.
func (u User) HasPendingReset(now time.Time) bool {
	return u.PasswordResetToken != nil && u.PasswordResetExpires != nil && now.Before(*u.PasswordResetExpires)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
