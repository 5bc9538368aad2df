package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo persists the token bookkeeping columns of the users table: the
// digest of the single live refresh token and the outstanding password reset
// token.  Every state transition is a single conditional UPDATE so that
// concurrent requests for the same user cannot both win.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StartSession stores the refresh digest issued at login and stamps last_login.
func (r *TokenRepo) StartSession(ctx context.Context, userID, refreshHash string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=?, last_login=? WHERE id=?",
		refreshHash, at.UTC(), userID)
	return err
}

// RotateRefresh swaps oldHash for newHash.  It returns ErrStaleToken when
// oldHash is not the stored digest (rotated away, logged out) or the account
// is no longer active.
func (r *TokenRepo) RotateRefresh(ctx context.Context, userID, oldHash, newHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=? WHERE id=? AND refresh_token_hash=? AND is_active=TRUE",
		newHash, userID, oldHash)
	return expectOneRow(res, err)
}

// ClearRefresh forgets the live refresh token of userID.
func (r *TokenRepo) ClearRefresh(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=NULL WHERE id=?", userID)
	return err
}

// StoreReset records a reset token digest and its expiry, overwriting any
// previous one.
func (r *TokenRepo) StoreReset(ctx context.Context, userID, tokenHash string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_reset_token=?, password_reset_expires=? WHERE id=?",
		tokenHash, expires.UTC(), userID)
	return err
}

// ConsumeReset replaces the password and clears the reset fields in one
// statement, but only while tokenHash is the stored, unexpired token for
// email.  A second call with the same token returns ErrStaleToken.
func (r *TokenRepo) ConsumeReset(ctx context.Context, email, tokenHash, newPasswordHash string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, password_reset_token=NULL, password_reset_expires=NULL "+
			"WHERE email=? AND password_reset_token=? AND password_reset_expires>?",
		newPasswordHash, email, tokenHash, now.UTC())
	return expectOneRow(res, err)
}

// PurgeExpiredResets clears reset tokens whose expiry is at or before now and
// reports how many rows were cleaned.
func (r *TokenRepo) PurgeExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_reset_token=NULL, password_reset_expires=NULL "+
			"WHERE password_reset_expires IS NOT NULL AND password_reset_expires<=?",
		now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleToken
	}
	return nil
}
