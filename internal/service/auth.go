// Package service implements the session flow: registration, login, token
// refresh, logout, password change and the forgot/reset password exchange,
// plus the guard that resolves a bearer token to an active user.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/personal-health-manager/internal/apperr"
	"github.com/iliyamo/personal-health-manager/internal/model"
	"github.com/iliyamo/personal-health-manager/internal/queue"
	"github.com/iliyamo/personal-health-manager/internal/repository"
	"github.com/iliyamo/personal-health-manager/internal/utils"
)

// Client facing messages.  Login failures share one message so callers
// cannot tell a missing account from a wrong password or a disabled one.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgBadCredentials     = "Could not validate credentials"
	MsgInactiveAccount    = "User account is inactive"
	MsgEmailTaken         = "A user with this email already exists"
	MsgInvalidRefresh     = "Invalid or expired refresh token"
	MsgRefreshUser        = "User not found or inactive"
	MsgWrongPassword      = "Current password is incorrect"
	MsgInvalidReset       = "Invalid or expired reset token"
	MsgForgotPassword     = "If an account with this email exists, a password reset link has been sent."
	MsgLoggedOut          = "Successfully logged out"
	MsgPasswordChanged    = "Password changed successfully"
	MsgPasswordReset      = "Password reset successfully"
)

// UserStore is the identity side of the credential store.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (model.User, bool, error)
	FindByID(ctx context.Context, id string) (model.User, bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// TokenStore is the token bookkeeping side of the credential store.
type TokenStore interface {
	StartSession(ctx context.Context, userID, refreshHash string, at time.Time) error
	RotateRefresh(ctx context.Context, userID, oldHash, newHash string) error
	ClearRefresh(ctx context.Context, userID string) error
	StoreReset(ctx context.Context, userID, tokenHash string, expires time.Time) error
	ConsumeReset(ctx context.Context, email, tokenHash, newPasswordHash string, now time.Time) error
}

// EventPublisher receives auth domain events.  Failures never fail a request.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Users  UserStore
	Tokens TokenStore
	Hasher utils.PasswordHasher
	Issuer *utils.TokenIssuer
	Events EventPublisher // optional
	Log    zerolog.Logger
	Debug  bool // expose causes of internal failures in error details
	Now    func() time.Time
}

// AuthService is the session flow controller.
type AuthService struct {
	users  UserStore
	tokens TokenStore
	hasher utils.PasswordHasher
	issuer *utils.TokenIssuer
	events EventPublisher
	log    zerolog.Logger
	debug  bool
	now    func() time.Time

	// dummyHash is verified against when the account does not exist so a
	// failed login costs the same whatever the reason.
	dummyHash string
}

func NewAuthService(d AuthDeps) (*AuthService, error) {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	dummy, err := d.Hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &AuthService{
		users:     d.Users,
		tokens:    d.Tokens,
		hasher:    d.Hasher,
		issuer:    d.Issuer,
		events:    d.Events,
		log:       d.Log.With().Str("component", "auth").Logger(),
		debug:     d.Debug,
		now:       now,
		dummyHash: dummy,
	}, nil
}

// Register creates an active, unverified user.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	email := strings.TrimSpace(in.Email)
	if _, found, err := s.users.FindByEmail(ctx, email); err != nil {
		return model.User{}, s.failure("Registration failed", err)
	} else if found {
		return model.User{}, apperr.Conflict(MsgEmailTaken)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, s.failure("Registration failed", err)
	}
	u := model.User{
		Email:        email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, apperr.Conflict(MsgEmailTaken)
		}
		return model.User{}, s.failure("Registration failed", err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventUserRegistered, UserID: u.ID, Email: u.Email})
	return u, nil
}

// Login verifies credentials and starts a session, replacing any previous
// refresh token of the user.
func (s *AuthService) Login(ctx context.Context, email, password string) (TokenPair, error) {
	u, found, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return TokenPair{}, s.failure("Login failed", err)
	}
	if !found || !u.IsActive {
		s.hasher.Verify(password, s.dummyHash)
		return TokenPair{}, apperr.Authentication(MsgInvalidCredentials)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return TokenPair{}, apperr.Authentication(MsgInvalidCredentials)
	}

	pair, refresh, err := s.issuePair(u.ID)
	if err != nil {
		return TokenPair{}, s.failure("Login failed", err)
	}
	if err := s.tokens.StartSession(ctx, u.ID, utils.HashToken(refresh), s.now()); err != nil {
		return TokenPair{}, s.failure("Login failed", err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventUserLoggedIn, UserID: u.ID, Email: u.Email})
	return pair, nil
}

// Refresh exchanges the current refresh token for a new pair.  The presented
// token stops working once this succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, utils.KindRefresh)
	if err != nil {
		return TokenPair{}, apperr.Authentication(MsgInvalidRefresh)
	}
	u, found, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, s.failure("Token refresh failed", err)
	}
	if !found || !u.IsActive {
		return TokenPair{}, apperr.Authentication(MsgRefreshUser)
	}

	pair, refresh, err := s.issuePair(u.ID)
	if err != nil {
		return TokenPair{}, s.failure("Token refresh failed", err)
	}
	err = s.tokens.RotateRefresh(ctx, u.ID, utils.HashToken(refreshToken), utils.HashToken(refresh))
	if errors.Is(err, repository.ErrStaleToken) {
		return TokenPair{}, apperr.Authentication(MsgInvalidRefresh)
	}
	if err != nil {
		return TokenPair{}, s.failure("Token refresh failed", err)
	}
	return pair, nil
}

// Logout forgets the user's refresh token.  Access tokens already issued stay
// valid until they expire.
func (s *AuthService) Logout(ctx context.Context, u model.User) error {
	if err := s.tokens.ClearRefresh(ctx, u.ID); err != nil {
		return s.failure("Logout failed", err)
	}
	return nil
}

// ChangePassword replaces the password after re-checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, u model.User, current, next string) error {
	if !s.hasher.Verify(current, u.PasswordHash) {
		return apperr.Authentication(MsgWrongPassword)
	}
	digest, err := s.hasher.Hash(next)
	if err != nil {
		return s.failure("Password change failed", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, digest); err != nil {
		return s.failure("Password change failed", err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventPasswordChanged, UserID: u.ID, Email: u.Email})
	return nil
}

// ForgotPassword issues a reset token when email belongs to an account.  The
// returned message never depends on whether it does.  Failures after the
// lookup are logged and swallowed for the same reason.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	u, found, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", s.failure("Password reset request failed", err)
	}
	if !found {
		return MsgForgotPassword, nil
	}

	tok, err := s.issuer.IssueReset(u.Email)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", u.ID).Msg("issue reset token")
		return MsgForgotPassword, nil
	}
	if err := s.tokens.StoreReset(ctx, u.ID, utils.HashToken(tok.Token), tok.ExpiresAt); err != nil {
		s.log.Error().Err(err).Str("user_id", u.ID).Msg("store reset token")
		return MsgForgotPassword, nil
	}
	expires := tok.ExpiresAt
	s.publish(ctx, queue.AuthEvent{
		Type:       queue.EventPasswordResetRequested,
		UserID:     u.ID,
		Email:      u.Email,
		ResetToken: tok.Token,
		ExpiresAt:  &expires,
	})
	return MsgForgotPassword, nil
}

// ResetPassword consumes a reset token.  Each token works at most once and
// only while it is the latest one issued for the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.issuer.Verify(token, utils.KindReset)
	if err != nil {
		return apperr.Authentication(MsgInvalidReset)
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.failure("Password reset failed", err)
	}
	err = s.tokens.ConsumeReset(ctx, claims.Subject, utils.HashToken(token), digest, s.now())
	if errors.Is(err, repository.ErrStaleToken) {
		return apperr.Authentication(MsgInvalidReset)
	}
	if err != nil {
		return s.failure("Password reset failed", err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventPasswordReset, Email: claims.Subject})
	return nil
}

// Authenticate resolves an access token to its user.  Unknown users and bad
// tokens are Authentication errors; a valid token for a disabled account is
// an Authorization error.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (model.User, error) {
	claims, err := s.issuer.Verify(accessToken, utils.KindAccess)
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.KindAuthentication, MsgBadCredentials, err)
	}
	u, found, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		s.log.Error().Err(err).Msg("resolve token subject")
		return model.User{}, apperr.Wrap(apperr.KindAuthentication, MsgBadCredentials, err)
	}
	if !found {
		return model.User{}, apperr.Authentication(MsgBadCredentials)
	}
	if !u.IsActive {
		return model.User{}, apperr.Authorization(MsgInactiveAccount)
	}
	return u, nil
}

func (s *AuthService) issuePair(userID string) (TokenPair, string, error) {
	access, err := s.issuer.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, err := s.issuer.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
	}, refresh.Token, nil
}

// failure wraps an unexpected error as a generic Validation error.  The
// cause is only exposed in details when debug output is enabled.
func (s *AuthService) failure(msg string, cause error) error {
	s.log.Error().Err(cause).Msg(msg)
	e := apperr.Wrap(apperr.KindValidation, msg, cause)
	if s.debug {
		e.Details = map[string]string{"cause": cause.Error()}
	}
	return e
}

func (s *AuthService) publish(ctx context.Context, ev queue.AuthEvent) {
	if s.events == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("publish auth event")
	}
}
