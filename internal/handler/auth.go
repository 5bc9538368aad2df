package handler

import (
	"context"  // provides context with cancellation for store calls
	"net/http" // HTTP status codes and primitives
	"time"     // timeouts for store calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/personal-health-manager/internal/middleware" // authenticated user lookup
	"github.com/iliyamo/personal-health-manager/internal/model"      // user record
	"github.com/iliyamo/personal-health-manager/internal/service"    // session flow
)

// AuthFlow is the session flow the handlers drive.  *service.AuthService
// implements it.
type AuthFlow interface {
	Register(ctx context.Context, in service.RegisterInput) (model.User, error)
	Login(ctx context.Context, email, password string) (service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (service.TokenPair, error)
	Logout(ctx context.Context, u model.User) error
	ChangePassword(ctx context.Context, u model.User, current, next string) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Flow AuthFlow
}

func NewAuthHandler(flow AuthFlow) *AuthHandler {
	return &AuthHandler{Flow: flow}
}

// ----- DTOs -----

type registerReq struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8,maxbytes=72"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

// loginReq accepts the OAuth2 password form (username/password) either
// form-encoded or as JSON.  username carries the email address.
type loginReq struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

type forgotPasswordReq struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordReq struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

type messageResp struct {
	Message string `json:"message"`
}

// userResp is the public representation of a user.  Password and token
// bookkeeping never leave the process.
type userResp struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  *string    `json:"first_name"`
	LastName   *string    `json:"last_name"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	LastLogin  *time.Time `json:"last_login"`
}

func toUserResp(u model.User) userResp {
	r := userResp{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLogin,
	}
	if !u.UpdatedAt.IsZero() {
		updated := u.UpdatedAt
		r.UpdatedAt = &updated
	}
	return r
}

// storeCtx bounds the store calls made on behalf of one request.
func storeCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// Register: create an account; no tokens are issued until login.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeCtx(c)
	defer cancel()

	u, err := h.Flow.Register(ctx, service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login: verify credentials and return a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeCtx(c)
	defer cancel()

	pair, err := h.Flow.Login(ctx, req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh: exchange the current refresh token for a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeCtx(c)
	defer cancel()

	pair, err := h.Flow.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout: forget the refresh token of the current user (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
	u, _ := middleware.CurrentUser(c)
	ctx, cancel := storeCtx(c)
	defer cancel()

	if err := h.Flow.Logout(ctx, u); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Message: service.MsgLoggedOut})
}

// ChangePassword: replace the password of the current user (protected).
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	u, _ := middleware.CurrentUser(c)
	ctx, cancel := storeCtx(c)
	defer cancel()

	if err := h.Flow.ChangePassword(ctx, u, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Message: service.MsgPasswordChanged})
}

// ForgotPassword: always answers with the same message.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeCtx(c)
	defer cancel()

	msg, err := h.Flow.ForgotPassword(ctx, req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Message: msg})
}

// ResetPassword: consume a reset token and set the new password.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeCtx(c)
	defer cancel()

	if err := h.Flow.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Message: service.MsgPasswordReset})
}

// Me returns the authenticated user (protected).
func (h *AuthHandler) Me(c echo.Context) error {
	u, _ := middleware.CurrentUser(c)
	return c.JSON(http.StatusOK, toUserResp(u))
}
