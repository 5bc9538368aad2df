package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context" // bounded context for the user lookup
	"strings" // string utilities for prefix checking and trimming
	"time"    // lookup timeout

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/personal-health-manager/internal/apperr" // typed errors rendered by the HTTP error handler
	"github.com/iliyamo/personal-health-manager/internal/model"  // resolved user stored in the context
)

// MsgNotAuthenticated is returned when no bearer token accompanies a request
// to a protected route.
const MsgNotAuthenticated = "Not authenticated"

// Authenticator resolves an access token to an active user.  The auth
// service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.User, error)
}

// RequireUser returns an Echo middleware guarding protected routes.  It reads
// the Bearer token from the Authorization header, resolves it through auth
// and stores the user in the context under "user" (and its ID under
// "user_id").  Failures are returned as *apperr.Error values so the central
// error handler renders them: 401 for a missing or bad token or an unknown
// user, 403 for an inactive account.
func RequireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperr.Authentication(MsgNotAuthenticated)
			}

			// Bound the user lookup the same way handlers bound store calls.
			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			u, err := auth.Authenticate(ctx, raw)
			if err != nil {
				return err
			}
			c.Set(userKey, u)
			c.Set(userIDKey, u.ID)
			return next(c)
		}
	}
}

// bearerToken extracts the credential of an "Authorization: Bearer <token>"
// header.  The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
