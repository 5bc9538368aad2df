package middleware

// identity.go holds the context keys written by RequireUser and the helpers
// handlers and other middleware use to read the authenticated user back.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/personal-health-manager/internal/model"
)

const (
	userKey   = "user"
	userIDKey = "user_id"
)

// CurrentUser returns the user resolved by RequireUser.  ok is false on
// routes that are not guarded.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(userKey).(model.User)
	return u, ok
}

// currentUserID returns the authenticated user ID, or "anon" when the
// request carries no resolved user.
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(userIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
