package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusAndCode(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		code   string
	}{
		{Authentication("x"), http.StatusUnauthorized, "AUTH_ERROR"},
		{Authorization("x"), http.StatusForbidden, "AUTHZ_ERROR"},
		{NotFound("x"), http.StatusNotFound, "NOT_FOUND"},
		{Conflict("x"), http.StatusConflict, "CONFLICT"},
		{Validation("x"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{&Error{Kind: KindRateLimit}, http.StatusTooManyRequests, "RATE_LIMIT_ERROR"},
		{&Error{Kind: KindStorage}, http.StatusInternalServerError, "STORAGE_ERROR"},
		{&Error{Kind: KindInternal}, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.Status(), tc.code)
		assert.Equal(t, tc.code, tc.err.Code())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("outer: %w", Wrap(KindValidation, "Login failed", cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindAuthentication))

	ae, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, "Login failed: connection refused", ae.Error())
}

func TestWithDetails_DoesNotMutate(t *testing.T) {
	base := Validation("Invalid request data")
	withDetails := base.WithDetails(map[string]string{"email": "required"})

	assert.Nil(t, base.Details)
	assert.NotNil(t, withDetails.Details)
}
