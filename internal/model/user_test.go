package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestUserFullName(t *testing.T) {
	cases := []struct {
		name  string
		first *string
		last  *string
		want  string
	}{
		{"both", strPtr("Alice"), strPtr("Smith"), "Alice Smith"},
		{"first only", strPtr("Alice"), nil, "Alice"},
		{"last only", nil, strPtr("Smith"), "Smith"},
		{"empty strings", strPtr(""), strPtr(""), "alice@example.com"},
		{"neither", nil, nil, "alice@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := User{Email: "alice@example.com", FirstName: tc.first, LastName: tc.last}
			assert.Equal(t, tc.want, u.FullName())
		})
	}
}

func TestUserHasPendingReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Second)

	assert.False(t, User{}.HasPendingReset(now))
	assert.True(t, User{PasswordResetToken: strPtr("h"), PasswordResetExpires: &later}.HasPendingReset(now))
	assert.False(t, User{PasswordResetToken: strPtr("h"), PasswordResetExpires: &earlier}.HasPendingReset(now))
	assert.False(t, User{PasswordResetToken: strPtr("h"), PasswordResetExpires: &now}.HasPendingReset(now))
}
