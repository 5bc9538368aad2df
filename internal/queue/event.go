// Package queue carries authentication domain events over RabbitMQ: a
// buffered publisher used by the API process and a consumer run by the
// worker process that writes the audit trail to logs/auth.log.
package queue

import "time"

// AuthEventsQueue is the durable queue every auth event is routed to.
const AuthEventsQueue = "auth.events"

// Event types published by the session flow.
const (
	EventUserRegistered         = "user.registered"
	EventUserLoggedIn           = "user.logged_in"
	EventPasswordChanged        = "user.password_changed"
	EventPasswordResetRequested = "user.password_reset_requested"
	EventPasswordReset          = "user.password_reset"
)

// AuthEvent is the message body published for each event.  ResetToken and
// ExpiresAt are only set on password reset requests so the notification job
// can deliver the link.
type AuthEvent struct {
	Type       string     `json:"type"`
	UserID     string     `json:"user_id,omitempty"`
	Email      string     `json:"email"`
	ResetToken string     `json:"reset_token,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
