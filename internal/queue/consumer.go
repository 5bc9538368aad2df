package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ResetNotifier schedules delivery of a password reset link.  The worker
// satisfies it with the job queue client.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// Consumer reads auth.events, appends one line per event to <LogDir>/auth.log
// and forwards reset requests to the notifier.
type Consumer struct {
	URL      string
	LogDir   string
	Notifier ResetNotifier
	Log      zerolog.Logger

	mu sync.Mutex // serializes writes to the audit file
}

// Run keeps a consumer attached to the broker until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log.With().Str("component", "event-consumer").Logger()
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.DialConfig(c.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial broker failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn().Err(err).Msg("set QoS failed")
	}
	if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, AuthEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Handle(ctx, d.Body); err != nil {
			requeue := shouldRequeue(err)
			c.Log.Error().Err(err).Bool("requeue", requeue).Msg("handle auth event failed")
			if requeue && !sleep(ctx, requeueDelay) {
				requeue = false
			}
			// malformed events are dropped so they cannot loop forever
			_ = d.Nack(false, requeue)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// requeueDelay spaces out redeliveries of events whose side effects failed.
const requeueDelay = time.Second

// ErrTransient marks a failure worth redelivering, such as the notifier
// being briefly unreachable.
var ErrTransient = errors.New("transient failure")

func shouldRequeue(err error) bool { return errors.Is(err, ErrTransient) }

// Handle processes a single message body.  The audit line is written only
// once the event has been fully handled, so a redelivered event is logged once.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev AuthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	if ev.Type == EventPasswordResetRequested && c.Notifier != nil {
		if ev.ResetToken == "" || ev.ExpiresAt == nil {
			return errors.New("reset request without token")
		}
		if err := c.Notifier.NotifyPasswordReset(ctx, ev.Email, ev.ResetToken, *ev.ExpiresAt); err != nil {
			return fmt.Errorf("enqueue reset notification: %w: %w", ErrTransient, err)
		}
	}
	// not retried: the notification has already gone out
	return c.appendAudit(ev)
}

func (c *Consumer) appendAudit(ev AuthEvent) error {
	dir := c.LogDir
	if dir == "" {
		dir = "logs"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "auth.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(auditLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// auditLine renders ev without the reset token.
func auditLine(ev AuthEvent) string {
	userID := ev.UserID
	if userID == "" {
		userID = "-"
	}
	return fmt.Sprintf("[%s] %s | user_id=%s | email=%q\n",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, userID, ev.Email)
}
