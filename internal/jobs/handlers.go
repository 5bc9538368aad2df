package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// ResetPurger clears password reset tokens that expired at or before now.
type ResetPurger interface {
	PurgeExpiredResets(ctx context.Context, now time.Time) (int64, error)
}

// Handlers holds the dependencies of the task handlers.
type Handlers struct {
	Resets ResetPurger
	Log    zerolog.Logger
	clock  func() time.Time
}

func NewHandlers(resets ResetPurger, log zerolog.Logger) *Handlers {
	return &Handlers{Resets: resets, Log: log, clock: func() time.Time { return time.Now().UTC() }}
}

// Register attaches every handler to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessDocument, h.ProcessDocument)
	mux.HandleFunc(TaskProcessPending, h.ProcessPending)
	mux.HandleFunc(TaskGenerateHealthReport, h.GenerateHealthReport)
	mux.HandleFunc(TaskSendMedicationReminder, h.SendMedicationReminder)
	mux.HandleFunc(TaskSendPasswordReset, h.SendPasswordReset)
	mux.HandleFunc(TaskCleanupExpiredSessions, h.CleanupExpiredSessions)
	mux.HandleFunc(TaskAnalyzeMedicalData, h.AnalyzeMedicalData)
	mux.HandleFunc(TaskProcessDrugInteractions, h.ProcessDrugInteractions)
}

func (h *Handlers) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var p DocumentPayload
	if err := decode(t, &p); err != nil || p.DocumentID == "" {
		return asynq.SkipRetry
	}
	h.logger(t).Info().Str("document_id", p.DocumentID).Msg("OCR processing not implemented yet")
	return nil
}

func (h *Handlers) ProcessPending(ctx context.Context, t *asynq.Task) error {
	h.logger(t).Debug().Msg("no pending documents to process")
	return nil
}

func (h *Handlers) GenerateHealthReport(ctx context.Context, t *asynq.Task) error {
	var p HealthReportPayload
	if err := decode(t, &p); err != nil || p.ProfileID == "" {
		return asynq.SkipRetry
	}
	h.logger(t).Info().Str("profile_id", p.ProfileID).Str("report_type", p.ReportType).
		Msg("report generation not implemented yet")
	return nil
}

func (h *Handlers) SendMedicationReminder(ctx context.Context, t *asynq.Task) error {
	var p MedicationReminderPayload
	if err := decode(t, &p); err != nil || p.ProfileID == "" || p.MedicationID == "" {
		return asynq.SkipRetry
	}
	h.logger(t).Info().Str("profile_id", p.ProfileID).Str("medication_id", p.MedicationID).
		Msg("medication reminder delivery not implemented yet")
	return nil
}

const msgResetExpired = "reset token expired before delivery; dropping"

// SendPasswordReset stands in for email delivery.  The token itself is never
// logged.
func (h *Handlers) SendPasswordReset(ctx context.Context, t *asynq.Task) error {
	var p PasswordResetPayload
	if err := decode(t, &p); err != nil || p.Email == "" || p.Token == "" {
		return asynq.SkipRetry
	}
	log := h.logger(t).With().Str("email", p.Email).Time("expires_at", p.ExpiresAt).Logger()
	if !p.ExpiresAt.IsZero() && !h.now().Before(p.ExpiresAt) {
		log.Warn().Msg(msgResetExpired)
		return nil
	}
	log.Info().Msg("password reset email delivery not implemented yet")
	return nil
}

// CleanupExpiredSessions clears expired reset tokens.
func (h *Handlers) CleanupExpiredSessions(ctx context.Context, t *asynq.Task) error {
	if h.Resets == nil {
		return errors.New("cleanup: reset store not configured")
	}
	n, err := h.Resets.PurgeExpiredResets(ctx, h.now())
	if err != nil {
		return fmt.Errorf("purge expired resets: %w", err)
	}
	h.logger(t).Info().Int64("cleared", n).Msg("expired reset tokens cleared")
	return nil
}

func (h *Handlers) AnalyzeMedicalData(ctx context.Context, t *asynq.Task) error {
	var p ProfilePayload
	if err := decode(t, &p); err != nil || p.ProfileID == "" {
		return asynq.SkipRetry
	}
	h.logger(t).Info().Str("profile_id", p.ProfileID).Msg("AI analysis not implemented yet")
	return nil
}

func (h *Handlers) ProcessDrugInteractions(ctx context.Context, t *asynq.Task) error {
	var p ProfilePayload
	if err := decode(t, &p); err != nil || p.ProfileID == "" {
		return asynq.SkipRetry
	}
	h.logger(t).Info().Str("profile_id", p.ProfileID).Msg("drug interaction check not implemented yet")
	return nil
}

func (h *Handlers) logger(t *asynq.Task) *zerolog.Logger {
	l := h.Log.With().Str("task", t.Type()).Logger()
	return &l
}

func (h *Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now().UTC()
}

func decode(t *asynq.Task, v any) error {
	return json.Unmarshal(t.Payload(), v)
}
