// Package jobs defines the background tasks processed by the worker through
// asynq: OCR, report generation, notifications and AI analysis.  Apart from
// the session cleanup task they are placeholders that log and succeed.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Queue names and their relative priorities.
const (
	QueueOCR           = "ocr"
	QueueReports       = "reports"
	QueueNotifications = "notifications"
	QueueAI            = "ai"
)

// Task type names.
const (
	TaskProcessDocument         = "ocr:process_document"
	TaskProcessPending          = "ocr:process_pending"
	TaskGenerateHealthReport    = "reports:generate_health_report"
	TaskSendMedicationReminder  = "notifications:send_medication_reminder"
	TaskSendPasswordReset       = "notifications:send_password_reset"
	TaskCleanupExpiredSessions  = "notifications:cleanup_expired_sessions"
	TaskAnalyzeMedicalData      = "ai:analyze_medical_data"
	TaskProcessDrugInteractions = "ai:process_drug_interactions"
)

// TaskTimeout bounds every task.
const TaskTimeout = 30 * time.Minute

// queueFor maps a task type to the queue it is enqueued on.
var queueFor = map[string]string{
	TaskProcessDocument:         QueueOCR,
	TaskProcessPending:          QueueOCR,
	TaskGenerateHealthReport:    QueueReports,
	TaskSendMedicationReminder:  QueueNotifications,
	TaskSendPasswordReset:       QueueNotifications,
	TaskCleanupExpiredSessions:  QueueNotifications,
	TaskAnalyzeMedicalData:      QueueAI,
	TaskProcessDrugInteractions: QueueAI,
}

type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

type HealthReportPayload struct {
	ProfileID  string `json:"profile_id"`
	ReportType string `json:"report_type"`
}

type MedicationReminderPayload struct {
	ProfileID    string `json:"profile_id"`
	MedicationID string `json:"medication_id"`
}

// PasswordResetPayload carries what an email sender needs to deliver a reset
// link.
type PasswordResetPayload struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ProfilePayload struct {
	ProfileID string `json:"profile_id"`
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return asynq.NewTask(typ, data, asynq.Queue(queueFor[typ]), asynq.Timeout(TaskTimeout)), nil
}

func NewProcessDocumentTask(documentID string) (*asynq.Task, error) {
	return newTask(TaskProcessDocument, DocumentPayload{DocumentID: documentID})
}

func NewProcessPendingTask() (*asynq.Task, error) { return newTask(TaskProcessPending, nil) }

func NewHealthReportTask(profileID, reportType string) (*asynq.Task, error) {
	return newTask(TaskGenerateHealthReport, HealthReportPayload{ProfileID: profileID, ReportType: reportType})
}

func NewMedicationReminderTask(profileID, medicationID string) (*asynq.Task, error) {
	return newTask(TaskSendMedicationReminder, MedicationReminderPayload{ProfileID: profileID, MedicationID: medicationID})
}

func NewPasswordResetTask(p PasswordResetPayload) (*asynq.Task, error) {
	return newTask(TaskSendPasswordReset, p)
}

func NewCleanupExpiredSessionsTask() (*asynq.Task, error) {
	return newTask(TaskCleanupExpiredSessions, nil)
}

func NewAnalyzeMedicalDataTask(profileID string) (*asynq.Task, error) {
	return newTask(TaskAnalyzeMedicalData, ProfilePayload{ProfileID: profileID})
}

func NewDrugInteractionsTask(profileID string) (*asynq.Task, error) {
	return newTask(TaskProcessDrugInteractions, ProfilePayload{ProfileID: profileID})
}
