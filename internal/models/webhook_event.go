package models

import "time"

// Статусы обработки webhook события
const (
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusCompleted  = "completed"
	WebhookEventStatusFailed     = "failed"
)

// ProcessedWebhookEvent — запись дедупликации и аудита входящих событий
// платёжного шлюза. Ключом служит идентификатор события на стороне шлюза,
// поэтому повторная доставка того же события становится no-op.
//
// Запись, застрявшая в статусе processing, означает падение процесса
// посреди обработки: такие события не переигрываются автоматически,
// а ждут внимания оператора.
type ProcessedWebhookEvent struct {
	EventID      string     `db:"event_id" json:"event_id"`
	EventType    string     `db:"event_type" json:"event_type"`
	Status       string     `db:"status" json:"status"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}
