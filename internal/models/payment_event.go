package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий аудита платежа
const (
	PaymentEventCreated        = "created"
	PaymentEventConfirmed      = "confirmed"
	PaymentEventReleased       = "released"
	PaymentEventRefunded       = "refunded"
	PaymentEventFailed         = "failed"
	PaymentEventCancelled      = "cancelled"
	PaymentEventDisputed       = "disputed"
	PaymentEventWebhookApplied = "webhook_applied"
	PaymentEventWebhookSkipped = "webhook_skipped"
	PaymentEventDiverged       = "gateway_diverged"
)

// PaymentEvent — запись append-only журнала аудита платежа.
// Сам Payment хранит только текущее состояние, история изменений
// живёт отдельно и никогда не мутируется.
type PaymentEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PaymentID uuid.UUID `db:"payment_id" json:"payment_id"`
	EventType string    `db:"event_type" json:"event_type"`
	Detail    *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
