package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusCancelled   = "cancelled"
)

// Dispute фиксирует передачу платежа в спор. Само разбирательство
// ведётся вне этого сервиса, здесь хранится только факт и причина.
type Dispute struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PaymentID   uuid.UUID  `db:"payment_id" json:"payment_id"`
	InitiatorID uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`
	ExternalID  *string    `db:"external_id" json:"external_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
