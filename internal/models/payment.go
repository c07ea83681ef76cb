package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы платежа
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusDisputed   = "disputed"
)

// Статусы escrow
const (
	EscrowStatusHeld      = "held"
	EscrowStatusReleased  = "released"
	EscrowStatusRefunded  = "refunded"
	EscrowStatusCancelled = "cancelled"
)

// Payment представляет одно движение средств по контракту/этапу.
// Все суммы хранятся в минимальных единицах валюты (копейки/центы),
// чтобы исключить дрейф округления при расчёте комиссии.
type Payment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ContractID  uuid.UUID  `db:"contract_id" json:"contract_id"`
	MilestoneID *uuid.UUID `db:"milestone_id" json:"milestone_id,omitempty"`

	PayerID uuid.UUID `db:"payer_id" json:"payer_id"`
	PayeeID uuid.UUID `db:"payee_id" json:"payee_id"`

	Amount      int64  `db:"amount" json:"amount"`
	FeeBPS      int64  `db:"fee_bps" json:"fee_bps"`
	PlatformFee int64  `db:"platform_fee" json:"platform_fee"`
	NetAmount   int64  `db:"net_amount" json:"net_amount"`
	Currency    string `db:"currency" json:"currency"`

	ExternalIntentID   string  `db:"external_intent_id" json:"external_intent_id"`
	ExternalChargeID   *string `db:"external_charge_id" json:"external_charge_id,omitempty"`
	ExternalTransferID *string `db:"external_transfer_id" json:"external_transfer_id,omitempty"`
	ExternalRefundID   *string `db:"external_refund_id" json:"external_refund_id,omitempty"`

	Status       string `db:"status" json:"status"`
	EscrowStatus string `db:"escrow_status" json:"escrow_status"`

	AutoRelease   bool       `db:"auto_release" json:"auto_release"`
	AutoReleaseAt *time.Time `db:"auto_release_at" json:"auto_release_at,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	ReleasedAt  *time.Time `db:"released_at" json:"released_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	LastWebhookEventID *string    `db:"last_webhook_event_id" json:"last_webhook_event_id,omitempty"`
	LastWebhookType    *string    `db:"last_webhook_type" json:"last_webhook_type,omitempty"`
	LastWebhookAt      *time.Time `db:"last_webhook_at" json:"last_webhook_at,omitempty"`
}

// SplitFee делит сумму на комиссию платформы и чистую выплату исполнителю.
// Комиссия задаётся в базисных пунктах (500 = 5%). Инвариант:
// amount == fee + net всегда, остаток округления уходит в net.
func SplitFee(amount, feeBPS int64) (fee, net int64) {
	fee = amount * feeBPS / 10000
	net = amount - fee
	return fee, net
}

// IsEscrowTerminal сообщает, является ли статус escrow финальным.
// Из финального состояния переходы не допускаются.
func IsEscrowTerminal(escrowStatus string) bool {
	switch escrowStatus {
	case EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled:
		return true
	}
	return false
}

// IsParty проверяет, что пользователь является стороной платежа.
func (p *Payment) IsParty(userID uuid.UUID) bool {
	return p.PayerID == userID || p.PayeeID == userID
}

// PaymentStats агрегированная статистика по платежам пользователя.
type PaymentStats struct {
	TotalCount     int   `db:"total_count" json:"total_count"`
	PendingCount   int   `db:"pending_count" json:"pending_count"`
	CompletedCount int   `db:"completed_count" json:"completed_count"`
	RefundedCount  int   `db:"refunded_count" json:"refunded_count"`
	DisputedCount  int   `db:"disputed_count" json:"disputed_count"`
	HeldAmount     int64 `db:"held_amount" json:"held_amount"`
	ReleasedAmount int64 `db:"released_amount" json:"released_amount"`
	FeesPaid       int64 `db:"fees_paid" json:"fees_paid"`
}
