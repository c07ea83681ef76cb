package models

import (
	"time"

	"github.com/google/uuid"
)

// PayeeAccount — привязка исполнителя к connected-аккаунту платёжного шлюза.
// Выплаты возможны только когда аккаунт прошёл онбординг и шлюз включил payouts.
type PayeeAccount struct {
	PayeeID           uuid.UUID `db:"payee_id" json:"payee_id"`
	ExternalAccountID string    `db:"external_account_id" json:"external_account_id"`
	PayoutsEnabled    bool      `db:"payouts_enabled" json:"payouts_enabled"`
	DetailsSubmitted  bool      `db:"details_submitted" json:"details_submitted"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// IsPayoutEligible сообщает, может ли исполнитель принимать выплаты.
func (a *PayeeAccount) IsPayoutEligible() bool {
	return a.PayoutsEnabled && a.DetailsSubmitted
}
