package dto

// CreatePaymentRequest — запрос создания платежа под этап контракта.
// Сумма в минимальных единицах валюты (копейки/центы).
type CreatePaymentRequest struct {
	PayeeID          string  `json:"payee_id" binding:"required"`
	ContractID       string  `json:"contract_id" binding:"required"`
	MilestoneID      *string `json:"milestone_id"`
	Amount           int64   `json:"amount" binding:"required,gt=0"`
	Currency         string  `json:"currency"`
	AutoRelease      bool    `json:"auto_release"`
	AutoReleaseHours int64   `json:"auto_release_hours"`
}

// ConfirmPaymentRequest — подтверждение оплаты плательщиком.
type ConfirmPaymentRequest struct {
	IntentID string `json:"intent_id" binding:"required"`
}

// RefundPaymentRequest — запрос возврата средств.
type RefundPaymentRequest struct {
	Reason string `json:"reason"`
}

// OpenDisputeRequest — запрос открытия спора по платежу.
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OnboardAccountRequest — запрос онбординга исполнителя.
type OnboardAccountRequest struct {
	Email string `json:"email" binding:"required,email"`
}
