package gateway

import "encoding/json"

// Статусы payment intent на стороне Stripe
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Типы webhook событий, которые сервис умеет обрабатывать
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded  = "charge.refunded"
	EventDisputeCreated  = "charge.dispute.created"
	EventAccountUpdated  = "account.updated"
)

// PaymentIntent — ответ Stripe по платёжному интенту.
type PaymentIntent struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Amount             int64  `json:"amount"`
	AmountReceived     int64  `json:"amount_received"`
	Currency           string `json:"currency"`
	ClientSecret       string `json:"client_secret"`
	LatestCharge       string `json:"latest_charge"`
	ApplicationFee     int64  `json:"application_fee_amount"`
	TransferByGroup    string `json:"transfer_group"`
	CancellationReason string `json:"cancellation_reason"`
}

// CreateIntentParams — параметры создания интента с ручным списанием
// и выплатой на connected-аккаунт исполнителя.
type CreateIntentParams struct {
	Amount             int64
	Currency           string
	ApplicationFee     int64
	DestinationAccount string
	// Metadata попадает в metadata[...] и позволяет связать интент
	// с платежом при разборе webhook событий.
	PaymentID  string
	ContractID string
}

// Refund — ответ Stripe по возврату.
type Refund struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Charge   string `json:"charge"`
	Reason   string `json:"reason"`
	Currency string `json:"currency"`
}

// Transfer — ответ Stripe по переводу на connected-аккаунт.
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// Account — connected-аккаунт исполнителя.
type Account struct {
	ID               string `json:"id"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Email            string `json:"email"`
}

// AccountLink — одноразовая ссылка онбординга.
type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// Event — конверт webhook события. Data.Object разбирается
// по месту в зависимости от Type; неизвестные типы не ошибка.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// EventCharge — усечённый charge из charge.refunded и dispute событий.
type EventCharge struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunded      bool   `json:"refunded"`
	AmountRefund  int64  `json:"amount_refunded"`
	Refunds       struct {
		Data []Refund `json:"data"`
	} `json:"refunds"`
}

// EventDispute — объект charge.dispute.created.
type EventDispute struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

// apiError — тело ошибки Stripe API.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
