package dto

import (
	"github.com/ignatzorin/freelance-payments/internal/models"
)

// ErrorResponse — стандартный формат ошибки.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse — стандартный формат успешного ответа с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreatePaymentResponse — созданный платёж вместе с client secret интента,
// по которому фронтенд плательщика привязывает способ оплаты.
type CreatePaymentResponse struct {
	*models.Payment
	ClientSecret string `json:"client_secret"`
}

// OnboardAccountResponse — привязка аккаунта и ссылка онбординга.
type OnboardAccountResponse struct {
	*models.PayeeAccount
	OnboardingURL string `json:"onboarding_url"`
}

// PaymentListResponse — страница платежей пользователя.
type PaymentListResponse struct {
	Payments []models.Payment `json:"payments"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// SweepResponse — результат ручного запуска фоновой задачи.
type SweepResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
