package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeStateConflict    ErrorCode = "STATE_CONFLICT"
	ErrCodeGatewayRetryable ErrorCode = "GATEWAY_RETRYABLE"
	ErrCodeGatewayTerminal  ErrorCode = "GATEWAY_TERMINAL"
	ErrCodeSignature        ErrorCode = "SIGNATURE_INVALID"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeSignature:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeStateConflict:
		return http.StatusConflict
	case ErrCodeGatewayRetryable:
		return http.StatusBadGateway
	case ErrCodeGatewayTerminal:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return Is(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

func IsStateConflict(err error) bool {
	return Is(err, ErrCodeStateConflict)
}

// IsRetryableGateway различает временные сбои шлюза (таймаут, rate limit,
// обрыв соединения), после которых вызов можно повторить без изменения
// состояния платежа.
func IsRetryableGateway(err error) bool {
	return Is(err, ErrCodeGatewayRetryable)
}

func IsGateway(err error) bool {
	return Is(err, ErrCodeGatewayRetryable) || Is(err, ErrCodeGatewayTerminal)
}

func IsSignature(err error) bool {
	return Is(err, ErrCodeSignature)
}

var (
	ErrPaymentNotFound    = New(ErrCodeNotFound, "платёж не найден")
	ErrDisputeNotFound    = New(ErrCodeNotFound, "спор не найден")
	ErrAccountNotFound    = New(ErrCodeNotFound, "платёжный аккаунт не найден")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
	ErrNotPayoutEligible  = New(ErrCodeValidation, "исполнитель не прошёл онбординг выплат")
	ErrInvalidAmount      = New(ErrCodeValidation, "сумма должна быть положительной")
	ErrNotCapturable      = New(ErrCodeGatewayTerminal, "интент не готов к списанию")
	ErrInvalidSignature   = New(ErrCodeSignature, "подпись webhook не прошла проверку")
)
