package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ignatzorin/freelance-payments/internal/gateway"
	"github.com/ignatzorin/freelance-payments/internal/logger"
	"github.com/ignatzorin/freelance-payments/internal/metrics"
	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
)

// WebhookEventStore — хранилище дедупликации событий шлюза.
type WebhookEventStore interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	MarkCompleted(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, errorMessage string) error
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.ProcessedWebhookEvent, error)
	PruneCompleted(ctx context.Context, olderThan time.Time) (int64, error)
}

// PaymentApplier — переходы платежей, которые webhook'у позволено
// запрашивать у escrow ledger'а.
type PaymentApplier interface {
	ApplyIntentSucceeded(ctx context.Context, intentID, eventID, eventType string) error
	ApplyIntentFailed(ctx context.Context, intentID, eventID, eventType, reason string) error
	ApplyChargeRefunded(ctx context.Context, intentID, eventID, eventType, refundID string) error
	ApplyDisputeCreated(ctx context.Context, intentID, eventID, eventType string) error
}

// AccountSync обновляет готовность connected-аккаунта по account.updated.
type AccountSync interface {
	SyncEligibility(ctx context.Context, externalAccountID string, payoutsEnabled, detailsSubmitted bool) error
}

// DisputeRecorder создаёт hand-off запись спора, пришедшего со стороны шлюза.
type DisputeRecorder interface {
	RecordFromGateway(ctx context.Context, intentID, externalID, reason string) error
}

// WebhookService — reconciler входящих событий шлюза. Проверяет подпись,
// дедуплицирует по event id и транслирует событие в переход состояния.
// Сам состояние платежей не меняет: всё идёт через PaymentApplier.
type WebhookService struct {
	events   WebhookEventStore
	payments PaymentApplier
	accounts AccountSync
	disputes DisputeRecorder

	secret    string
	tolerance time.Duration
}

func NewWebhookService(events WebhookEventStore, payments PaymentApplier, accounts AccountSync, disputes DisputeRecorder, secret string, tolerance time.Duration) *WebhookService {
	if tolerance <= 0 {
		tolerance = gateway.DefaultSignatureTolerance
	}
	return &WebhookService{
		events:    events,
		payments:  payments,
		accounts:  accounts,
		disputes:  disputes,
		secret:    secret,
		tolerance: tolerance,
	}
}

// HandleEvent обрабатывает сырое webhook событие. Ошибка подписи —
// единственный случай, когда вызывающий должен ответить шлюзу 4xx;
// все остальные исходы (дубликат, незнакомый тип, ошибка обработки)
// подтверждаются, чтобы шлюз не переигрывал доставку бесконечно.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := gateway.VerifySignature(payload, signatureHeader, s.secret, s.tolerance); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return err
	}

	var event gateway.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		return apperror.Wrap(err, apperror.ErrCodeValidation, "не удалось разобрать webhook событие")
	}
	if event.ID == "" || event.Type == "" {
		metrics.WebhookEvents.WithLabelValues(event.Type, "malformed").Inc()
		return apperror.New(apperror.ErrCodeValidation, "webhook событие без id или типа")
	}

	claimed, err := s.events.Claim(ctx, event.ID, event.Type)
	if err != nil {
		return err
	}
	if !claimed {
		// Повторная доставка или конкурентный дубликат — no-op.
		metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	log := logger.WithComponent("webhooks").
		WithField("event_id", event.ID).
		WithField("event_type", event.Type)

	if err := s.dispatch(ctx, &event); err != nil {
		if apperror.IsNotFound(err) {
			// Событие по интенту, которого у нас нет (чужая интеграция,
			// ручные операции в дашборде шлюза). Подтверждаем и забываем.
			log.Warn("событие не сопоставлено ни с одним платежом")
			metrics.WebhookEvents.WithLabelValues(event.Type, "unmatched").Inc()
			return s.events.MarkCompleted(ctx, event.ID)
		}

		log.Errorf("ошибка обработки события: %v", err)
		metrics.WebhookEvents.WithLabelValues(event.Type, "failed").Inc()
		if markErr := s.events.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Errorf("не удалось пометить событие failed: %v", markErr)
		}
		return err
	}

	metrics.WebhookEvents.WithLabelValues(event.Type, "processed").Inc()
	return s.events.MarkCompleted(ctx, event.ID)
}

func (s *WebhookService) dispatch(ctx context.Context, event *gateway.Event) error {
	switch event.Type {
	case gateway.EventIntentSucceeded:
		var intent gateway.PaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "невалидный payment_intent в событии")
		}
		return s.payments.ApplyIntentSucceeded(ctx, intent.ID, event.ID, event.Type)

	case gateway.EventIntentFailed:
		var object struct {
			ID               string `json:"id"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		}
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "невалидный payment_intent в событии")
		}
		return s.payments.ApplyIntentFailed(ctx, object.ID, event.ID, event.Type, object.LastPaymentError.Message)

	case gateway.EventChargeRefunded:
		var charge gateway.EventCharge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "невалидный charge в событии")
		}
		refundID := ""
		if len(charge.Refunds.Data) > 0 {
			refundID = charge.Refunds.Data[0].ID
		}
		return s.payments.ApplyChargeRefunded(ctx, charge.PaymentIntent, event.ID, event.Type, refundID)

	case gateway.EventDisputeCreated:
		var dispute gateway.EventDispute
		if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "невалидный dispute в событии")
		}
		if err := s.payments.ApplyDisputeCreated(ctx, dispute.PaymentIntent, event.ID, event.Type); err != nil {
			return err
		}
		if s.disputes != nil {
			if err := s.disputes.RecordFromGateway(ctx, dispute.PaymentIntent, dispute.ID, dispute.Reason); err != nil {
				// Переход уже применён, hand-off запись вторична.
				logger.WithComponent("webhooks").Errorf("не удалось записать спор: %v", err)
			}
		}
		return nil

	case gateway.EventAccountUpdated:
		var account gateway.Account
		if err := json.Unmarshal(event.Data.Object, &account); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "невалидный account в событии")
		}
		return s.accounts.SyncEligibility(ctx, account.ID, account.PayoutsEnabled, account.DetailsSubmitted)

	default:
		// Незнакомые типы подтверждаем: endpoint подписан на больше
		// событий, чем сервис умеет применять.
		logger.WithComponent("webhooks").
			WithField("event_type", event.Type).
			Debug("событие неизвестного типа пропущено")
		return nil
	}
}

// ListStuckEvents возвращает события, зависшие в processing дольше порога.
func (s *WebhookService) ListStuckEvents(ctx context.Context, olderThan time.Duration, limit int) ([]models.ProcessedWebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.events.ListStuck(ctx, time.Now().Add(-olderThan), limit)
}

// PruneCompleted удаляет обработанные события старше окна хранения.
func (s *WebhookService) PruneCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("webhook service: retention must be positive")
	}
	return s.events.PruneCompleted(ctx, time.Now().Add(-retention))
}
