package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/gateway"
	"github.com/ignatzorin/freelance-payments/internal/goroutine"
	"github.com/ignatzorin/freelance-payments/internal/logger"
	"github.com/ignatzorin/freelance-payments/internal/metrics"
	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-payments/internal/repository"
)

// SystemCallerID — идентификатор системного вызова (планировщик, sweeper).
// Авторизация по сторонам платежа для него не применяется.
var SystemCallerID = uuid.Nil

// PaymentRepository описывает хранилище платежей с условными переходами.
type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkReleased(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundID string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	SetChargeID(ctx context.Context, id uuid.UUID, chargeID string) error
	TouchWebhook(ctx context.Context, id uuid.UUID, eventID, eventType string) error
	Stats(ctx context.Context, userID uuid.UUID) (*models.PaymentStats, error)
}

// PaymentGateway описывает операции платёжного шлюза, нужные ledger'у.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, params gateway.CreateIntentParams) (*gateway.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string, amountToCapture int64) (*gateway.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error)
	CreateRefund(ctx context.Context, intentID string, amount int64) (*gateway.Refund, error)
}

// PayoutEligibility проверяет готовность исполнителя принимать выплаты.
type PayoutEligibility interface {
	PayoutAccount(ctx context.Context, payeeID uuid.UUID) (accountID string, eligible bool, err error)
}

// AuditLog — append-only журнал событий платежа.
type AuditLog interface {
	Append(ctx context.Context, paymentID uuid.UUID, eventType string, detail *string) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error)
}

// PaymentNotifier доставляет уведомления сторонам платежа.
// Вызывается fire-and-forget: сбой доставки никогда не откатывает
// и не блокирует переход состояния.
type PaymentNotifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// CreatePaymentParams — входные параметры создания платежа.
type CreatePaymentParams struct {
	PayerID          uuid.UUID
	PayeeID          uuid.UUID
	ContractID       uuid.UUID
	MilestoneID      *uuid.UUID
	Amount           int64
	Currency         string
	AutoRelease      bool
	AutoReleaseAfter time.Duration
}

// PaymentService — escrow ledger. Единственный компонент, которому
// позволено менять статусы платежа; все остальные (webhook reconciler,
// планировщик) ходят через его методы.
type PaymentService struct {
	repo     PaymentRepository
	audit    AuditLog
	gw       PaymentGateway
	accounts PayoutEligibility
	notifier PaymentNotifier

	feeBPS             int64
	defaultAutoRelease time.Duration
}

func NewPaymentService(repo PaymentRepository, audit AuditLog, gw PaymentGateway, accounts PayoutEligibility, feeBPS int64, defaultAutoRelease time.Duration) *PaymentService {
	return &PaymentService{
		repo:               repo,
		audit:              audit,
		gw:                 gw,
		accounts:           accounts,
		feeBPS:             feeBPS,
		defaultAutoRelease: defaultAutoRelease,
	}
}

// SetNotifier подключает канал уведомлений (WebSocket hub).
func (s *PaymentService) SetNotifier(n PaymentNotifier) {
	s.notifier = n
}

// CreatePayment создаёт интент с ручным списанием и сохраняет платёж
// в состоянии (pending, held). Возвращает платёж и client secret, по
// которому плательщик привяжет способ оплаты на своей стороне.
//
// Если интент создан, а запись не сохранилась, интент отменяется
// компенсирующим вызовом — осиротевших интентов без записи не остаётся.
func (s *PaymentService) CreatePayment(ctx context.Context, params CreatePaymentParams) (*models.Payment, string, error) {
	if params.Amount <= 0 {
		return nil, "", apperror.ErrInvalidAmount
	}
	if params.PayerID == params.PayeeID {
		return nil, "", apperror.New(apperror.ErrCodeValidation, "плательщик и получатель не могут совпадать")
	}

	currency := params.Currency
	if currency == "" {
		currency = "rub"
	}

	accountID, eligible, err := s.accounts.PayoutAccount(ctx, params.PayeeID)
	if err != nil {
		return nil, "", err
	}
	if !eligible {
		return nil, "", apperror.ErrNotPayoutEligible
	}

	fee, net := models.SplitFee(params.Amount, s.feeBPS)

	intent, err := s.gw.CreatePaymentIntent(ctx, gateway.CreateIntentParams{
		Amount:             params.Amount,
		Currency:           currency,
		ApplicationFee:     fee,
		DestinationAccount: accountID,
		ContractID:         params.ContractID.String(),
	})
	if err != nil {
		return nil, "", err
	}

	payment := &models.Payment{
		ContractID:       params.ContractID,
		MilestoneID:      params.MilestoneID,
		PayerID:          params.PayerID,
		PayeeID:          params.PayeeID,
		Amount:           params.Amount,
		FeeBPS:           s.feeBPS,
		PlatformFee:      fee,
		NetAmount:        net,
		Currency:         currency,
		ExternalIntentID: intent.ID,
		AutoRelease:      params.AutoRelease,
	}

	if params.AutoRelease {
		after := params.AutoReleaseAfter
		if after <= 0 {
			after = s.defaultAutoRelease
		}
		at := time.Now().Add(after)
		payment.AutoReleaseAt = &at
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		// Компенсация: запись не сохранилась, интент больше никому
		// не принадлежит.
		if _, cancelErr := s.gw.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
			logger.WithComponent("payments").
				WithField("intent_id", intent.ID).
				Errorf("не удалось отменить осиротевший интент: %v", cancelErr)
		}
		return nil, "", err
	}

	s.appendAudit(ctx, payment.ID, models.PaymentEventCreated, nil)
	metrics.PaymentsCreated.Inc()

	return payment, intent.ClientSecret, nil
}

// ConfirmPayment подтверждает оплату плательщиком: pending -> processing.
// Идемпотентен: если webhook успел раньше и платёж уже processing или
// completed, возвращается текущее состояние без ошибки и без мутации.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, intentID string, callerID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != callerID {
		return nil, apperror.ErrForbidden
	}
	if payment.ExternalIntentID != intentID {
		return nil, apperror.New(apperror.ErrCodeValidation, "идентификатор интента не совпадает")
	}

	applied, err := s.repo.MarkProcessing(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.appendAudit(ctx, paymentID, models.PaymentEventConfirmed, nil)
		return s.getPayment(ctx, paymentID)
	}

	// Условие не сработало: либо webhook уже перевёл платёж дальше
	// (не ошибка), либо платёж в недопустимом состоянии.
	payment, err = s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusProcessing, models.PaymentStatusCompleted:
		return payment, nil
	default:
		return nil, stateConflict("подтвердить", payment)
	}
}

// Release выпускает удержанные средства исполнителю: capture netAmount,
// (processing, held) -> (completed, released). Вызывается плательщиком
// при приёмке этапа или планировщиком по сроку авторелиза.
//
// При отказе шлюза состояние платежа не меняется: retryable ошибка
// оставляет платёж планировщику на повторный заход.
func (s *PaymentService) Release(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if callerID != SystemCallerID && payment.PayerID != callerID {
		return nil, apperror.ErrForbidden
	}

	// Повторный release — no-op, вызывающий получает текущее состояние.
	if payment.EscrowStatus == models.EscrowStatusReleased {
		return payment, nil
	}
	if payment.Status != models.PaymentStatusProcessing || payment.EscrowStatus != models.EscrowStatusHeld {
		return nil, stateConflict("выпустить", payment)
	}

	intent, err := s.gw.CapturePaymentIntent(ctx, payment.ExternalIntentID, payment.NetAmount)
	if err != nil {
		// Терминальный отказ capture может означать, что параллельный
		// release уже списал средства — тогда это не ошибка.
		if apperror.Is(err, apperror.ErrCodeGatewayTerminal) {
			if current, readErr := s.getPayment(ctx, paymentID); readErr == nil &&
				current.EscrowStatus == models.EscrowStatusReleased {
				return current, nil
			}
		}
		s.countGatewayError(err)
		return nil, err
	}

	applied, err := s.repo.MarkReleased(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		if intent.LatestCharge != "" {
			if err := s.repo.SetChargeID(ctx, paymentID, intent.LatestCharge); err != nil {
				logger.WithComponent("payments").Errorf("не удалось записать charge id: %v", err)
			}
		}
		s.appendAudit(ctx, paymentID, models.PaymentEventReleased, nil)
		metrics.PaymentsReleased.Inc()

		released, err := s.getPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		s.notifyParties(released, "payment.released")
		return released, nil
	}

	return s.getPayment(ctx, paymentID)
}

// Refund возвращает полную сумму плательщику. Допустим только пока
// средства удержаны.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != callerID {
		return nil, apperror.ErrForbidden
	}
	if payment.EscrowStatus != models.EscrowStatusHeld {
		return nil, stateConflict("вернуть", payment)
	}

	refund, err := s.gw.CreateRefund(ctx, payment.ExternalIntentID, payment.Amount)
	if err != nil {
		s.countGatewayError(err)
		return nil, err
	}

	applied, err := s.repo.MarkRefunded(ctx, paymentID, refund.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		detail := reason
		s.appendAudit(ctx, paymentID, models.PaymentEventRefunded, &detail)
		metrics.PaymentsRefunded.Inc()
	}

	refunded, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifyParties(refunded, "payment.refunded")
	}
	return refunded, nil
}

// MarkDisputed переводит платёж в спор. Escrow остаётся held до внешнего
// разрешения; из терминального escrow переход запрещён.
func (s *PaymentService) MarkDisputed(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if models.IsEscrowTerminal(payment.EscrowStatus) {
		return nil, stateConflict("оспорить", payment)
	}

	applied, err := s.repo.MarkDisputed(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.appendAudit(ctx, paymentID, models.PaymentEventDisputed, nil)
	}

	disputed, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifyParties(disputed, "payment.disputed")
	}
	return disputed, nil
}

// Cancel отменяет брошенный pending платёж: интент аннулируется на шлюзе,
// запись переходит в (cancelled, cancelled). Используется sweeper'ом.
func (s *PaymentService) Cancel(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending || payment.EscrowStatus != models.EscrowStatusHeld {
		return nil, stateConflict("отменить", payment)
	}

	if _, err := s.gw.CancelPaymentIntent(ctx, payment.ExternalIntentID); err != nil {
		s.countGatewayError(err)
		return nil, err
	}

	applied, err := s.repo.MarkCancelled(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.appendAudit(ctx, paymentID, models.PaymentEventCancelled, nil)
		metrics.PaymentsCancelled.Inc()
	} else {
		// Интент уже аннулирован на шлюзе, но запись успел перевести
		// параллельный confirm: состояния разошлись, платёж больше не
		// спишется. Оставляем след для ручной сверки.
		detail := "интент отменён на шлюзе, но запись перехватил параллельный переход"
		s.appendAudit(ctx, paymentID, models.PaymentEventDiverged, &detail)
		logger.WithComponent("payments").
			WithField("payment_id", paymentID).
			WithField("intent_id", payment.ExternalIntentID).
			Error("cancel разошёлся с параллельным переходом: интент аннулирован, запись не в cancelled")
	}

	cancelled, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifyParties(cancelled, "payment.cancelled")
	}
	return cancelled, nil
}

// GetPayment возвращает платёж стороне сделки.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParty(callerID) {
		return nil, apperror.ErrForbidden
	}
	return payment, nil
}

// ListPayments возвращает платежи пользователя.
func (s *PaymentService) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// GetStats возвращает агрегированную статистику по платежам пользователя.
func (s *PaymentService) GetStats(ctx context.Context, userID uuid.UUID) (*models.PaymentStats, error) {
	return s.repo.Stats(ctx, userID)
}

// ListEvents возвращает журнал аудита платежа стороне сделки.
func (s *PaymentService) ListEvents(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) ([]models.PaymentEvent, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParty(callerID) {
		return nil, apperror.ErrForbidden
	}
	return s.audit.ListByPayment(ctx, paymentID)
}

// ----- Переходы, запрашиваемые webhook reconciler'ом -----
// Reconciler никогда не пишет в payments напрямую: найденный по интенту
// платёж двигается только через методы ниже.

// ApplyIntentSucceeded применяет webhook об успешной оплате интента.
func (s *PaymentService) ApplyIntentSucceeded(ctx context.Context, intentID, eventID, eventType string) error {
	payment, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		return err
	}

	applied, err := s.repo.MarkProcessing(ctx, payment.ID)
	if err != nil {
		return err
	}
	s.recordWebhookOutcome(ctx, payment.ID, eventID, eventType, applied)
	return nil
}

// ApplyIntentFailed применяет webhook об отклонении оплаты.
func (s *PaymentService) ApplyIntentFailed(ctx context.Context, intentID, eventID, eventType, reason string) error {
	payment, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		return err
	}

	applied, err := s.repo.MarkFailed(ctx, payment.ID)
	if err != nil {
		return err
	}
	if applied {
		detail := reason
		s.appendAudit(ctx, payment.ID, models.PaymentEventFailed, &detail)
		// Терминальный отказ шлюза не глотаем молча
		logger.WithComponent("payments").
			WithField("payment_id", payment.ID).
			Warnf("оплата отклонена шлюзом: %s", reason)
	}
	s.recordWebhookOutcome(ctx, payment.ID, eventID, eventType, applied)
	return nil
}

// ApplyChargeRefunded применяет webhook о возврате, инициированном на
// стороне шлюза. Если платёж уже в терминальном escrow — no-op.
func (s *PaymentService) ApplyChargeRefunded(ctx context.Context, intentID, eventID, eventType, refundID string) error {
	payment, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		return err
	}

	applied, err := s.repo.MarkRefunded(ctx, payment.ID, refundID)
	if err != nil {
		return err
	}
	if applied {
		s.appendAudit(ctx, payment.ID, models.PaymentEventRefunded, nil)
		metrics.PaymentsRefunded.Inc()
	}
	s.recordWebhookOutcome(ctx, payment.ID, eventID, eventType, applied)
	return nil
}

// ApplyDisputeCreated применяет webhook о споре по charge.
func (s *PaymentService) ApplyDisputeCreated(ctx context.Context, intentID, eventID, eventType string) error {
	payment, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		return err
	}

	applied, err := s.repo.MarkDisputed(ctx, payment.ID)
	if err != nil {
		return err
	}
	if applied {
		s.appendAudit(ctx, payment.ID, models.PaymentEventDisputed, nil)
	}
	s.recordWebhookOutcome(ctx, payment.ID, eventID, eventType, applied)
	return nil
}

// ----- внутреннее -----

func (s *PaymentService) getPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// recordWebhookOutcome обновляет bookkeeping платежа и журнал аудита
// по результату применения webhook события.
func (s *PaymentService) recordWebhookOutcome(ctx context.Context, paymentID uuid.UUID, eventID, eventType string, applied bool) {
	if err := s.repo.TouchWebhook(ctx, paymentID, eventID, eventType); err != nil {
		logger.WithComponent("payments").Errorf("не удалось обновить webhook bookkeeping: %v", err)
	}

	kind := models.PaymentEventWebhookApplied
	if !applied {
		kind = models.PaymentEventWebhookSkipped
	}
	detail := eventType
	s.appendAudit(ctx, paymentID, kind, &detail)
}

func (s *PaymentService) appendAudit(ctx context.Context, paymentID uuid.UUID, eventType string, detail *string) {
	if err := s.audit.Append(ctx, paymentID, eventType, detail); err != nil {
		logger.WithComponent("payments").
			WithField("payment_id", paymentID).
			Errorf("не удалось записать событие аудита %s: %v", eventType, err)
	}
}

// notifyParties отправляет уведомления обеим сторонам платежа.
// Сбой уведомления никогда не влияет на результат перехода.
func (s *PaymentService) notifyParties(payment *models.Payment, event string) {
	if s.notifier == nil {
		return
	}
	notifier := s.notifier
	payer, payee := payment.PayerID, payment.PayeeID
	snapshot := *payment
	goroutine.SafeGo(func() {
		if err := notifier.BroadcastToUser(payer, event, &snapshot); err != nil {
			logger.WithComponent("payments").Warnf("уведомление плательщика не доставлено: %v", err)
		}
		if err := notifier.BroadcastToUser(payee, event, &snapshot); err != nil {
			logger.WithComponent("payments").Warnf("уведомление исполнителя не доставлено: %v", err)
		}
	})
}

func (s *PaymentService) countGatewayError(err error) {
	if apperror.IsRetryableGateway(err) {
		metrics.GatewayErrors.WithLabelValues("retryable").Inc()
	} else if apperror.IsGateway(err) {
		metrics.GatewayErrors.WithLabelValues("terminal").Inc()
	}
}

// stateConflict формирует ошибку недопустимого перехода.
func stateConflict(action string, p *models.Payment) error {
	return apperror.New(apperror.ErrCodeStateConflict,
		fmt.Sprintf("нельзя %s платёж в состоянии (%s, %s)", action, p.Status, p.EscrowStatus))
}
