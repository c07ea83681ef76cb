package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-payments/internal/repository"
)

// DisputeStore — хранилище hand-off записей споров.
type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
}

// DisputeLedger — операции escrow ledger'а, нужные при открытии спора.
type DisputeLedger interface {
	GetPayment(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) (*models.Payment, error)
	MarkDisputed(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

// PaymentFinder находит платёж по идентификатору интента шлюза.
type PaymentFinder interface {
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
}

// DisputeService фиксирует передачу платежей в спор. Разрешение спора —
// забота внешней системы платформы; здесь платёж замораживается
// (escrow остаётся held) и создаётся hand-off запись.
type DisputeService struct {
	disputes DisputeStore
	ledger   DisputeLedger
	finder   PaymentFinder
}

func NewDisputeService(disputes DisputeStore, ledger DisputeLedger, finder PaymentFinder) *DisputeService {
	return &DisputeService{
		disputes: disputes,
		ledger:   ledger,
		finder:   finder,
	}
}

// Open открывает спор по платежу от имени одной из сторон сделки.
func (s *DisputeService) Open(ctx context.Context, paymentID uuid.UUID, initiatorID uuid.UUID, reason string) (*models.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}

	// GetPayment заодно проверяет, что инициатор — сторона сделки.
	if _, err := s.ledger.GetPayment(ctx, paymentID, initiatorID); err != nil {
		return nil, err
	}

	if existing, err := s.disputes.GetByPaymentID(ctx, paymentID); err == nil && existing != nil {
		return nil, apperror.New(apperror.ErrCodeStateConflict, "спор по платежу уже открыт")
	} else if err != nil && !errors.Is(err, repository.ErrDisputeNotFound) {
		return nil, err
	}

	if _, err := s.ledger.MarkDisputed(ctx, paymentID); err != nil {
		return nil, err
	}

	dispute := &models.Dispute{
		PaymentID:   paymentID,
		InitiatorID: initiatorID,
		Reason:      reason,
		Status:      models.DisputeStatusOpen,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, err
	}
	return dispute, nil
}

// RecordFromGateway создаёт запись спора, пришедшего webhook'ом со стороны
// шлюза (chargeback). Переход платежа в disputed к этому моменту уже
// применён reconciler'ом.
func (s *DisputeService) RecordFromGateway(ctx context.Context, intentID, externalID, reason string) error {
	payment, err := s.finder.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return apperror.ErrPaymentNotFound
		}
		return err
	}

	if _, err := s.disputes.GetByPaymentID(ctx, payment.ID); err == nil {
		// Спор уже записан (например, открыт вручную до chargeback).
		return nil
	} else if !errors.Is(err, repository.ErrDisputeNotFound) {
		return err
	}

	if reason == "" {
		reason = "chargeback на стороне шлюза"
	}

	dispute := &models.Dispute{
		PaymentID:   payment.ID,
		InitiatorID: payment.PayerID,
		Reason:      reason,
		Status:      models.DisputeStatusOpen,
		ExternalID:  &externalID,
	}
	return s.disputes.Create(ctx, dispute)
}

// GetByPayment возвращает спор по платежу стороне сделки.
func (s *DisputeService) GetByPayment(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) (*models.Dispute, error) {
	if _, err := s.ledger.GetPayment(ctx, paymentID, callerID); err != nil {
		return nil, err
	}

	dispute, err := s.disputes.GetByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrDisputeNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

// ListByUser возвращает споры по платежам пользователя.
func (s *DisputeService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.disputes.ListByUser(ctx, userID, limit, offset)
}
