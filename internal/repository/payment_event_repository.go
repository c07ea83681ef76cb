package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-payments/internal/models"
)

// PaymentEventRepository — append-only журнал аудита платежей.
type PaymentEventRepository struct {
	db *sqlx.DB
}

func NewPaymentEventRepository(db *sqlx.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// Append добавляет запись в журнал. Журнал никогда не обновляется и
// не удаляется.
func (r *PaymentEventRepository) Append(ctx context.Context, paymentID uuid.UUID, eventType string, detail *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_events (payment_id, event_type, detail)
		VALUES ($1, $2, $3)
	`, paymentID, eventType, detail)
	if err != nil {
		return fmt.Errorf("payment event repository: append %w", err)
	}
	return nil
}

// ListByPayment возвращает историю платежа в хронологическом порядке.
func (r *PaymentEventRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM payment_events WHERE payment_id = $1 ORDER BY created_at ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment event repository: list %w", err)
	}
	return events, nil
}
