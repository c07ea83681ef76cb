package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-payments/internal/models"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
)

// PaymentRepository владеет таблицей payments. Все переходы состояния
// выражены условными UPDATE: новое состояние записывается только если
// текущее совпадает с ожидаемым предшественником. Благодаря этому
// конкурентные вызовы (ручной release против планировщика, webhook против
// явного confirm) сходятся без блокировок через сеть: проигравший
// получает applied=false и трактует это как идемпотентный no-op.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create сохраняет новый платёж в состоянии (pending, held).
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (
			contract_id, milestone_id, payer_id, payee_id,
			amount, fee_bps, platform_fee, net_amount, currency,
			external_intent_id, status, escrow_status,
			auto_release, auto_release_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 'held', $11, $12)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		p.ContractID, p.MilestoneID, p.PayerID, p.PayeeID,
		p.Amount, p.FeeBPS, p.PlatformFee, p.NetAmount, p.Currency,
		p.ExternalIntentID, p.AutoRelease, p.AutoReleaseAt,
	).Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("payment repository: create %w", err)
	}

	p.Status = models.PaymentStatusPending
	p.EscrowStatus = models.EscrowStatusHeld
	return nil
}

// GetByID возвращает платёж по идентификатору.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by id %w", err)
	}
	return &p, nil
}

// GetByIntentID возвращает платёж по идентификатору интента шлюза.
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE external_intent_id = $1`, intentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by intent id %w", err)
	}
	return &p, nil
}

// ListByUser возвращает платежи, где пользователь является плательщиком
// или получателем.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("payment repository: list by user %w", err)
	}
	return payments, nil
}

// MarkProcessing переводит pending/held платёж в processing (подтверждение
// оплаты плательщиком или webhook об успешном интенте).
func (r *PaymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'processing', paid_at = NOW()
		WHERE id = $1 AND status = 'pending' AND escrow_status = 'held'
	`, id)
}

// MarkReleased фиксирует успешный capture: escrow released, статус completed.
func (r *PaymentRepository) MarkReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'completed', escrow_status = 'released', released_at = NOW()
		WHERE id = $1 AND status = 'processing' AND escrow_status = 'held'
	`, id)
}

// MarkRefunded фиксирует возврат средств плательщику.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, refundID string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'refunded', escrow_status = 'refunded',
			external_refund_id = COALESCE(external_refund_id, $2)
		WHERE id = $1 AND escrow_status = 'held'
	`, id, refundID)
}

// MarkFailed переводит платёж в failed по сигналу шлюза об отклонении.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'failed'
		WHERE id = $1 AND status IN ('pending', 'processing') AND escrow_status = 'held'
	`, id)
}

// MarkDisputed помечает платёж спорным. Escrow остаётся held до внешнего
// разрешения спора, из терминального escrow переход запрещён.
func (r *PaymentRepository) MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'disputed'
		WHERE id = $1 AND escrow_status = 'held' AND status <> 'disputed'
	`, id)
}

// MarkCancelled отменяет брошенный pending платёж.
func (r *PaymentRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.conditional(ctx, `
		UPDATE payments SET status = 'cancelled', escrow_status = 'cancelled', cancelled_at = NOW()
		WHERE id = $1 AND status = 'pending' AND escrow_status = 'held'
	`, id)
}

// SetChargeID записывает идентификатор charge один раз; повторная запись
// другим значением невозможна.
func (r *PaymentRepository) SetChargeID(ctx context.Context, id uuid.UUID, chargeID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET external_charge_id = $2
		WHERE id = $1 AND external_charge_id IS NULL
	`, id, chargeID)
	if err != nil {
		return fmt.Errorf("payment repository: set charge id %w", err)
	}
	return nil
}

// TouchWebhook обновляет bookkeeping последнего применённого webhook события.
func (r *PaymentRepository) TouchWebhook(ctx context.Context, id uuid.UUID, eventID, eventType string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET last_webhook_event_id = $2, last_webhook_type = $3, last_webhook_at = NOW()
		WHERE id = $1
	`, id, eventID, eventType)
	if err != nil {
		return fmt.Errorf("payment repository: touch webhook %w", err)
	}
	return nil
}

// ListAutoReleasable выбирает платежи, у которых подошёл срок авторелиза.
// Терминальные состояния отфильтровываются самим условием, поэтому
// пересекающиеся прогоны планировщика не видят уже выпущенные платежи.
func (r *PaymentRepository) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE auto_release = TRUE
		  AND status = 'processing' AND escrow_status = 'held'
		  AND auto_release_at IS NOT NULL AND auto_release_at <= $1
		ORDER BY auto_release_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("payment repository: list auto releasable %w", err)
	}
	return payments, nil
}

// ListStalePending выбирает платежи, к которым плательщик так и не привязал
// способ оплаты.
func (r *PaymentRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = 'pending' AND escrow_status = 'held' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("payment repository: list stale pending %w", err)
	}
	return payments, nil
}

// Stats считает агрегаты по платежам пользователя (как плательщика и
// как получателя).
func (r *PaymentRepository) Stats(ctx context.Context, userID uuid.UUID) (*models.PaymentStats, error) {
	var stats models.PaymentStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total_count,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending_count,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed_count,
			COUNT(*) FILTER (WHERE status = 'refunded') AS refunded_count,
			COUNT(*) FILTER (WHERE status = 'disputed') AS disputed_count,
			COALESCE(SUM(amount) FILTER (WHERE escrow_status = 'held' AND status = 'processing'), 0) AS held_amount,
			COALESCE(SUM(net_amount) FILTER (WHERE escrow_status = 'released' AND payee_id = $1), 0) AS released_amount,
			COALESCE(SUM(platform_fee) FILTER (WHERE escrow_status = 'released' AND payer_id = $1), 0) AS fees_paid
		FROM payments
		WHERE payer_id = $1 OR payee_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: stats %w", err)
	}
	return &stats, nil
}

// conditional выполняет условный UPDATE и сообщает, применился ли он.
func (r *PaymentRepository) conditional(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("payment repository: conditional update %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment repository: rows affected %w", err)
	}
	return rows > 0, nil
}
