package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-payments/internal/models"
)

var ErrWebhookEventNotFound = errors.New("webhook event not found")

// WebhookEventRepository владеет таблицей processed_webhook_events —
// записями дедупликации входящих событий шлюза.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Claim атомарно захватывает событие на обработку. Возвращает false, если
// событие уже видели: конфликт по первичному ключу означает либо
// завершённую обработку, либо безобидный конкурентный дубликат —
// в обоих случаях вызывающий обязан ответить no-op.
func (r *WebhookEventRepository) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, status)
		VALUES ($1, $2, 'processing')
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("webhook event repository: claim %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("webhook event repository: claim rows affected %w", err)
	}
	return rows > 0, nil
}

// MarkCompleted помечает событие успешно обработанным.
func (r *WebhookEventRepository) MarkCompleted(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processed_webhook_events SET status = 'completed', completed_at = NOW()
		WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("webhook event repository: mark completed %w", err)
	}
	return nil
}

// MarkFailed фиксирует ошибку обработки. Событие остаётся записанным,
// чтобы шлюз не заваливал endpoint повторными доставками, а оператор
// видел, что именно упало.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, eventID, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processed_webhook_events SET status = 'failed', completed_at = NOW(), error_message = $2
		WHERE event_id = $1
	`, eventID, errorMessage)
	if err != nil {
		return fmt.Errorf("webhook event repository: mark failed %w", err)
	}
	return nil
}

// GetByID возвращает запись о событии.
func (r *WebhookEventRepository) GetByID(ctx context.Context, eventID string) (*models.ProcessedWebhookEvent, error) {
	var event models.ProcessedWebhookEvent
	if err := r.db.GetContext(ctx, &event, `SELECT * FROM processed_webhook_events WHERE event_id = $1`, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("webhook event repository: get by id %w", err)
	}
	return &event, nil
}

// ListStuck возвращает события, зависшие в processing дольше порога.
// Такие записи означают падение процесса посреди обработки и требуют
// ручного вмешательства — автоматически они не переигрываются.
func (r *WebhookEventRepository) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.ProcessedWebhookEvent, error) {
	var events []models.ProcessedWebhookEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM processed_webhook_events
		WHERE status = 'processing' AND started_at < $1
		ORDER BY started_at ASC LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("webhook event repository: list stuck %w", err)
	}
	return events, nil
}

// PruneCompleted удаляет успешно обработанные события старше окна хранения.
// Записи failed и processing не трогаем: они ценны для разбора инцидентов.
func (r *WebhookEventRepository) PruneCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_webhook_events
		WHERE status = 'completed' AND completed_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("webhook event repository: prune %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("webhook event repository: prune rows affected %w", err)
	}
	return rows, nil
}
