package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-payments/internal/models"
)

var ErrAccountNotFound = errors.New("payee account not found")

// AccountRepository хранит привязки исполнителей к connected-аккаунтам шлюза.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Upsert создаёт или обновляет привязку аккаунта.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.PayeeAccount) error {
	query := `
		INSERT INTO payee_accounts (payee_id, external_account_id, payouts_enabled, details_submitted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payee_id) DO UPDATE SET
			payouts_enabled = EXCLUDED.payouts_enabled,
			details_submitted = EXCLUDED.details_submitted,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		account.PayeeID, account.ExternalAccountID, account.PayoutsEnabled, account.DetailsSubmitted,
	).Scan(&account.CreatedAt, &account.UpdatedAt); err != nil {
		return fmt.Errorf("account repository: upsert %w", err)
	}
	return nil
}

// GetByPayeeID возвращает привязку по идентификатору исполнителя.
func (r *AccountRepository) GetByPayeeID(ctx context.Context, payeeID uuid.UUID) (*models.PayeeAccount, error) {
	var account models.PayeeAccount
	if err := r.db.GetContext(ctx, &account, `SELECT * FROM payee_accounts WHERE payee_id = $1`, payeeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account repository: get by payee id %w", err)
	}
	return &account, nil
}

// GetByExternalID возвращает привязку по идентификатору аккаунта на стороне
// шлюза (для обработки account.updated событий).
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID string) (*models.PayeeAccount, error) {
	var account models.PayeeAccount
	if err := r.db.GetContext(ctx, &account, `SELECT * FROM payee_accounts WHERE external_account_id = $1`, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account repository: get by external id %w", err)
	}
	return &account, nil
}

// UpdateEligibility обновляет флаги готовности аккаунта к выплатам.
func (r *AccountRepository) UpdateEligibility(ctx context.Context, externalID string, payoutsEnabled, detailsSubmitted bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payee_accounts SET payouts_enabled = $2, details_submitted = $3, updated_at = NOW()
		WHERE external_account_id = $1
	`, externalID, payoutsEnabled, detailsSubmitted)
	if err != nil {
		return fmt.Errorf("account repository: update eligibility %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("account repository: update eligibility rows affected %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}
