package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/gateway"
	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-payments/internal/repository"
)

// AccountStore — хранилище привязок исполнителей к connected-аккаунтам.
type AccountStore interface {
	Upsert(ctx context.Context, account *models.PayeeAccount) error
	GetByPayeeID(ctx context.Context, payeeID uuid.UUID) (*models.PayeeAccount, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.PayeeAccount, error)
	UpdateEligibility(ctx context.Context, externalID string, payoutsEnabled, detailsSubmitted bool) error
}

// AccountGateway — операции шлюза по connected-аккаунтам.
type AccountGateway interface {
	CreateAccount(ctx context.Context, email string) (*gateway.Account, error)
	RetrieveAccount(ctx context.Context, id string) (*gateway.Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*gateway.AccountLink, error)
}

// AccountService управляет онбордингом исполнителей: создаёт connected-аккаунт,
// выдаёт ссылки онбординга и держит локальную копию флагов готовности к
// выплатам в актуальном состоянии по account.updated событиям.
type AccountService struct {
	repo AccountStore
	gw   AccountGateway

	refreshURL string
	returnURL  string
}

func NewAccountService(repo AccountStore, gw AccountGateway, refreshURL, returnURL string) *AccountService {
	return &AccountService{
		repo:       repo,
		gw:         gw,
		refreshURL: refreshURL,
		returnURL:  returnURL,
	}
}

// Onboard создаёт connected-аккаунт исполнителю (или переиспользует уже
// существующий) и выпускает одноразовую ссылку онбординга. Повторный вызов
// безопасен: для незавершённого онбординга выдаётся свежая ссылка.
func (s *AccountService) Onboard(ctx context.Context, payeeID uuid.UUID, email string) (*models.PayeeAccount, *gateway.AccountLink, error) {
	if email == "" {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "email обязателен для онбординга")
	}

	account, err := s.repo.GetByPayeeID(ctx, payeeID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, nil, err
	}

	if account == nil {
		external, err := s.gw.CreateAccount(ctx, email)
		if err != nil {
			return nil, nil, err
		}
		account = &models.PayeeAccount{
			PayeeID:           payeeID,
			ExternalAccountID: external.ID,
			PayoutsEnabled:    external.PayoutsEnabled,
			DetailsSubmitted:  external.DetailsSubmitted,
		}
		if err := s.repo.Upsert(ctx, account); err != nil {
			return nil, nil, err
		}
	}

	link, err := s.gw.CreateAccountLink(ctx, account.ExternalAccountID, s.refreshURL, s.returnURL)
	if err != nil {
		return nil, nil, err
	}

	return account, link, nil
}

// GetAccount возвращает привязку исполнителя.
func (s *AccountService) GetAccount(ctx context.Context, payeeID uuid.UUID) (*models.PayeeAccount, error) {
	account, err := s.repo.GetByPayeeID(ctx, payeeID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, apperror.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// RefreshStatus перечитывает состояние аккаунта со шлюза и обновляет
// локальные флаги. Используется, когда webhook account.updated потерян
// или исполнитель вернулся со страницы онбординга.
func (s *AccountService) RefreshStatus(ctx context.Context, payeeID uuid.UUID) (*models.PayeeAccount, error) {
	account, err := s.GetAccount(ctx, payeeID)
	if err != nil {
		return nil, err
	}

	external, err := s.gw.RetrieveAccount(ctx, account.ExternalAccountID)
	if err != nil {
		return nil, err
	}

	account.PayoutsEnabled = external.PayoutsEnabled
	account.DetailsSubmitted = external.DetailsSubmitted
	if err := s.repo.Upsert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// PayoutAccount сообщает escrow ledger'у, готов ли исполнитель принимать
// выплаты, и на какой connected-аккаунт их направлять. Отсутствие привязки —
// не ошибка, а "не готов".
func (s *AccountService) PayoutAccount(ctx context.Context, payeeID uuid.UUID) (string, bool, error) {
	account, err := s.repo.GetByPayeeID(ctx, payeeID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return account.ExternalAccountID, account.IsPayoutEligible(), nil
}

// SyncEligibility применяет account.updated событие шлюза.
func (s *AccountService) SyncEligibility(ctx context.Context, externalAccountID string, payoutsEnabled, detailsSubmitted bool) error {
	if err := s.repo.UpdateEligibility(ctx, externalAccountID, payoutsEnabled, detailsSubmitted); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			// Аккаунт не наш: webhook endpoint общий для всей платформы.
			return apperror.ErrAccountNotFound
		}
		return err
	}
	return nil
}
