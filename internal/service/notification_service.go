package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
)

// NotificationStore — хранилище уведомлений.
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher доставляет уведомление подключённым WebSocket клиентам.
type Pusher interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// NotificationService сохраняет уведомления о событиях платежей и
// дублирует их в WebSocket, если пользователь онлайн.
type NotificationService struct {
	repo   NotificationStore
	pusher Pusher
}

func NewNotificationService(repo NotificationStore) *NotificationService {
	return &NotificationService{repo: repo}
}

// SetPusher подключает WebSocket hub.
func (s *NotificationService) SetPusher(p Pusher) {
	s.pusher = p
}

// notificationPayload — формат payload уведомления.
type notificationPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    time.Time       `json:"at"`
}

// BroadcastToUser сохраняет уведомление и пытается доставить его онлайн.
// Реализует PaymentNotifier: вызывается из ledger'а fire-and-forget.
// Хаб сам сохраняет уведомление через NotificationSaver, поэтому при
// подключённом pusher'е запись здесь не дублируется.
func (s *NotificationService) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	if s.pusher != nil {
		return s.pusher.BroadcastToUser(userID, event, data)
	}
	return s.CreateNotificationForWS(context.Background(), userID, event, data)
}

// CreateNotificationForWS сохраняет уведомление, сгенерированное самим
// WebSocket хабом (реализация ws.NotificationSaver через адаптер).
func (s *NotificationService) CreateNotificationForWS(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(notificationPayload{Event: event, Data: raw, At: time.Now()})
	if err != nil {
		return err
	}
	return s.repo.Create(ctx, &models.Notification{UserID: userID, Payload: payload})
}

// List возвращает уведомления пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление прочитанным. Чужие уведомления недоступны.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
	}
	if notification.UserID != userID {
		return apperror.ErrForbidden
	}
	return s.repo.MarkAsRead(ctx, id)
}

// MarkAllAsRead отмечает все уведомления пользователя прочитанными.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
