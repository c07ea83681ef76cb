package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/goroutine"
	"github.com/ignatzorin/freelance-payments/internal/logger"
	"github.com/ignatzorin/freelance-payments/internal/metrics"
	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

const batchLimit = 100

// ReleaseLedger — операции escrow ledger'а, которые дергают фоновые задачи.
type ReleaseLedger interface {
	Release(ctx context.Context, paymentID uuid.UUID, callerID uuid.UUID) (*models.Payment, error)
	Cancel(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

// PaymentLister выбирает платежи, подлежащие фоновой обработке.
type PaymentLister interface {
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
}

// WebhookJanitor — обслуживание таблицы дедупликации webhook событий.
type WebhookJanitor interface {
	PruneCompleted(ctx context.Context, retention time.Duration) (int64, error)
	ListStuckEvents(ctx context.Context, olderThan time.Duration, limit int) ([]models.ProcessedWebhookEvent, error)
}

// Config — интервалы и пороги фоновых задач.
type Config struct {
	// Авторелиз гоняется двумя пересекающимися каденциями: частая
	// подбирает свежесозревшие платежи, редкая дочищает то, что частая
	// не смогла (например, из-за временного отказа шлюза). Пересечение
	// прогонов безопасно: переходы условные, проигравший — no-op.
	FastTick time.Duration
	SlowTick time.Duration

	StuckTick      time.Duration
	StuckThreshold time.Duration

	WebhookRetention time.Duration
}

// Scheduler запускает фоновые циклы: авторелиз созревших платежей,
// уборку зависших pending и чистку таблицы webhook событий.
type Scheduler struct {
	ledger   ReleaseLedger
	payments PaymentLister
	webhooks WebhookJanitor
	cfg      Config
}

func New(ledger ReleaseLedger, payments PaymentLister, webhooks WebhookJanitor, cfg Config) *Scheduler {
	return &Scheduler{
		ledger:   ledger,
		payments: payments,
		webhooks: webhooks,
		cfg:      cfg,
	}
}

// Start запускает все циклы. Горутины живут до отмены контекста.
func (s *Scheduler) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		s.loop(ctx, s.cfg.FastTick, "auto_release_fast", func(ctx context.Context) {
			s.RunAutoRelease(ctx)
		})
	})
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		s.loop(ctx, s.cfg.SlowTick, "auto_release_slow", func(ctx context.Context) {
			s.RunAutoRelease(ctx)
		})
	})
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		s.loop(ctx, s.cfg.StuckTick, "stuck_sweep", func(ctx context.Context) {
			s.RunStuckSweep(ctx)
			s.RunWebhookMaintenance(ctx)
		})
	})

	logger.WithComponent("scheduler").
		WithField("fast_tick", s.cfg.FastTick.String()).
		WithField("slow_tick", s.cfg.SlowTick.String()).
		WithField("stuck_tick", s.cfg.StuckTick.String()).
		Info("фоновые задачи запущены")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.WithComponent("scheduler").Infof("цикл %s остановлен", name)
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunAutoRelease выпускает платежи, у которых подошёл срок авторелиза.
// Ошибка по одному платежу не останавливает прогон: остальные платежи
// пачки обрабатываются, неудачник достанется следующему тику.
func (s *Scheduler) RunAutoRelease(ctx context.Context) (released, failed int) {
	log := logger.WithComponent("scheduler")

	payments, err := s.payments.ListAutoReleasable(ctx, time.Now(), batchLimit)
	if err != nil {
		log.Errorf("выборка платежей для авторелиза: %v", err)
		metrics.SweepFailures.WithLabelValues("auto_release").Inc()
		return 0, 0
	}

	for _, p := range payments {
		if _, err := s.ledger.Release(ctx, p.ID, service.SystemCallerID); err != nil {
			// Конфликт состояния означает, что платёж уже обработан
			// конкурентным прогоном или ручным release — не ошибка.
			if apperror.IsStateConflict(err) {
				continue
			}
			failed++
			metrics.SweepFailures.WithLabelValues("auto_release").Inc()
			log.WithField("payment_id", p.ID).Errorf("авторелиз не удался: %v", err)
			continue
		}
		released++
	}

	if released > 0 || failed > 0 {
		log.WithField("released", released).WithField("failed", failed).Info("прогон авторелиза завершён")
	}
	return released, failed
}

// RunStuckSweep отменяет платежи, застрявшие в pending дольше порога:
// плательщик так и не привязал способ оплаты, интент аннулируется.
func (s *Scheduler) RunStuckSweep(ctx context.Context) (cancelled, failed int) {
	log := logger.WithComponent("scheduler")

	payments, err := s.payments.ListStalePending(ctx, time.Now().Add(-s.cfg.StuckThreshold), batchLimit)
	if err != nil {
		log.Errorf("выборка зависших платежей: %v", err)
		metrics.SweepFailures.WithLabelValues("stuck_sweep").Inc()
		return 0, 0
	}

	for _, p := range payments {
		if _, err := s.ledger.Cancel(ctx, p.ID); err != nil {
			if apperror.IsStateConflict(err) {
				continue
			}
			failed++
			metrics.SweepFailures.WithLabelValues("stuck_sweep").Inc()
			log.WithField("payment_id", p.ID).Errorf("отмена зависшего платежа не удалась: %v", err)
			continue
		}
		cancelled++
	}

	if cancelled > 0 || failed > 0 {
		log.WithField("cancelled", cancelled).WithField("failed", failed).Info("уборка зависших платежей завершена")
	}
	return cancelled, failed
}

// RunWebhookMaintenance чистит обработанные webhook события старше окна
// хранения и подсвечивает зависшие в processing.
func (s *Scheduler) RunWebhookMaintenance(ctx context.Context) {
	log := logger.WithComponent("scheduler")

	pruned, err := s.webhooks.PruneCompleted(ctx, s.cfg.WebhookRetention)
	if err != nil {
		log.Errorf("чистка webhook событий: %v", err)
		metrics.SweepFailures.WithLabelValues("webhook_prune").Inc()
	} else if pruned > 0 {
		log.WithField("pruned", pruned).Info("обработанные webhook события удалены")
	}

	stuck, err := s.webhooks.ListStuckEvents(ctx, s.cfg.StuckThreshold, batchLimit)
	if err != nil {
		log.Errorf("выборка зависших webhook событий: %v", err)
		return
	}
	for _, e := range stuck {
		// Зависшее processing означает падение процесса посреди обработки.
		// Автоматически не переигрываем: нужен разбор оператором.
		log.WithField("event_id", e.EventID).
			WithField("event_type", e.EventType).
			Warn("webhook событие зависло в processing")
	}
}
