package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счётчики жизненного цикла платежей и фоновых задач. Регистрируются
// в глобальном реестре и отдаются на /metrics.
var (
	PaymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Количество созданных платежей.",
	})

	PaymentsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_released_total",
		Help: "Количество платежей, выплаченных исполнителю.",
	})

	PaymentsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Количество платежей, возвращённых плательщику.",
	})

	PaymentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_cancelled_total",
		Help: "Количество отменённых брошенных платежей.",
	})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Входящие webhook события по типу и результату обработки.",
	}, []string{"type", "outcome"})

	SweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_failures_total",
		Help: "Ошибки фоновых прогонов по виду задачи.",
	}, []string{"sweep"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Ошибки платёжного шлюза: retryable против terminal.",
	}, []string{"kind"})
)
