package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-payments/internal/config"
	"github.com/ignatzorin/freelance-payments/internal/db"
	"github.com/ignatzorin/freelance-payments/internal/gateway"
	httpHandlers "github.com/ignatzorin/freelance-payments/internal/http/handlers"
	httpRouter "github.com/ignatzorin/freelance-payments/internal/http/router"
	"github.com/ignatzorin/freelance-payments/internal/logger"
	"github.com/ignatzorin/freelance-payments/internal/repository"
	"github.com/ignatzorin/freelance-payments/internal/scheduler"
	"github.com/ignatzorin/freelance-payments/internal/service"
	"github.com/ignatzorin/freelance-payments/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret)
	stripeClient := gateway.NewClient(cfg.StripeAPIBase, cfg.StripeSecretKey)

	// Репозитории.
	paymentRepo := repository.NewPaymentRepository(dbConn)
	paymentEventRepo := repository.NewPaymentEventRepository(dbConn)
	webhookEventRepo := repository.NewWebhookEventRepository(dbConn)
	accountRepo := repository.NewAccountRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Сервисы.
	accountService := service.NewAccountService(accountRepo, stripeClient, cfg.OnboardingRefreshURL, cfg.OnboardingReturnURL)
	paymentService := service.NewPaymentService(paymentRepo, paymentEventRepo, stripeClient, accountService, cfg.PlatformFeeBPS, cfg.DefaultAutoRelease)
	disputeService := service.NewDisputeService(disputeRepo, paymentService, paymentRepo)
	webhookService := service.NewWebhookService(webhookEventRepo, paymentService, accountService, disputeService, cfg.StripeWebhookSecret, gateway.DefaultSignatureTolerance)
	notificationService := service.NewNotificationService(notificationRepo)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	hub.SetNotificationSaver(ws.NewNotificationServiceAdapter(notificationService))
	go hub.Run()

	notificationService.SetPusher(hub)
	paymentService.SetNotifier(notificationService)

	// Фоновые задачи: авторелиз, уборка зависших pending, чистка webhook событий.
	sched := scheduler.New(paymentService, paymentRepo, webhookService, scheduler.Config{
		FastTick:         cfg.AutoReleaseFastTick,
		SlowTick:         cfg.AutoReleaseSlowTick,
		StuckTick:        cfg.StuckSweepTick,
		StuckThreshold:   cfg.StuckThreshold,
		WebhookRetention: cfg.WebhookRetention,
	})
	sched.Start(ctx)

	// HTTP хэндлеры.
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService)
	webhookHandler := httpHandlers.NewWebhookHandler(webhookService)
	accountHandler := httpHandlers.NewAccountHandler(accountService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	adminHandler := httpHandlers.NewAdminHandler(sched, webhookService)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg,
		paymentHandler, webhookHandler, accountHandler, disputeHandler,
		notificationHandler, adminHandler, healthHandler, wsHandler,
		tokenManager,
	)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
