// Точка входа BM Agency — backend панели управления агентства.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает сервисный слой, live-канал и рассылку уведомлений,
// запускает HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/russeltsague/BM-Agency-sub000/internal/api/handlers"
	"github.com/russeltsague/BM-Agency-sub000/internal/api/middleware"
	"github.com/russeltsague/BM-Agency-sub000/internal/config"
	"github.com/russeltsague/BM-Agency-sub000/internal/database"
	"github.com/russeltsague/BM-Agency-sub000/internal/live"
	"github.com/russeltsague/BM-Agency-sub000/internal/mailer"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
	"github.com/russeltsague/BM-Agency-sub000/internal/server"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("BM Agency запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт через
	// тот же пул соединений.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	userRepo := repository.NewUserRepository(pool)
	articleRepo := repository.NewArticleRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Email
	var mail mailer.Mailer
	if cfg.EmailEnabled() {
		smtpMailer, mailErr := mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
		}, logger)
		if mailErr != nil {
			logger.Error("Ошибка настройки SMTP", slog.String("error", mailErr.Error()))
			os.Exit(1)
		}
		mail = smtpMailer
		logger.Info("Email-доставка включена", slog.String("smtp_host", cfg.SMTPHost))
	} else {
		mail = mailer.NewLogMailer(logger)
		logger.Info("BM_SMTP_HOST не задан, письма только логируются")
	}

	// 7. Live-канал и рассылка уведомлений
	hub := live.NewHub(cfg.LiveAllowedOrigins, cfg.LivePingInterval, logger)
	dispatcher := service.NewNotificationDispatcher(
		repository.NewTxNotificationWriter(txRunner),
		hub,
		mail,
		logger,
	)

	// 8. Services
	auditSvc := service.NewAuditService(auditRepo, logger)
	usersSvc := service.NewUserService(
		userRepo,
		repository.NewTxUserRemover(txRunner),
		auditSvc,
		service.NewPrincipalCache(cfg.PrincipalCacheSize, cfg.PrincipalCacheTTL),
		service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		cfg.BcryptCost,
		logger,
	)
	articlesSvc := service.NewArticleService(articleRepo, userRepo, auditSvc, dispatcher, logger)
	notificationsSvc := service.NewNotificationService(notificationRepo, logger)
	settingsSvc := service.NewSettingsService(settingsRepo, auditSvc, logger)
	dispatcher.SetEmailPolicy(settingsSvc.EmailNotificationsEnabled)

	// 9. Начальный владелец
	if cfg.BootstrapOwnerEmail != "" {
		created, bootErr := usersSvc.EnsureOwner(ctx, cfg.BootstrapOwnerEmail, cfg.BootstrapOwnerPassword, cfg.BootstrapOwnerName)
		if bootErr != nil {
			logger.Error("Ошибка создания начального владельца", slog.String("error", bootErr.Error()))
			os.Exit(1)
		}
		if created {
			logger.Info("Создан начальный владелец", slog.String("email", cfg.BootstrapOwnerEmail))
		}
	}

	// 10. JWT middleware и проверка владения
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTSecret,
		cfg.JWTIssuer,
		cfg.JWTLeeway,
		cfg.JWTJWKSURL,
		cfg.JWTIdPIssuer,
		cfg.JWKSRefreshInterval,
		usersSvc,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("issuer", cfg.JWTIssuer),
		slog.Bool("external_idp", cfg.JWTJWKSURL != ""),
	)

	guard := middleware.NewOwnershipGuard(map[middleware.ResourceType]middleware.OwnerLookup{
		middleware.ResourceArticle:      articleRepo.GetAuthorID,
		middleware.ResourceNotification: notificationRepo.GetRecipientID,
	}, logger)

	// 11. Health и API handlers
	var idpChecker handlers.ReadinessChecker
	if cfg.JWTJWKSURL != "" {
		idpChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, readinessTimeout)
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), idpChecker)
	apiHandler := handlers.NewAPIHandler(usersSvc, articlesSvc, auditSvc, notificationsSvc, settingsSvc, hub, logger)

	// 12. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "bm-agency",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.Any("dependencies", dephealthSvc.Dependencies()),
		)
	}

	// 13. HTTP-сервер
	router := server.NewRouter(logger, apiHandler, healthHandler, jwtAuth, guard)
	srv := server.New(cfg, logger, router)
	runErr := srv.Run()
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 14. Остановка: live-канал, затем доставка уведомлений, затем мониторинг
	logger.Info("Останавливаем фоновые задачи...")
	hub.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("Не все доставки уведомлений завершены", slog.String("error", err.Error()))
	}
	cancel()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("BM Agency остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}

// readinessTimeout — таймаут запроса к JWKS в readiness probe.
const readinessTimeout = 5 * time.Second
