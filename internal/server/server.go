// Пакет server — HTTP-сервер BM Agency с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/russeltsague/BM-Agency-sub000/internal/api/handlers"
	"github.com/russeltsague/BM-Agency-sub000/internal/api/middleware"
	"github.com/russeltsague/BM-Agency-sub000/internal/config"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// Server — HTTP-сервер BM Agency.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, router http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter регистрирует маршруты API.
// Публичные: health, metrics, регистрация и вход. Остальные — после JWTAuth.
// Права на действие проверяют сервисы; на маршрутах — только грубые фильтры
// и проверка владения, не зависящая от состояния ресурса.
func NewRouter(
	logger *slog.Logger,
	api *handlers.APIHandler,
	health *handlers.HealthHandler,
	jwtAuth *middleware.JWTAuth,
	guard *middleware.OwnershipGuard,
) http.Handler {
	r := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Get("/metrics", health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", api.Register)
		r.Post("/auth/login", api.Login)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware())

			r.Get("/auth/me", api.Me)
			r.Get("/live", api.Live)
			r.Get("/roles", api.ListRoles)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", api.ListUsers)
				r.With(middleware.RequireCapability(rbac.CapManageUsers)).Post("/", api.InviteUser)
				r.Get("/{id}", api.GetUser)
				r.With(middleware.RequireCapability(rbac.CapManageUsers)).Delete("/{id}", api.DeleteUser)
				r.With(middleware.RequireCapability(rbac.CapManageUsers)).Put("/{id}/active", api.SetUserActive)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(rbac.CapManageRoles))
					r.Put("/{id}/roles", api.SetUserRoles)
					r.Post("/{id}/roles/{role}", api.AddUserRole)
					r.Delete("/{id}/roles/{role}", api.RemoveUserRole)
				})
			})

			r.Route("/articles", func(r chi.Router) {
				r.Get("/", api.ListArticles)
				r.With(middleware.RequireCapability(rbac.CapManageOwnContent)).Post("/", api.CreateArticle)
				r.Get("/{id}", api.GetArticle)
				r.Get("/{id}/history", api.ArticleHistory)
				r.With(guard.RequireOwnerOr(middleware.ResourceArticle, "id", rbac.CapManageAllContent)).
					Patch("/{id}", api.UpdateArticle)
				r.With(guard.RequireOwnerOr(middleware.ResourceArticle, "id", rbac.CapDeleteContent)).
					Delete("/{id}", api.DeleteArticle)

				r.Post("/{id}/submit", api.SubmitArticle)
				r.With(middleware.RequireCapability(rbac.CapApproveContent)).Post("/{id}/approve", api.ApproveArticle)
				r.With(middleware.RequireCapability(rbac.CapApproveContent)).Post("/{id}/reject", api.RejectArticle)
				r.With(middleware.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin)).
					Post("/{id}/publish", api.PublishArticle)
			})

			r.Route("/audit-logs", func(r chi.Router) {
				r.Use(middleware.RequireCapability(rbac.CapViewAuditLog))
				r.Get("/", api.ListAuditLogs)
				r.Get("/stats", api.AuditStats)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", api.ListNotifications)
				r.Get("/unread-count", api.UnreadCount)
				r.Post("/read-all", api.MarkAllNotificationsRead)
				r.Post("/{id}/read", api.MarkNotificationRead)
				r.With(guard.RequireOwnerOr(middleware.ResourceNotification, "id", "")).
					Delete("/{id}", api.DeleteNotification)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", api.ListSettings)
				r.Get("/keys", api.ListSettingKeys)
				r.Get("/{key}", api.GetSetting)
				r.With(middleware.RequireCapability(rbac.CapManageSettings)).Put("/{key}", api.PutSetting)
				r.With(middleware.RequireCapability(rbac.CapManageSettings)).Delete("/{key}", api.DeleteSetting)
			})
		})
	})

	return r
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown HTTP-сервера;
// остальные компоненты останавливает вызывающий.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
