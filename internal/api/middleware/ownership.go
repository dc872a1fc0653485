// ownership.go — проверка владения ресурсом.
// Таблица «тип ресурса → способ найти владельца» задаётся один раз при создании.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

// ResourceType — тип ресурса, у которого есть владелец.
type ResourceType string

const (
	ResourceArticle      ResourceType = "article"
	ResourceNotification ResourceType = "notification"
)

// OwnerLookup возвращает ID владельца ресурса.
type OwnerLookup func(ctx context.Context, id string) (string, error)

// OwnershipGuard — middleware «владелец или держатель возможности».
type OwnershipGuard struct {
	lookups map[ResourceType]OwnerLookup
	logger  *slog.Logger
}

// NewOwnershipGuard создаёт guard. Карта копируется.
func NewOwnershipGuard(lookups map[ResourceType]OwnerLookup, logger *slog.Logger) *OwnershipGuard {
	m := make(map[ResourceType]OwnerLookup, len(lookups))
	for k, v := range lookups {
		m[k] = v
	}
	return &OwnershipGuard{
		lookups: m,
		logger:  logger.With(slog.String("component", "ownership_guard")),
	}
}

// RequireOwnerOr пропускает владельца ресурса (ID берётся из URL-параметра param)
// или субъекта с возможностью bypass. Пустой bypass — только владелец.
// Неизвестный тип ресурса — panic при регистрации маршрута.
func (g *OwnershipGuard) RequireOwnerOr(rt ResourceType, param string, bypass rbac.Capability) func(http.Handler) http.Handler {
	lookup, ok := g.lookups[rt]
	if !ok {
		panic(fmt.Sprintf("ownership: не зарегистрирован тип ресурса %q", rt))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if bypass != "" && p.Can(bypass) {
				next.ServeHTTP(w, r)
				return
			}

			id := chi.URLParam(r, param)
			if _, err := uuid.Parse(id); err != nil {
				apierrors.NotFound(w, fmt.Sprintf("%s не найден", rt))
				return
			}

			ownerID, err := lookup(r.Context(), id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) || errors.Is(err, service.ErrNotFound) {
					apierrors.NotFound(w, fmt.Sprintf("%s не найден", rt))
					return
				}
				apierrors.FromServiceError(w, err, g.logger)
				return
			}

			if ownerID != p.UserID {
				g.logger.Debug("Доступ к чужому ресурсу",
					slog.String("resource_type", string(rt)),
					slog.String("resource_id", id),
					slog.String("user_id", p.UserID),
				)
				apierrors.Forbidden(w, "Ресурс принадлежит другому пользователю")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
