// notifications.go — обработчики /api/v1/notifications и live-канала.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/live"
)

type unreadCountResponse struct {
	Unread int `json:"unread"`
}

type markAllReadResponse struct {
	Updated int `json:"updated"`
}

// ListNotifications — GET /api/v1/notifications?unread_only=&limit=&offset=.
func (h *APIHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	unreadOnly, err := queryBool(r, "unread_only")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, total, err := h.notifications.List(r.Context(), p, unreadOnly != nil && *unreadOnly, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, newListResponse(mapSlice(items, mapNotification), total, limit, offset))
}

// UnreadCount — GET /api/v1/notifications/unread-count.
func (h *APIHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	n, err := h.notifications.UnreadCount(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, unreadCountResponse{Unread: n})
}

// MarkNotificationRead — POST /api/v1/notifications/{id}/read. Идемпотентно.
func (h *APIHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead — POST /api/v1/notifications/read-all.
func (h *APIHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	n, err := h.notifications.MarkAllRead(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, markAllReadResponse{Updated: n})
}

// DeleteNotification — DELETE /api/v1/notifications/{id}.
// Владение проверяет OwnershipGuard на уровне маршрута.
func (h *APIHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.notifications.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Live — GET /api/v1/live. Переводит соединение в WebSocket.
func (h *APIHandler) Live(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.live.Serve(w, r, p.UserID); err != nil {
		if errors.Is(err, live.ErrHubClosed) {
			// До апгрейда ответ ещё не записан.
			apierrors.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Live-канал остановлен")
			return
		}
		h.logger.Debug("WebSocket не установлен",
			"user_id", p.UserID,
			"error", err,
		)
	}
}
