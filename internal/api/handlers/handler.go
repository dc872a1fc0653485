// handler.go — основной обработчик REST API BM Agency.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/api/middleware"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

// maxBodyBytes — предел размера JSON-тела запроса.
const maxBodyBytes = 1 << 20

// UserAPI — операции с пользователями (service.UserService).
type UserAPI interface {
	Register(ctx context.Context, email, password, name string) (*model.User, error)
	Login(ctx context.Context, email, password string) (string, time.Time, *model.User, error)
	Me(ctx context.Context, actor *rbac.Principal) (*model.User, error)
	GetUser(ctx context.Context, actor *rbac.Principal, id string) (*model.User, error)
	Invite(ctx context.Context, actor *rbac.Principal, in service.InviteInput) (*model.User, error)
	ListUsers(ctx context.Context, actor *rbac.Principal, filter model.UserFilter, limit, offset int) ([]*model.User, int, error)
	SetRoles(ctx context.Context, actor *rbac.Principal, targetID string, roles []string) (*model.User, error)
	AddRole(ctx context.Context, actor *rbac.Principal, targetID, role string) (*model.User, error)
	RemoveRole(ctx context.Context, actor *rbac.Principal, targetID, role string) (*model.User, error)
	SetActive(ctx context.Context, actor *rbac.Principal, targetID string, active bool) (*model.User, error)
	DeleteUser(ctx context.Context, actor *rbac.Principal, targetID string) error
}

// ArticleAPI — операции со статьями (service.ArticleService).
type ArticleAPI interface {
	Create(ctx context.Context, actor *rbac.Principal, in service.ArticleInput) (*model.Article, error)
	Get(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error)
	List(ctx context.Context, actor *rbac.Principal, filter model.ArticleFilter, limit, offset int) ([]*model.Article, int, error)
	Update(ctx context.Context, actor *rbac.Principal, id string, patch model.ArticlePatch) (*model.Article, error)
	Delete(ctx context.Context, actor *rbac.Principal, id string) error
	History(ctx context.Context, actor *rbac.Principal, id string) ([]model.HistoryEntry, error)
	Submit(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error)
	Approve(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error)
	Reject(ctx context.Context, actor *rbac.Principal, id, reason string) (*model.Article, error)
	Publish(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error)
}

// AuditAPI — чтение журнала аудита (service.AuditService).
type AuditAPI interface {
	List(ctx context.Context, actor *rbac.Principal, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error)
	Stats(ctx context.Context, actor *rbac.Principal, groupBy model.AuditGroupBy, window time.Duration) ([]model.AuditCount, error)
}

// NotificationAPI — уведомления текущего пользователя (service.NotificationService).
type NotificationAPI interface {
	List(ctx context.Context, actor *rbac.Principal, unreadOnly bool, limit, offset int) ([]*model.Notification, int, error)
	UnreadCount(ctx context.Context, actor *rbac.Principal) (int, error)
	MarkRead(ctx context.Context, actor *rbac.Principal, id string) error
	MarkAllRead(ctx context.Context, actor *rbac.Principal) (int, error)
	Delete(ctx context.Context, actor *rbac.Principal, id string) error
}

// SettingsAPI — настройки агентства (service.SettingsService).
type SettingsAPI interface {
	List(ctx context.Context, actor *rbac.Principal, prefix string) ([]*model.Setting, error)
	Get(ctx context.Context, actor *rbac.Principal, key string) (*model.Setting, error)
	Set(ctx context.Context, actor *rbac.Principal, key, value string) (*model.Setting, error)
	Delete(ctx context.Context, actor *rbac.Principal, key string) error
}

// LiveServer — WebSocket-канал (live.Hub).
type LiveServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
	IsOnline(userID string) bool
}

// APIHandler — основной обработчик API BM Agency.
type APIHandler struct {
	users         UserAPI
	articles      ArticleAPI
	audit         AuditAPI
	notifications NotificationAPI
	settings      SettingsAPI
	live          LiveServer
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	users UserAPI,
	articles ArticleAPI,
	audit AuditAPI,
	notifications NotificationAPI,
	settings SettingsAPI,
	live LiveServer,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		users:         users,
		articles:      articles,
		audit:         audit,
		notifications: notifications,
		settings:      settings,
		live:          live,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// listResponse — страница списка.
type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func newListResponse[T any](items []T, total, limit, offset int) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}
}

// mapSlice применяет f к каждому элементу.
func mapSlice[S, T any](in []S, f func(S) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

// errEmptyBody — тело запроса отсутствует (в том числе chunked без данных).
var errEmptyBody = errors.New("пустое тело запроса")

// decodeJSON разбирает тело запроса. Неизвестные поля — ошибка.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// bindJSON разбирает тело и при ошибке пишет 400. Возвращает false, если ответ уже записан.
func bindJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r, v); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// bindOptionalJSON — как bindJSON, но пустое тело допустимо и оставляет v без изменений.
func bindOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := decodeJSON(r, v)
	if err == nil || errors.Is(err, errEmptyBody) {
		return true
	}
	apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
	return false
}

// pagination читает limit и offset из query. Нормализация — в сервисах.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit, err = queryInt(r, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	offset, err = queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	limit, offset = service.NormalizePage(limit, offset)
	return limit, offset, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s: ожидается целое число", key)
	}
	return v, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("параметр %s: ожидается true или false", key)
	}
	return &v, nil
}

func queryString(r *http.Request, key string) *string {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	return &raw
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("параметр %s: ожидается время в формате RFC3339", key)
	}
	return &t, nil
}

// principal возвращает субъекта из контекста; nil означает, что ответ 401 уже записан.
func principal(w http.ResponseWriter, r *http.Request) *rbac.Principal {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
	}
	return p
}

func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	apierrors.FromServiceError(w, err, h.logger)
}
