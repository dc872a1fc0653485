// audit.go — журнал аудита: запись (best-effort) и чтение для администраторов.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

// auditWriteTimeout — предел времени на запись одной записи аудита.
const auditWriteTimeout = 5 * time.Second

// Параметры постраничной выборки.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// maxStatsWindow — максимальное окно агрегатов журнала.
const maxStatsWindow = 366 * 24 * time.Hour

// AuditRecorder — запись действий в журнал аудита.
type AuditRecorder interface {
	Record(ctx context.Context, resourceType, resourceID, action, actorID string, meta map[string]any)
}

// AuditService — сервис журнала аудита.
type AuditService struct {
	repo   repository.AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditService создаёт сервис журнала аудита.
func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger.With(slog.String("component", "audit_service")),
		now:    time.Now,
	}
}

// Record сохраняет одну запись журнала.
// Ошибка записи не возвращается: она логируется и учитывается в метриках,
// основная операция вызывающего при этом считается успешной.
func (s *AuditService) Record(ctx context.Context, resourceType, resourceID, action, actorID string, meta map[string]any) {
	entry := &model.AuditEntry{
		ID:           uuid.New().String(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		ActorID:      actorID,
		Meta:         meta,
		CreatedAt:    s.now().UTC(),
	}

	// Запись не должна прерываться отменой клиентского запроса.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := s.repo.Insert(writeCtx, entry); err != nil {
		auditWriteFailuresTotal.Inc()
		s.logger.Error("Не удалось записать действие в журнал аудита",
			slog.String("resource_type", resourceType),
			slog.String("resource_id", resourceID),
			slog.String("action", action),
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
	}
}

// List возвращает страницу журнала и общее количество записей по фильтру.
func (s *AuditService) List(ctx context.Context, actor *rbac.Principal, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error) {
	if !actor.Can(rbac.CapViewAuditLog) {
		return nil, 0, forbiddenf("просмотр журнала требует %s", rbac.CapViewAuditLog)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, 0, validationf("from должен быть раньше to")
	}
	limit, offset = NormalizePage(limit, offset)

	entries, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Stats возвращает агрегаты журнала за окно, отсчитанное от текущего момента.
func (s *AuditService) Stats(ctx context.Context, actor *rbac.Principal, groupBy model.AuditGroupBy, window time.Duration) ([]model.AuditCount, error) {
	if !actor.Can(rbac.CapViewAuditLog) {
		return nil, forbiddenf("просмотр журнала требует %s", rbac.CapViewAuditLog)
	}
	switch groupBy {
	case model.GroupByAction, model.GroupByResourceType:
	default:
		return nil, validationf("group_by: допустимые значения action, resource_type")
	}
	if window <= 0 || window > maxStatsWindow {
		return nil, validationf("window: допустимый диапазон от 1s до %s", maxStatsWindow)
	}

	stats, err := s.repo.Stats(ctx, groupBy, s.now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []model.AuditCount{}
	}
	return stats, nil
}

// NormalizePage приводит параметры пагинации к допустимому диапазону.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
