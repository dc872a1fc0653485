package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// AuditRepository — журнал аудита. Пути изменения или удаления записей нет.
type AuditRepository interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
	List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, error)
	Count(ctx context.Context, filter model.AuditFilter) (int, error)
	// Stats возвращает количество записей, сгруппированных по полю, начиная с since.
	Stats(ctx context.Context, groupBy model.AuditGroupBy, since time.Time) ([]model.AuditCount, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации meta: %w", err)
	}

	var resourceID *string
	if e.ResourceID != "" {
		resourceID = &e.ResourceID
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_log (id, resource_type, resource_id, action, actor_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ResourceType, resourceID, e.Action, e.ActorID, metaJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}
	return nil
}

func buildAuditWhere(filter model.AuditFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.ResourceType != nil {
		w.add("resource_type = $%d", *filter.ResourceType)
	}
	if filter.ResourceID != nil {
		w.add("resource_id = $%d", *filter.ResourceID)
	}
	if filter.ActorID != nil {
		w.add("actor_id = $%d", *filter.ActorID)
	}
	if filter.Action != nil {
		w.add("action = $%d", *filter.Action)
	}
	if filter.From != nil {
		w.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at < $%d", *filter.To)
	}
	return w
}

func (r *auditRepo) List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, error) {
	w := buildAuditWhere(filter)
	n := w.next()
	query := fmt.Sprintf(`
		SELECT id, resource_type, COALESCE(resource_id, ''), action, actor_id, meta, created_at
		FROM audit_log
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, w.sql(), n, n+1)
	args := append(w.args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ResourceType, &e.ResourceID, &e.Action, &e.ActorID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("ошибка разбора meta записи %s: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, filter model.AuditFilter) (int, error) {
	w := buildAuditWhere(filter)
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log `+w.sql(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}

func (r *auditRepo) Stats(ctx context.Context, groupBy model.AuditGroupBy, since time.Time) ([]model.AuditCount, error) {
	// Имя колонки берётся только из фиксированного набора.
	var column string
	switch groupBy {
	case model.GroupByAction:
		column = "action"
	case model.GroupByResourceType:
		column = "resource_type"
	default:
		return nil, fmt.Errorf("недопустимое поле группировки %q", groupBy)
	}

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*)
		FROM audit_log
		WHERE created_at >= $1
		GROUP BY %s
		ORDER BY COUNT(*) DESC, %s`, column, column, column)

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []model.AuditCount
	for rows.Next() {
		var c model.AuditCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
