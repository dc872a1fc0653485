// audit.go — обработчики /api/v1/audit-logs endpoints.
// Журнал только читается; доступ — view_audit_log.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

const defaultStatsWindow = 7 * 24 * time.Hour

// ListAuditLogs — GET /api/v1/audit-logs.
// Фильтры: resource_type, resource_id, actor_id, action, from, to (RFC3339).
func (h *APIHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	filter := model.AuditFilter{
		ResourceType: queryString(r, "resource_type"),
		ResourceID:   queryString(r, "resource_id"),
		ActorID:      queryString(r, "actor_id"),
		Action:       queryString(r, "action"),
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	entries, total, err := h.audit.List(r.Context(), p, filter, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, newListResponse(mapSlice(entries, mapAuditEntry), total, limit, offset))
}

// AuditStats — GET /api/v1/audit-logs/stats?group_by=action|resource_type&window=168h.
func (h *APIHandler) AuditStats(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	groupBy := model.GroupByAction
	if raw := r.URL.Query().Get("group_by"); raw != "" {
		groupBy = model.AuditGroupBy(raw)
	}

	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			apierrors.ValidationError(w, "Параметр window: ожидается длительность, например 24h")
			return
		}
		window = d
	}

	stats, err := h.audit.Stats(r.Context(), p, groupBy, window)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapSlice(stats, func(c model.AuditCount) auditCountDTO {
		return auditCountDTO{Key: c.Key, Count: c.Count}
	}))
}
