package model

import "time"

// Типы ресурсов журнала аудита.
const (
	ResourceArticle      = "article"
	ResourceUser         = "user"
	ResourceNotification = "notification"
)

// AuditEntry — неизменяемая запись глобального журнала аудита.
type AuditEntry struct {
	ID           string
	ResourceType string
	// ResourceID — может быть пустым для действий без конкретного ресурса
	ResourceID string
	Action     string
	ActorID    string
	Meta       map[string]any
	CreatedAt  time.Time
}

// AuditFilter — фильтр выборки журнала аудита.
type AuditFilter struct {
	ResourceType *string
	ResourceID   *string
	ActorID      *string
	Action       *string
	From         *time.Time
	To           *time.Time
}

// AuditGroupBy — поле группировки агрегатов.
type AuditGroupBy string

const (
	GroupByAction       AuditGroupBy = "action"
	GroupByResourceType AuditGroupBy = "resource_type"
)

// AuditCount — количество записей в группе.
type AuditCount struct {
	Key   string
	Count int
}
