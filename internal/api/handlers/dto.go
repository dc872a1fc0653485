// dto.go — JSON-представления доменных моделей.
package handlers

import (
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	PrimaryRole string    `json:"primary_role"`
	IsActive    bool      `json:"is_active"`
	Online      *bool     `json:"online,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func mapUser(u *model.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Roles:       mapSlice(u.Roles, func(r rbac.Role) string { return string(r) }),
		Permissions: mapSlice(u.Permissions, func(c rbac.Capability) string { return string(c) }),
		PrimaryRole: string(rbac.HighestRole(u.Roles)),
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type articleDTO struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Slug        string               `json:"slug"`
	Body        string               `json:"body"`
	BodyHTML    string               `json:"body_html,omitempty"`
	Excerpt     string               `json:"excerpt"`
	Category    string               `json:"category"`
	Tags        []string             `json:"tags"`
	Status      string               `json:"status"`
	Published   bool                 `json:"published"`
	AuthorID    string               `json:"author_id"`
	History     []model.HistoryEntry `json:"history"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time           `json:"approved_at,omitempty"`
	PublishedAt *time.Time           `json:"published_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func mapArticle(a *model.Article) articleDTO {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	history := a.History
	if history == nil {
		history = []model.HistoryEntry{}
	}
	return articleDTO{
		ID:          a.ID,
		Title:       a.Title,
		Slug:        a.Slug,
		Body:        a.Body,
		Excerpt:     a.Excerpt,
		Category:    a.Category,
		Tags:        tags,
		Status:      string(a.Status),
		Published:   a.Published,
		AuthorID:    a.AuthorID,
		History:     history,
		SubmittedAt: a.SubmittedAt,
		ApprovedAt:  a.ApprovedAt,
		PublishedAt: a.PublishedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type auditEntryDTO struct {
	ID           string         `json:"id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func mapAuditEntry(e *model.AuditEntry) auditEntryDTO {
	return auditEntryDTO{
		ID:           e.ID,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Action:       e.Action,
		ActorID:      e.ActorID,
		Meta:         e.Meta,
		CreatedAt:    e.CreatedAt,
	}
}

type auditCountDTO struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type notificationDTO struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

func mapNotification(n *model.Notification) notificationDTO {
	return notificationDTO{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

type settingDTO struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

func mapSetting(s *model.Setting) settingDTO {
	return settingDTO{
		Key:       s.Key,
		Value:     s.Value,
		UpdatedAt: s.UpdatedAt,
		UpdatedBy: s.UpdatedBy,
	}
}

type settingKeyDTO struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}
