package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

const (
	ownedID   = "11111111-1111-1111-1111-111111111111"
	missingID = "22222222-2222-2222-2222-222222222222"
	brokenID  = "33333333-3333-3333-3333-333333333333"
)

func newTestGuard() *OwnershipGuard {
	lookup := func(_ context.Context, id string) (string, error) {
		switch id {
		case ownedID:
			return "u-owner", nil
		case brokenID:
			return "", errors.New("соединение потеряно")
		default:
			return "", repository.ErrNotFound
		}
	}
	return NewOwnershipGuard(map[ResourceType]OwnerLookup{
		ResourceNotification: lookup,
		ResourceArticle:      lookup,
	}, testLogger())
}

func TestOwnershipGuard_RequireOwnerOr(t *testing.T) {
	guard := newTestGuard()

	owner := mustPrincipal(t, "u-owner", "owner@bm.test", rbac.RoleAuthor)
	stranger := mustPrincipal(t, "u-other", "other@bm.test", rbac.RoleAuthor)
	editor := mustPrincipal(t, "u-editor", "editor@bm.test", rbac.RoleEditor)

	tests := []struct {
		name       string
		rt         ResourceType
		bypass     rbac.Capability
		principal  *rbac.Principal
		id         string
		wantStatus int
	}{
		{"владелец", ResourceNotification, "", owner, ownedID, http.StatusOK},
		{"чужой", ResourceNotification, "", stranger, ownedID, http.StatusForbidden},
		{"редактор без bypass", ResourceNotification, "", editor, ownedID, http.StatusForbidden},
		{"редактор с bypass", ResourceArticle, rbac.CapManageAllContent, editor, ownedID, http.StatusOK},
		{"автор не проходит по bypass", ResourceArticle, rbac.CapManageAllContent, stranger, ownedID, http.StatusForbidden},
		{"не найдено", ResourceNotification, "", owner, missingID, http.StatusNotFound},
		{"не uuid", ResourceNotification, "", owner, "not-a-uuid", http.StatusNotFound},
		{"ошибка хранилища", ResourceNotification, "", owner, brokenID, http.StatusInternalServerError},
		{"без субъекта", ResourceNotification, "", nil, ownedID, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.With(guard.RequireOwnerOr(tt.rt, "id", tt.bypass)).Delete("/items/{id}", principalEcho)

			req := httptest.NewRequest(http.MethodDelete, "/items/"+tt.id, nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("код = %d, хотели %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestOwnershipGuard_UnknownResourcePanics(t *testing.T) {
	guard := NewOwnershipGuard(map[ResourceType]OwnerLookup{}, testLogger())

	defer func() {
		if recover() == nil {
			t.Error("ожидали panic для незарегистрированного типа ресурса")
		}
	}()
	guard.RequireOwnerOr(ResourceArticle, "id", "")
}
