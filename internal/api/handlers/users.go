// users.go — обработчики /api/v1/users endpoints.
// Приглашение, список, роли, активация и удаление пользователей.
// Проверки прав выполняет UserService.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

type inviteRequest struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// ListUsers — GET /api/v1/users?role=&active=&limit=&offset=.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	var filter model.UserFilter
	if raw := r.URL.Query().Get("role"); raw != "" {
		if !rbac.IsValidRole(raw) {
			apierrors.ValidationError(w, "Неизвестная роль: "+raw)
			return
		}
		role := rbac.Role(raw)
		filter.Role = &role
	}
	if filter.Active, err = queryBool(r, "active"); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	users, total, err := h.users.ListUsers(r.Context(), p, filter, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, newListResponse(mapSlice(users, h.mapUserPresence), total, limit, offset))
}

// InviteUser — POST /api/v1/users.
func (h *APIHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req inviteRequest
	if !bindJSON(w, r, &req) {
		return
	}

	user, err := h.users.Invite(r.Context(), p, service.InviteInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Roles:    req.Roles,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, mapUser(user))
}

// GetUser — GET /api/v1/users/{id}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	user, err := h.users.GetUser(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	dto := mapUser(user)
	if p.Can(rbac.CapManageUsers) {
		dto = h.mapUserPresence(user)
	}
	apierrors.WriteSuccess(w, http.StatusOK, dto)
}

// mapUserPresence дополняет представление пользователя признаком подключения к live-каналу.
func (h *APIHandler) mapUserPresence(u *model.User) userDTO {
	dto := mapUser(u)
	if h.live != nil {
		online := h.live.IsOnline(u.ID)
		dto.Online = &online
	}
	return dto
}

// SetUserRoles — PUT /api/v1/users/{id}/roles.
// Полностью заменяет набор ролей.
func (h *APIHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req setRolesRequest
	if !bindJSON(w, r, &req) {
		return
	}

	user, err := h.users.SetRoles(r.Context(), p, chi.URLParam(r, "id"), req.Roles)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapUser(user))
}

// AddUserRole — POST /api/v1/users/{id}/roles/{role}.
func (h *APIHandler) AddUserRole(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	user, err := h.users.AddRole(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapUser(user))
}

// RemoveUserRole — DELETE /api/v1/users/{id}/roles/{role}.
// Удаление последней роли отклоняется.
func (h *APIHandler) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	user, err := h.users.RemoveRole(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapUser(user))
}

// SetUserActive — PUT /api/v1/users/{id}/active.
func (h *APIHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req setActiveRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		apierrors.ValidationError(w, "Поле active обязательно")
		return
	}

	user, err := h.users.SetActive(r.Context(), p, chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapUser(user))
}

// DeleteUser — DELETE /api/v1/users/{id}.
// Доступ: только owner, не себя и не другого owner.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.users.DeleteUser(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
