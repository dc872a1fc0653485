// auth.go — обработчики /api/v1/auth endpoints.
// POST /register, POST /login — публичные; GET /me — текущий пользователь.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userDTO   `json:"user"`
}

// Register — POST /api/v1/auth/register.
// Создаёт учётную запись с ролью author.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bindJSON(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, mapUser(user))
}

// Login — POST /api/v1/auth/login.
// Возвращает подписанный токен доступа.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bindJSON(w, r, &req) {
		return
	}

	token, expiresAt, user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        mapUser(user),
	})
}

// Me — GET /api/v1/auth/me.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	user, err := h.users.Me(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapUser(user))
}
