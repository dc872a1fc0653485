// settings.go — обработчики /api/v1/settings endpoints.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

// ListSettings — GET /api/v1/settings?prefix=site.
func (h *APIHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	settings, err := h.settings.List(r.Context(), p, r.URL.Query().Get("prefix"))
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapSlice(settings, mapSetting))
}

// ListSettingKeys — GET /api/v1/settings/keys. Допустимые ключи с описанием.
func (h *APIHandler) ListSettingKeys(w http.ResponseWriter, r *http.Request) {
	if principal(w, r) == nil {
		return
	}

	keys := service.SettingKeys()
	out := make([]settingKeyDTO, len(keys))
	for i, k := range keys {
		out[i] = settingKeyDTO{Key: k.Key, Description: k.Description}
	}
	apierrors.WriteSuccess(w, http.StatusOK, out)
}

// GetSetting — GET /api/v1/settings/{key}.
func (h *APIHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	s, err := h.settings.Get(r.Context(), p, chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapSetting(s))
}

type setSettingRequest struct {
	Value *string `json:"value"`
}

// PutSetting — PUT /api/v1/settings/{key} {value}.
func (h *APIHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req setSettingRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if req.Value == nil {
		apierrors.ValidationError(w, "value: обязательное поле")
		return
	}

	s, err := h.settings.Set(r.Context(), p, chi.URLParam(r, "key"), *req.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapSetting(s))
}

// DeleteSetting — DELETE /api/v1/settings/{key}.
func (h *APIHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.settings.Delete(r.Context(), p, chi.URLParam(r, "key")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
