// roles.go — обработчик /api/v1/roles: справочник ролей и их возможностей.
package handlers

import (
	"net/http"
	"slices"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

type roleDTO struct {
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// ListRoles — GET /api/v1/roles.
// ?capability= оставляет роли, дающие возможность; принимаются и устаревшие имена.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	if principal(w, r) == nil {
		return
	}

	var filter rbac.Capability
	if raw := r.URL.Query().Get("capability"); raw != "" {
		c, ok := rbac.ParseCapability(raw)
		if !ok {
			apierrors.ValidationError(w, "Неизвестная возможность: "+raw)
			return
		}
		filter = c
	}

	roles := rbac.Roles()
	out := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		caps := rbac.CapabilitiesOf(role)
		if filter != "" && !slices.Contains(caps, filter) {
			continue
		}
		out = append(out, roleDTO{
			Role:         string(role),
			Capabilities: mapSlice(caps, func(c rbac.Capability) string { return string(c) }),
		})
	}
	apierrors.WriteSuccess(w, http.StatusOK, out)
}
