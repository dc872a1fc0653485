// Пакет model — доменные модели BM Agency.
package model

import (
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// User — учётная запись сотрудника с доступом к панели управления.
type User struct {
	// ID — UUID пользователя
	ID string
	// Email — уникальный адрес (хранится в нижнем регистре)
	Email string
	// PasswordHash — bcrypt-хэш пароля, наружу не сериализуется
	PasswordHash string
	// Name — отображаемое имя
	Name string
	// Roles — упорядоченный непустой набор ролей
	Roles []rbac.Role
	// Permissions — производное поле, вычисляется из Roles перед сохранением
	Permissions []rbac.Capability
	// IsActive — мягкое отключение: неактивный пользователь не проходит аутентификацию
	IsActive bool
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}

// HasCapability проверяет наличие возможности в кэшированном наборе прав.
func (u *User) HasCapability(c rbac.Capability) bool {
	for _, p := range u.Permissions {
		if p == c {
			return true
		}
	}
	return false
}

// HasAnyRole проверяет, есть ли у пользователя хотя бы одна из ролей.
func (u *User) HasAnyRole(roles ...rbac.Role) bool {
	for _, r := range roles {
		if rbac.ContainsRole(u.Roles, r) {
			return true
		}
	}
	return false
}

// Principal формирует аутентифицированного субъекта из пользователя.
// Права пересчитываются из ролей, кэшированное поле Permissions не используется.
func (u *User) Principal() (*rbac.Principal, error) {
	return rbac.NewPrincipal(u.ID, u.Email, u.Name, u.Roles)
}

// Target возвращает описание пользователя как объекта административного действия.
func (u *User) Target() rbac.Target {
	return rbac.Target{UserID: u.ID, Roles: u.Roles}
}

// SetRoles заменяет роли и синхронно пересчитывает производные права.
// Вызывается сервисом перед каждым сохранением изменённого набора ролей.
func (u *User) SetRoles(roles []rbac.Role) error {
	normalized := rbac.NormalizeRoles(roles)
	perms, err := rbac.EffectivePermissions(normalized)
	if err != nil {
		return err
	}
	u.Roles = normalized
	u.Permissions = perms.Slice()
	return nil
}

// UserFilter — фильтр списка пользователей.
type UserFilter struct {
	Role   *rbac.Role
	Active *bool
}
