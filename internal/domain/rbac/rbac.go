// Пакет rbac — модель ролей и возможностей (capabilities).
// Роль — именованный набор возможностей; пользователь может иметь несколько ролей.
// Эффективные права = объединение возможностей всех ролей пользователя.
// Таблица ролей фиксирована на этапе компиляции, это не данные из БД.
package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// Role — тег роли пользователя.
type Role string

// Роли в порядке убывания привилегий.
const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
)

// Capability — атомарное право, проверяемое независимо от имени роли.
type Capability string

const (
	CapManageUsers      Capability = "manage_users"
	CapManageRoles      Capability = "manage_roles"
	CapManageSettings   Capability = "manage_settings"
	CapViewAuditLog     Capability = "view_audit_log"
	CapViewDashboard    Capability = "view_dashboard"
	CapManageAllContent Capability = "manage_all_content"
	CapManageOwnContent Capability = "manage_own_content"
	CapApproveContent   Capability = "approve_content"
	CapDeleteContent    Capability = "delete_content"
)

// ErrUnknownRole — тег роли отсутствует в таблице ролей.
var ErrUnknownRole = errors.New("неизвестная роль")

// roleCapabilities — статическая таблица роль → возможности.
var roleCapabilities = map[Role][]Capability{
	RoleOwner: {
		CapManageUsers, CapManageRoles, CapManageSettings, CapViewAuditLog, CapViewDashboard,
		CapManageAllContent, CapManageOwnContent, CapApproveContent, CapDeleteContent,
	},
	RoleAdmin: {
		CapManageUsers, CapManageRoles, CapViewAuditLog, CapViewDashboard,
		CapManageAllContent, CapManageOwnContent, CapApproveContent, CapDeleteContent,
	},
	RoleEditor: {
		CapViewDashboard, CapManageAllContent, CapManageOwnContent, CapApproveContent,
	},
	RoleAuthor: {
		CapViewDashboard, CapManageOwnContent,
	},
}

// roleWeight — вес роли для упорядочивания (owner > admin > editor > author).
var roleWeight = map[Role]int{
	RoleAuthor: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// legacyCapabilities — старые имена возможностей, встречавшиеся в двухролевой модели.
var legacyCapabilities = map[string]Capability{
	"edit_others_content": CapManageAllContent,
}

// PermissionSet — множество возможностей.
type PermissionSet map[Capability]struct{}

// Has проверяет наличие возможности.
func (s PermissionSet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Slice возвращает возможности в отсортированном виде (для сериализации и хранения).
func (s PermissionSet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EffectivePermissions вычисляет объединение возможностей указанных ролей.
// Неизвестный тег роли — ошибка ErrUnknownRole (строгий режим).
func EffectivePermissions(roles []Role) (PermissionSet, error) {
	set := make(PermissionSet)
	for _, r := range roles {
		caps, ok := roleCapabilities[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
		for _, c := range caps {
			set[c] = struct{}{}
		}
	}
	return set, nil
}

// CapabilitiesOf возвращает копию фиксированного списка возможностей роли.
func CapabilitiesOf(r Role) []Capability {
	caps := roleCapabilities[r]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Roles возвращает все роли в порядке убывания привилегий.
func Roles() []Role {
	out := make([]Role, 0, len(roleCapabilities))
	for r := range roleCapabilities {
		out = append(out, r)
	}
	return NormalizeRoles(out)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleCapabilities[Role(role)]
	return ok
}

// ParseRoles преобразует строки в роли, удаляя дубликаты с сохранением порядка.
// Пустой набор допустим на этом уровне — запрет пустого набора проверяет сервис.
func ParseRoles(raw []string) ([]Role, error) {
	seen := make(map[Role]bool, len(raw))
	out := make([]Role, 0, len(raw))
	for _, s := range raw {
		r := Role(s)
		if !IsValidRole(s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, s)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// NormalizeRoles упорядочивает роли по убыванию привилегий и удаляет дубликаты.
func NormalizeRoles(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return roleWeight[out[i]] > roleWeight[out[j]] })
	return out
}

// HighestRole возвращает роль с максимальными привилегиями из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []Role) Role {
	var highest Role
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// ParseCapability возвращает возможность по имени, учитывая устаревшие синонимы.
func ParseCapability(s string) (Capability, bool) {
	if c, ok := legacyCapabilities[s]; ok {
		return c, true
	}
	c := Capability(s)
	for _, caps := range roleCapabilities {
		for _, known := range caps {
			if known == c {
				return c, true
			}
		}
	}
	return "", false
}

// ContainsRole проверяет наличие роли в наборе.
func ContainsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsDemotion сообщает, теряет ли новый набор ролей хотя бы одну роль из старого.
func IsDemotion(before, after []Role) bool {
	for _, r := range before {
		if !ContainsRole(after, r) {
			return true
		}
	}
	return false
}
