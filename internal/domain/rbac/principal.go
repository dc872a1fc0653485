// principal.go — аутентифицированный субъект и правила самозащиты учётных записей.
package rbac

import (
	"errors"
	"fmt"
)

// ErrDenied — действие запрещено правилами доступа.
var ErrDenied = errors.New("доступ запрещён")

// Principal — аутентифицированный субъект запроса.
// Создаётся один раз в middleware аутентификации и явно передаётся в сервисы.
type Principal struct {
	UserID      string
	Email       string
	Name        string
	Roles       []Role
	Permissions PermissionSet
}

// NewPrincipal создаёт субъекта и вычисляет его эффективные права.
func NewPrincipal(userID, email, name string, roles []Role) (*Principal, error) {
	perms, err := EffectivePermissions(roles)
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID:      userID,
		Email:       email,
		Name:        name,
		Roles:       roles,
		Permissions: perms,
	}, nil
}

// Can проверяет наличие возможности у субъекта.
func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	return p.Permissions.Has(c)
}

// HasAnyRole проверяет, есть ли у субъекта хотя бы одна из ролей.
func (p *Principal) HasAnyRole(roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, want := range roles {
		if ContainsRole(p.Roles, want) {
			return true
		}
	}
	return false
}

// IsOwner — сокращение для HasAnyRole(RoleOwner).
func (p *Principal) IsOwner() bool {
	return p.HasAnyRole(RoleOwner)
}

// UserOp — вид изменения чужой (или своей) учётной записи.
type UserOp string

const (
	OpUpdateUser UserOp = "update"
	OpDemote     UserOp = "demote"
	OpDeactivate UserOp = "deactivate"
	OpDelete     UserOp = "delete"
	OpGrantOwner UserOp = "grant_owner"
)

// Target — учётная запись, над которой выполняется действие.
type Target struct {
	UserID string
	Roles  []Role
}

// CheckUserModification применяет правила, не сводящиеся к проверке возможностей:
//   - owner может изменять только другой owner;
//   - нельзя удалить, понизить или деактивировать самого себя;
//   - удалять пользователей может только owner, и не другого owner;
//   - выдать роль owner может только owner.
//
// Проверка возможностей (manage_users, manage_roles) выполняется отдельно.
func CheckUserModification(actor *Principal, target Target, op UserOp) error {
	if actor == nil {
		return fmt.Errorf("%w: субъект не определён", ErrDenied)
	}
	self := actor.UserID == target.UserID
	targetIsOwner := ContainsRole(target.Roles, RoleOwner)

	switch op {
	case OpDelete:
		if self {
			return fmt.Errorf("%w: нельзя удалить собственную учётную запись", ErrDenied)
		}
		if !actor.IsOwner() {
			return fmt.Errorf("%w: удалять пользователей может только owner", ErrDenied)
		}
		if targetIsOwner {
			return fmt.Errorf("%w: нельзя удалить другого owner", ErrDenied)
		}
		return nil
	case OpDemote, OpDeactivate:
		if self {
			return fmt.Errorf("%w: нельзя понизить или отключить собственную учётную запись", ErrDenied)
		}
	case OpGrantOwner:
		if !actor.IsOwner() {
			return fmt.Errorf("%w: роль owner может выдать только owner", ErrDenied)
		}
	}

	if targetIsOwner && !actor.IsOwner() {
		return fmt.Errorf("%w: учётную запись owner может изменять только owner", ErrDenied)
	}
	return nil
}
