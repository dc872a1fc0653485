// users.go — учётные записи: регистрация, вход, управление ролями и активностью.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

// Ограничения пароля. bcrypt учитывает только первые 72 байта.
const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

// SystemActor — идентификатор субъекта для действий, выполняемых при старте.
const SystemActor = "system"

// Действия журнала аудита над пользователями.
const (
	AuditUserRegistered  = "user_registered"
	AuditUserInvited     = "user_invited"
	AuditRoleAssigned    = "role_assigned"
	AuditRoleRemoved     = "role_removed"
	AuditUserActivated   = "user_activated"
	AuditUserDeactivated = "user_deactivated"
	AuditUserDeleted     = "user_deleted"
	AuditLogin           = "login"
)

// UserRemover удаляет пользователя вместе с его уведомлениями.
type UserRemover interface {
	RemoveUser(ctx context.Context, userID string) error
}

// InviteInput — параметры приглашения пользователя администратором.
type InviteInput struct {
	Email    string
	Name     string
	Password string
	Roles    []string
}

// UserService — сервис учётных записей.
type UserService struct {
	users      repository.UserRepository
	remover    UserRemover
	audit      AuditRecorder
	cache      *PrincipalCache
	tokens     *TokenIssuer
	bcryptCost int
	dummyHash  []byte
	logger     *slog.Logger
}

// NewUserService создаёт сервис учётных записей.
func NewUserService(
	users repository.UserRepository,
	remover UserRemover,
	audit AuditRecorder,
	cache *PrincipalCache,
	tokens *TokenIssuer,
	bcryptCost int,
	logger *slog.Logger,
) *UserService {
	// Хэш для выравнивания времени ответа при несуществующем email.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("bm-agency-dummy-password"), bcryptCost)
	return &UserService{
		users:      users,
		remover:    remover,
		audit:      audit,
		cache:      cache,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
		logger:     logger.With(slog.String("component", "user_service")),
	}
}

// Register создаёт учётную запись с ролью author.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*model.User, error) {
	u, err := s.newUser(email, password, name, []rbac.Role{rbac.RoleAuthor})
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, translate(err)
	}

	s.audit.Record(ctx, model.ResourceUser, u.ID, AuditUserRegistered, u.ID, nil)
	s.logger.Info("Пользователь зарегистрирован", slog.String("user_id", u.ID))
	return u, nil
}

// Login проверяет пароль и выпускает токен.
func (s *UserService) Login(ctx context.Context, email, password string) (string, time.Time, *model.User, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return "", time.Time{}, nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthenticated)
		}
		return "", time.Time{}, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthenticated)
	}
	if !u.IsActive {
		return "", time.Time{}, nil, fmt.Errorf("%w: учётная запись отключена", ErrUnauthenticated)
	}

	token, expiresAt, err := s.tokens.Issue(u)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	s.audit.Record(ctx, model.ResourceUser, u.ID, AuditLogin, u.ID, nil)
	return token, expiresAt, u, nil
}

// LoadPrincipal возвращает актуального субъекта по ID пользователя.
// Отсутствующий или отключённый пользователь — ErrUnauthenticated.
func (s *UserService) LoadPrincipal(ctx context.Context, userID string) (*rbac.Principal, error) {
	u, ok := s.cache.Get(userID)
	if !ok {
		if _, err := uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("%w: некорректный идентификатор субъекта", ErrUnauthenticated)
		}
		var err error
		u, err = s.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: пользователь не найден", ErrUnauthenticated)
			}
			return nil, err
		}
		s.cache.Set(u)
	}
	return principalOf(u)
}

// LoadPrincipalByEmail возвращает субъекта по email (токены внешнего IdP).
func (s *UserService) LoadPrincipalByEmail(ctx context.Context, email string) (*rbac.Principal, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s не зарегистрирован", ErrUnauthenticated, email)
		}
		return nil, err
	}
	return principalOf(u)
}

func principalOf(u *model.User) (*rbac.Principal, error) {
	if !u.IsActive {
		return nil, fmt.Errorf("%w: учётная запись отключена", ErrUnauthenticated)
	}
	p, err := u.Principal()
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// Me возвращает учётную запись текущего субъекта.
func (s *UserService) Me(ctx context.Context, actor *rbac.Principal) (*model.User, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// GetUser возвращает пользователя. Доступно владельцу manage_users и самому пользователю.
func (s *UserService) GetUser(ctx context.Context, actor *rbac.Principal, id string) (*model.User, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if actor.UserID != id && !actor.Can(rbac.CapManageUsers) {
		return nil, forbiddenf("просмотр пользователей требует %s", rbac.CapManageUsers)
	}
	return s.getUser(ctx, id)
}

// Invite создаёт учётную запись от имени администратора.
func (s *UserService) Invite(ctx context.Context, actor *rbac.Principal, in InviteInput) (*model.User, error) {
	if !actor.Can(rbac.CapManageUsers) {
		return nil, forbiddenf("приглашение пользователей требует %s", rbac.CapManageUsers)
	}

	roles := []rbac.Role{rbac.RoleAuthor}
	if len(in.Roles) > 0 {
		parsed, err := rbac.ParseRoles(in.Roles)
		if err != nil {
			return nil, translate(err)
		}
		if len(parsed) == 0 {
			return nil, validationf("набор ролей не может быть пустым")
		}
		roles = parsed
	}
	if !(len(roles) == 1 && roles[0] == rbac.RoleAuthor) && !actor.Can(rbac.CapManageRoles) {
		return nil, forbiddenf("назначение ролей требует %s", rbac.CapManageRoles)
	}
	if rbac.ContainsRole(roles, rbac.RoleOwner) {
		if err := rbac.CheckUserModification(actor, rbac.Target{}, rbac.OpGrantOwner); err != nil {
			return nil, translate(err)
		}
	}

	u, err := s.newUser(in.Email, in.Password, in.Name, roles)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, translate(err)
	}

	s.audit.Record(ctx, model.ResourceUser, u.ID, AuditUserInvited, actor.UserID, map[string]any{
		"roles": roleNames(u.Roles),
	})
	return u, nil
}

// ListUsers возвращает страницу пользователей и общее количество.
func (s *UserService) ListUsers(ctx context.Context, actor *rbac.Principal, filter model.UserFilter, limit, offset int) ([]*model.User, int, error) {
	if !actor.Can(rbac.CapManageUsers) {
		return nil, 0, forbiddenf("просмотр пользователей требует %s", rbac.CapManageUsers)
	}
	limit, offset = NormalizePage(limit, offset)

	users, err := s.users.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.users.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// SetRoles заменяет набор ролей пользователя.
func (s *UserService) SetRoles(ctx context.Context, actor *rbac.Principal, targetID string, roles []string) (*model.User, error) {
	parsed, err := rbac.ParseRoles(roles)
	if err != nil {
		return nil, translate(err)
	}
	return s.changeRoles(ctx, actor, targetID, func([]rbac.Role) []rbac.Role { return parsed })
}

// AddRole добавляет роль пользователю.
func (s *UserService) AddRole(ctx context.Context, actor *rbac.Principal, targetID, role string) (*model.User, error) {
	parsed, err := rbac.ParseRoles([]string{role})
	if err != nil {
		return nil, translate(err)
	}
	return s.changeRoles(ctx, actor, targetID, func(current []rbac.Role) []rbac.Role {
		return append(append([]rbac.Role(nil), current...), parsed[0])
	})
}

// RemoveRole удаляет роль пользователя. Удаление последней роли — ErrValidation.
func (s *UserService) RemoveRole(ctx context.Context, actor *rbac.Principal, targetID, role string) (*model.User, error) {
	parsed, err := rbac.ParseRoles([]string{role})
	if err != nil {
		return nil, translate(err)
	}
	return s.changeRoles(ctx, actor, targetID, func(current []rbac.Role) []rbac.Role {
		next := make([]rbac.Role, 0, len(current))
		for _, r := range current {
			if r != parsed[0] {
				next = append(next, r)
			}
		}
		return next
	})
}

// changeRoles — общий сценарий изменения ролей: проверки, пересчёт прав до
// сохранения, инвалидация кэша, аудит.
func (s *UserService) changeRoles(ctx context.Context, actor *rbac.Principal, targetID string, compute func([]rbac.Role) []rbac.Role) (*model.User, error) {
	if !actor.Can(rbac.CapManageRoles) {
		return nil, forbiddenf("изменение ролей требует %s", rbac.CapManageRoles)
	}

	target, err := s.getUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	before := target.Roles
	next := rbac.NormalizeRoles(compute(before))

	if err := rbac.CheckUserModification(actor, target.Target(), rbac.OpUpdateUser); err != nil {
		return nil, translate(err)
	}
	if rbac.IsDemotion(before, next) {
		if err := rbac.CheckUserModification(actor, target.Target(), rbac.OpDemote); err != nil {
			return nil, translate(err)
		}
	}
	if rbac.ContainsRole(next, rbac.RoleOwner) && !rbac.ContainsRole(before, rbac.RoleOwner) {
		if err := rbac.CheckUserModification(actor, target.Target(), rbac.OpGrantOwner); err != nil {
			return nil, translate(err)
		}
	}
	if len(next) == 0 {
		return nil, validationf("у пользователя должна остаться хотя бы одна роль")
	}

	added, removed := diffRoles(before, next)
	if len(added) == 0 && len(removed) == 0 {
		return target, nil
	}

	if err := target.SetRoles(next); err != nil {
		return nil, translate(err)
	}
	if err := s.users.UpdateRoles(ctx, target); err != nil {
		return nil, translate(err)
	}
	s.cache.Invalidate(target.ID)

	meta := map[string]any{
		"before": roleNames(before),
		"after":  roleNames(target.Roles),
	}
	if len(added) > 0 {
		s.audit.Record(ctx, model.ResourceUser, target.ID, AuditRoleAssigned, actor.UserID, withRoles(meta, added))
	}
	if len(removed) > 0 {
		s.audit.Record(ctx, model.ResourceUser, target.ID, AuditRoleRemoved, actor.UserID, withRoles(meta, removed))
	}

	s.logger.Info("Роли пользователя изменены",
		slog.String("user_id", target.ID),
		slog.String("actor_id", actor.UserID),
		slog.Any("roles", roleNames(target.Roles)),
	)
	return target, nil
}

// SetActive включает или отключает учётную запись.
func (s *UserService) SetActive(ctx context.Context, actor *rbac.Principal, targetID string, active bool) (*model.User, error) {
	if !actor.Can(rbac.CapManageUsers) {
		return nil, forbiddenf("управление пользователями требует %s", rbac.CapManageUsers)
	}

	target, err := s.getUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	op := rbac.OpUpdateUser
	if !active {
		op = rbac.OpDeactivate
	}
	if err := rbac.CheckUserModification(actor, target.Target(), op); err != nil {
		return nil, translate(err)
	}
	if target.IsActive == active {
		return target, nil
	}

	if err := s.users.SetActive(ctx, target.ID, active); err != nil {
		return nil, translate(err)
	}
	target.IsActive = active
	s.cache.Invalidate(target.ID)

	action := AuditUserActivated
	if !active {
		action = AuditUserDeactivated
	}
	s.audit.Record(ctx, model.ResourceUser, target.ID, action, actor.UserID, nil)
	return target, nil
}

// DeleteUser физически удаляет учётную запись. Доступно только owner,
// нельзя удалить себя или другого owner.
func (s *UserService) DeleteUser(ctx context.Context, actor *rbac.Principal, targetID string) error {
	if actor == nil {
		return ErrUnauthenticated
	}

	target, err := s.getUser(ctx, targetID)
	if err != nil {
		return err
	}
	if err := rbac.CheckUserModification(actor, target.Target(), rbac.OpDelete); err != nil {
		return translate(err)
	}

	if err := s.remover.RemoveUser(ctx, target.ID); err != nil {
		return translate(err)
	}
	s.cache.Invalidate(target.ID)

	s.audit.Record(ctx, model.ResourceUser, target.ID, AuditUserDeleted, actor.UserID, map[string]any{
		"email": target.Email,
		"roles": roleNames(target.Roles),
	})
	s.logger.Info("Пользователь удалён",
		slog.String("user_id", target.ID),
		slog.String("actor_id", actor.UserID),
	)
	return nil
}

// EnsureOwner создаёт начального владельца, если в системе нет ни одного owner.
// Существующему пользователю с тем же email роль owner добавляется.
func (s *UserService) EnsureOwner(ctx context.Context, email, password, name string) (bool, error) {
	count, err := s.users.CountByRole(ctx, rbac.RoleOwner)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	existing, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	switch {
	case err == nil:
		if err := existing.SetRoles(append(existing.Roles, rbac.RoleOwner)); err != nil {
			return false, translate(err)
		}
		if err := s.users.UpdateRoles(ctx, existing); err != nil {
			return false, translate(err)
		}
		s.cache.Invalidate(existing.ID)
		s.audit.Record(ctx, model.ResourceUser, existing.ID, AuditRoleAssigned, SystemActor, map[string]any{
			"roles": []string{string(rbac.RoleOwner)},
		})
		return true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return false, err
	}

	u, err := s.newUser(email, password, name, []rbac.Role{rbac.RoleOwner})
	if err != nil {
		return false, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return false, translate(err)
	}
	s.audit.Record(ctx, model.ResourceUser, u.ID, AuditUserInvited, SystemActor, map[string]any{
		"roles": roleNames(u.Roles),
	})
	return true, nil
}

// --- Вспомогательные функции ---

func (s *UserService) getUser(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// newUser валидирует входные данные и формирует пользователя с хэшем пароля.
func (s *UserService) newUser(email, password, name string, roles []rbac.Role) (*model.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, validationf("некорректный email %q", email)
	}
	if len(password) < minPasswordLen {
		return nil, validationf("пароль должен содержать не менее %d символов", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return nil, validationf("пароль не должен превышать %d байт", maxPasswordLen)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationf("имя не может быть пустым")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("хэширование пароля: %w", err)
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsActive:     true,
	}
	if err := u.SetRoles(roles); err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func roleNames(roles []rbac.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func diffRoles(before, after []rbac.Role) (added, removed []rbac.Role) {
	for _, r := range after {
		if !rbac.ContainsRole(before, r) {
			added = append(added, r)
		}
	}
	for _, r := range before {
		if !rbac.ContainsRole(after, r) {
			removed = append(removed, r)
		}
	}
	return added, removed
}

func withRoles(meta map[string]any, roles []rbac.Role) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["roles"] = roleNames(roles)
	return out
}
