package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// UserRepository — доступ к таблице users.
type UserRepository interface {
	// Create создаёт пользователя. Дубликат email — ErrConflict.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByEmail ищет пользователя по email без учёта регистра.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, error)
	Count(ctx context.Context, filter model.UserFilter) (int, error)
	// ListActiveByRoles возвращает активных пользователей, имеющих хотя бы одну из ролей.
	ListActiveByRoles(ctx context.Context, roles []rbac.Role) ([]*model.User, error)
	// UpdateRoles сохраняет роли вместе с производными правами.
	UpdateRoles(ctx context.Context, u *model.User) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	// CountByRole возвращает количество пользователей с ролью.
	CountByRole(ctx context.Context, role rbac.Role) (int, error)
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, email, password_hash, name, roles, permissions, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var roles, perms []string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &roles, &perms,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Roles = make([]rbac.Role, len(roles))
	for i, r := range roles {
		u.Roles[i] = rbac.Role(r)
	}
	u.Permissions = make([]rbac.Capability, len(perms))
	for i, p := range perms {
		u.Permissions[i] = rbac.Capability(p)
	}
	return u, nil
}

func roleStrings(roles []rbac.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func capabilityStrings(caps []rbac.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, name, roles, permissions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.Name,
		roleStrings(u.Roles), capabilityStrings(u.Permissions), u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s уже зарегистрирован", ErrConflict, u.Email)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по email: %w", err)
	}
	return u, nil
}

func buildUserWhere(filter model.UserFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.Role != nil {
		w.add("$%d = ANY(roles)", string(*filter.Role))
	}
	if filter.Active != nil {
		w.add("is_active = $%d", *filter.Active)
	}
	return w
}

func (r *userRepo) List(ctx context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, error) {
	w := buildUserWhere(filter)
	n := w.next()
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, w.sql(), n, n+1)
	args := append(w.args, limit, offset)

	return r.queryUsers(ctx, query, args...)
}

func (r *userRepo) Count(ctx context.Context, filter model.UserFilter) (int, error) {
	w := buildUserWhere(filter)
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users `+w.sql(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return count, nil
}

func (r *userRepo) ListActiveByRoles(ctx context.Context, roles []rbac.Role) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active AND roles && $1 ORDER BY created_at`
	return r.queryUsers(ctx, query, roleStrings(roles))
}

func (r *userRepo) queryUsers(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) UpdateRoles(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users SET roles = $2, permissions = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, u.ID, roleStrings(u.Roles), capabilityStrings(u.Permissions)).
		Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления ролей: %w", err)
	}
	return nil
}

func (r *userRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("ошибка изменения активности пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) CountByRole(ctx context.Context, role rbac.Role) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE $1 = ANY(roles)`, string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей с ролью: %w", err)
	}
	return count, nil
}
