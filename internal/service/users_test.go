package service

import (
	"context"
	"slices"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// TestUser_RegisterAndLogin проверяет регистрацию, вход и содержимое токена.
func TestUser_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.userSvc.Register(ctx, "  New.User@Example.COM ", "password-123", "Новый пользователь")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "new.user@example.com" {
		t.Errorf("Email = %q, хотели new.user@example.com", u.Email)
	}
	if !slices.Equal(u.Roles, []rbac.Role{rbac.RoleAuthor}) {
		t.Errorf("Roles = %v, хотели [author]", u.Roles)
	}
	if !u.HasCapability(rbac.CapManageOwnContent) {
		t.Error("права не вычислены при регистрации")
	}

	_, err = env.userSvc.Register(ctx, "new.user@example.com", "password-123", "Дубликат")
	wantErr(t, err, ErrConflict)

	token, expiresAt, got, err := env.userSvc.Login(ctx, "NEW.USER@example.com", "password-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID || expiresAt.IsZero() {
		t.Errorf("Login вернул пользователя %s, expiresAt %v", got.ID, expiresAt)
	}

	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte("test-secret-test-secret-test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("bm-agency"))
	if err != nil || !parsed.Valid {
		t.Fatalf("токен не проходит проверку: %v", err)
	}
	if claims.Subject != u.ID {
		t.Errorf("sub = %s, хотели %s", claims.Subject, u.ID)
	}
}

// TestUser_RegisterValidation проверяет валидацию входных данных.
func TestUser_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		email    string
		password string
		userName string
	}{
		{"некорректный email", "not-an-email", "password-123", "n"},
		{"короткий пароль", "a@example.com", "short", "n"},
		{"длинный пароль", "a@example.com", string(make([]byte, 73)), "n"},
		{"пустое имя", "a@example.com", "password-123", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.userSvc.Register(context.Background(), tt.email, tt.password, tt.userName)
			wantErr(t, err, ErrValidation)
		})
	}
}

// TestUser_LoginFailures проверяет отказы входа.
func TestUser_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, _ := env.addUser(t, "user@bm.test", rbac.RoleAuthor)

	_, _, _, err := env.userSvc.Login(ctx, "user@bm.test", "wrong-password")
	wantErr(t, err, ErrUnauthenticated)

	_, _, _, err = env.userSvc.Login(ctx, "missing@bm.test", "password-123")
	wantErr(t, err, ErrUnauthenticated)

	if err := env.users.SetActive(ctx, u.ID, false); err != nil {
		t.Fatal(err)
	}
	_, _, _, err = env.userSvc.Login(ctx, "user@bm.test", "password-123")
	wantErr(t, err, ErrUnauthenticated)
}

// TestUser_LoadPrincipal проверяет загрузку субъекта и инвалидацию кэша.
func TestUser_LoadPrincipal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target, _ := env.addUser(t, "author@bm.test", rbac.RoleAuthor)
	_, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)

	p, err := env.userSvc.LoadPrincipal(ctx, target.ID)
	if err != nil {
		t.Fatalf("LoadPrincipal: %v", err)
	}
	if p.Can(rbac.CapApproveContent) {
		t.Fatal("автор не должен иметь approve_content")
	}

	if _, err := env.userSvc.AddRole(ctx, admin, target.ID, "editor"); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	p, err = env.userSvc.LoadPrincipal(ctx, target.ID)
	if err != nil {
		t.Fatalf("LoadPrincipal после AddRole: %v", err)
	}
	if !p.Can(rbac.CapApproveContent) {
		t.Error("кэш не инвалидирован: нет approve_content после назначения editor")
	}

	if _, err := env.userSvc.SetActive(ctx, admin, target.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	_, err = env.userSvc.LoadPrincipal(ctx, target.ID)
	wantErr(t, err, ErrUnauthenticated)

	_, err = env.userSvc.LoadPrincipal(ctx, "not-a-uuid")
	wantErr(t, err, ErrUnauthenticated)
}

// TestUser_RemoveLastRole проверяет запрет удаления последней роли.
func TestUser_RemoveLastRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target, _ := env.addUser(t, "author@bm.test", rbac.RoleAuthor)
	_, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)

	_, err := env.userSvc.RemoveRole(ctx, admin, target.ID, "author")
	wantErr(t, err, ErrValidation)

	_, err = env.userSvc.SetRoles(ctx, admin, target.ID, nil)
	wantErr(t, err, ErrValidation)

	stored, _ := env.users.GetByID(ctx, target.ID)
	if !slices.Equal(stored.Roles, []rbac.Role{rbac.RoleAuthor}) {
		t.Errorf("роли изменены: %v", stored.Roles)
	}

	// Запрет по правам не зависит от того, остаётся ли у цели роль.
	owner, ownerP := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	_, err = env.userSvc.RemoveRole(ctx, admin, owner.ID, "owner")
	wantErr(t, err, ErrForbidden)
	_, err = env.userSvc.SetRoles(ctx, admin, owner.ID, []string{})
	wantErr(t, err, ErrForbidden)
	_, err = env.userSvc.RemoveRole(ctx, ownerP, owner.ID, "owner")
	wantErr(t, err, ErrForbidden)
}

// TestUser_RoleChangeRules проверяет правила изменения ролей.
func TestUser_RoleChangeRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, owner := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	adminUser, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)
	otherOwner, _ := env.addUser(t, "owner2@bm.test", rbac.RoleOwner)
	_, editor := env.addUser(t, "editor@bm.test", rbac.RoleEditor)
	author, _ := env.addUser(t, "author@bm.test", rbac.RoleAuthor)

	tests := []struct {
		name  string
		actor *rbac.Principal
		do    func(actor *rbac.Principal) error
		want  error
	}{
		{"без manage_roles", editor, func(a *rbac.Principal) error {
			_, err := env.userSvc.AddRole(ctx, a, author.ID, "editor")
			return err
		}, ErrForbidden},
		{"admin не выдаёт owner", admin, func(a *rbac.Principal) error {
			_, err := env.userSvc.AddRole(ctx, a, author.ID, "owner")
			return err
		}, ErrForbidden},
		{"admin не изменяет owner", admin, func(a *rbac.Principal) error {
			_, err := env.userSvc.AddRole(ctx, a, otherOwner.ID, "editor")
			return err
		}, ErrForbidden},
		{"самопонижение", admin, func(a *rbac.Principal) error {
			_, err := env.userSvc.SetRoles(ctx, a, adminUser.ID, []string{"editor"})
			return err
		}, ErrForbidden},
		{"неизвестная роль", admin, func(a *rbac.Principal) error {
			_, err := env.userSvc.AddRole(ctx, a, author.ID, "superuser")
			return err
		}, ErrValidation},
		{"несуществующий пользователь", admin, func(a *rbac.Principal) error {
			_, err := env.userSvc.AddRole(ctx, a, "00000000-0000-0000-0000-000000000000", "editor")
			return err
		}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErr(t, tt.do(tt.actor), tt.want)
		})
	}

	got, err := env.userSvc.AddRole(ctx, owner, author.ID, "owner")
	if err != nil {
		t.Fatalf("owner выдаёт owner: %v", err)
	}
	if !slices.Equal(got.Roles, []rbac.Role{rbac.RoleOwner, rbac.RoleAuthor}) {
		t.Errorf("Roles = %v, хотели [owner author]", got.Roles)
	}
	if !got.HasCapability(rbac.CapManageUsers) {
		t.Error("права не пересчитаны после изменения ролей")
	}
	if actions := env.audit.actions(author.ID); len(actions) == 0 || actions[len(actions)-1] != AuditRoleAssigned {
		t.Errorf("аудит = %v, хотели role_assigned", actions)
	}
}

// TestUser_DeleteRules проверяет самозащиту при удалении.
func TestUser_DeleteRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ownerUser, owner := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	otherOwner, _ := env.addUser(t, "owner2@bm.test", rbac.RoleOwner)
	_, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)
	author, _ := env.addUser(t, "author@bm.test", rbac.RoleAuthor)

	wantErr(t, env.userSvc.DeleteUser(ctx, owner, otherOwner.ID), ErrForbidden)
	wantErr(t, env.userSvc.DeleteUser(ctx, owner, ownerUser.ID), ErrForbidden)
	wantErr(t, env.userSvc.DeleteUser(ctx, admin, author.ID), ErrForbidden)

	_ = env.notifications.InsertMany(ctx, []*model.Notification{{ID: "n-1", RecipientID: author.ID}})

	if err := env.userSvc.DeleteUser(ctx, owner, author.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := env.users.GetByID(ctx, author.ID); err == nil {
		t.Error("пользователь не удалён")
	}
	if n := env.notifications.countFor(author.ID); n != 0 {
		t.Errorf("уведомлений удалённого пользователя = %d, хотели 0", n)
	}
	if actions := env.audit.actions(author.ID); len(actions) != 1 || actions[0] != AuditUserDeleted {
		t.Errorf("аудит = %v, хотели [user_deleted]", actions)
	}
}

// TestUser_SetActiveRules проверяет запрет самоотключения.
func TestUser_SetActiveRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminUser, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)
	owner, _ := env.addUser(t, "owner@bm.test", rbac.RoleOwner)

	_, err := env.userSvc.SetActive(ctx, admin, adminUser.ID, false)
	wantErr(t, err, ErrForbidden)

	_, err = env.userSvc.SetActive(ctx, admin, owner.ID, false)
	wantErr(t, err, ErrForbidden)
}

// TestUser_Invite проверяет приглашение с ролями.
func TestUser_Invite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)
	_, editor := env.addUser(t, "editor@bm.test", rbac.RoleEditor)

	_, err := env.userSvc.Invite(ctx, editor, InviteInput{Email: "x@bm.test", Name: "x", Password: "password-123"})
	wantErr(t, err, ErrForbidden)

	_, err = env.userSvc.Invite(ctx, admin, InviteInput{Email: "x@bm.test", Name: "x", Password: "password-123", Roles: []string{"owner"}})
	wantErr(t, err, ErrForbidden)

	u, err := env.userSvc.Invite(ctx, admin, InviteInput{Email: "x@bm.test", Name: "x", Password: "password-123", Roles: []string{"editor"}})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if !slices.Equal(u.Roles, []rbac.Role{rbac.RoleEditor}) {
		t.Errorf("Roles = %v, хотели [editor]", u.Roles)
	}

	users, total, err := env.userSvc.ListUsers(ctx, admin, model.UserFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 3 || len(users) != 3 {
		t.Errorf("ListUsers: total = %d, len = %d, хотели 3", total, len(users))
	}
}

// TestUser_EnsureOwner проверяет создание начального владельца.
func TestUser_EnsureOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.userSvc.EnsureOwner(ctx, "Owner@BM.test", "password-123", "Owner")
	if err != nil || !created {
		t.Fatalf("EnsureOwner: created = %v, err = %v", created, err)
	}
	created, err = env.userSvc.EnsureOwner(ctx, "owner@bm.test", "password-123", "Owner")
	if err != nil || created {
		t.Fatalf("повторный EnsureOwner: created = %v, err = %v", created, err)
	}
	if n, _ := env.users.CountByRole(ctx, rbac.RoleOwner); n != 1 {
		t.Errorf("owner = %d, хотели 1", n)
	}
}
