package service

import (
	"context"
	"testing"
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

func TestSettings_Set(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	_, admin := env.addUser(t, "admin@bm.test", rbac.RoleAdmin)
	svc := NewSettingsService(newFakeSettingsRepo(), env.auditSvc, testLogger())

	tests := []struct {
		name    string
		actor   *rbac.Principal
		key     string
		value   string
		wantErr error
	}{
		{"владелец задаёт название", owner, "site.name", "BM Agency", nil},
		{"админ без manage_settings", admin, "site.name", "BM Agency", ErrForbidden},
		{"анонимный субъект", nil, "site.name", "BM Agency", ErrForbidden},
		{"неизвестный ключ", owner, "prometheus.url", "http://x", ErrValidation},
		{"пустое название", owner, "site.name", "  ", ErrValidation},
		{"url без схемы", owner, "site.url", "bm.agency", ErrValidation},
		{"корректный url", owner, "site.url", "https://bm.agency", nil},
		{"некорректный email", owner, "site.contact_email", "Отдел <info@bm.agency>", ErrValidation},
		{"корректный email", owner, "site.contact_email", "info@bm.agency", nil},
		{"bool не true/false", owner, "notifications.email_enabled", "yes", ErrValidation},
		{"период в днях", owner, "audit.retention_period", "90d", nil},
		{"отрицательный период", owner, "audit.retention_period", "-1h", ErrValidation},
		{"категория без валидатора", owner, "content.default_category", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Set(context.Background(), tt.actor, tt.key, tt.value)
			if tt.wantErr != nil {
				wantErr(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got.Key != tt.key || got.UpdatedBy != tt.actor.UserID {
				t.Errorf("Set = %+v, хотели ключ %s от %s", got, tt.key, tt.actor.UserID)
			}
		})
	}
}

func TestSettings_ListGetDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, owner := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	_, author := env.addUser(t, "author@bm.test", rbac.RoleAuthor)
	svc := NewSettingsService(newFakeSettingsRepo(), env.auditSvc, testLogger())

	for key, value := range map[string]string{"site.name": "BM", "site.url": "https://bm.agency", "audit.retention_period": "30d"} {
		if _, err := svc.Set(ctx, owner, key, value); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	list, err := svc.List(ctx, author, "site.")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Key != "site.name" {
		t.Errorf("List(site.) = %d записей, хотели 2", len(list))
	}
	if _, err := svc.List(ctx, nil, ""); err == nil {
		t.Error("List без субъекта должен вернуть ошибку")
	}

	got, err := svc.Get(ctx, author, "site.url")
	if err != nil || got.Value != "https://bm.agency" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	_, err = svc.Get(ctx, author, "content.default_category")
	wantErr(t, err, ErrNotFound)

	wantErr(t, svc.Delete(ctx, author, "site.url"), ErrForbidden)
	if err := svc.Delete(ctx, owner, "site.url"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	wantErr(t, svc.Delete(ctx, owner, "site.url"), ErrNotFound)

	var actions []string
	for _, e := range env.audit.entries {
		if e.ResourceType == model.ResourceSetting {
			actions = append(actions, e.Action)
		}
	}
	if len(actions) != 4 || actions[3] != AuditSettingDeleted {
		t.Errorf("записи аудита настроек = %v", actions)
	}
}

func TestSettings_EmailPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, owner := env.addUser(t, "owner@bm.test", rbac.RoleOwner)
	svc := NewSettingsService(newFakeSettingsRepo(), env.auditSvc, testLogger())

	if !svc.EmailNotificationsEnabled(ctx) {
		t.Error("без настройки письма должны быть включены")
	}
	if _, err := svc.Set(ctx, owner, "notifications.email_enabled", "false"); err != nil {
		t.Fatal(err)
	}

	mail := &fakeMailer{}
	d := NewNotificationDispatcher(&fakeNotificationRepo{}, nil, mail, testLogger())
	d.SetEmailPolicy(svc.EmailNotificationsEnabled)
	if _, err := d.Notify(ctx, []Recipient{{UserID: "u1", Email: "u1@bm.test"}}, testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	d.Wait()
	if mail.count() != 0 {
		t.Errorf("писем = %d, хотели 0 при выключенной настройке", mail.count())
	}
}

func TestParseDurationExtended(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"36h", 36 * time.Hour, false},
		{"xd", 0, true},
		{"неделя", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDurationExtended(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseDurationExtended(%q) = %v, %v; хотели %v", tt.in, got, err, tt.want)
		}
	}
}
