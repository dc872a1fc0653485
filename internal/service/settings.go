// settings.go — настройки агентства: чтение для всех пользователей,
// изменение при наличии manage_settings.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

// Действия журнала аудита над настройками.
const (
	AuditSettingUpdated = "setting_updated"
	AuditSettingDeleted = "setting_deleted"
)

const maxSettingValueLen = 1000

// SettingKey описывает допустимый ключ настройки.
type SettingKey struct {
	Key         string
	Description string
	validate    func(value string) error
}

// settingKeys — допустимые ключи (dot-notation).
var settingKeys = map[string]SettingKey{
	"site.name": {
		Description: "Название агентства на сайте",
		validate:    nonEmpty,
	},
	"site.url": {
		Description: "Публичный адрес сайта (http:// или https://)",
		validate:    httpURL,
	},
	"site.contact_email": {
		Description: "Контактный адрес для обращений",
		validate:    emailAddress,
	},
	"content.default_category": {
		Description: "Категория новой статьи по умолчанию",
	},
	"notifications.email_enabled": {
		Description: "Дублировать уведомления на почту (true/false)",
		validate:    boolValue,
	},
	"audit.retention_period": {
		Description: "Срок хранения журнала аудита (например, 90d)",
		validate:    periodValue,
	},
}

func init() {
	for k, v := range settingKeys {
		v.Key = k
		settingKeys[k] = v
	}
}

// SettingKeys возвращает описание допустимых ключей, отсортированное по ключу.
func SettingKeys() []SettingKey {
	out := make([]SettingKey, 0, len(settingKeys))
	for _, k := range settingKeys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SettingsService — сервис настроек агентства.
type SettingsService struct {
	repo   repository.SettingsRepository
	audit  AuditRecorder
	logger *slog.Logger
}

// NewSettingsService создаёт сервис настроек.
func NewSettingsService(repo repository.SettingsRepository, audit AuditRecorder, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		audit:  audit,
		logger: logger.With(slog.String("component", "settings_service")),
	}
}

// List возвращает настройки с ключами, начинающимися на prefix.
func (s *SettingsService) List(ctx context.Context, actor *rbac.Principal, prefix string) ([]*model.Setting, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	settings, err := s.repo.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = []*model.Setting{}
	}
	return settings, nil
}

// Get возвращает настройку по ключу.
func (s *SettingsService) Get(ctx context.Context, actor *rbac.Principal, key string) (*model.Setting, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, translate(err)
	}
	return setting, nil
}

// Set проверяет ключ и значение и сохраняет настройку.
func (s *SettingsService) Set(ctx context.Context, actor *rbac.Principal, key, value string) (*model.Setting, error) {
	if !actor.Can(rbac.CapManageSettings) {
		return nil, forbiddenf("изменение настроек требует %s", rbac.CapManageSettings)
	}
	def, ok := settingKeys[key]
	if !ok {
		return nil, validationf("недопустимый ключ настройки %q", key)
	}
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > maxSettingValueLen {
		return nil, validationf("%s: значение длиннее %d символов", key, maxSettingValueLen)
	}
	if def.validate != nil {
		if err := def.validate(value); err != nil {
			return nil, validationf("%s: %s", key, err.Error())
		}
	}

	setting, err := s.repo.Set(ctx, key, value, actor.UserID)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, model.ResourceSetting, key, AuditSettingUpdated, actor.UserID, map[string]any{
		"value": value,
	})
	s.logger.Info("Настройка обновлена",
		slog.String("key", key),
		slog.String("updated_by", actor.UserID),
	)
	return setting, nil
}

// Delete удаляет настройку, возвращая ключ к значению по умолчанию.
func (s *SettingsService) Delete(ctx context.Context, actor *rbac.Principal, key string) error {
	if !actor.Can(rbac.CapManageSettings) {
		return forbiddenf("изменение настроек требует %s", rbac.CapManageSettings)
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return translate(err)
	}

	s.audit.Record(ctx, model.ResourceSetting, key, AuditSettingDeleted, actor.UserID, nil)
	s.logger.Info("Настройка удалена", slog.String("key", key))
	return nil
}

// EmailNotificationsEnabled сообщает, дублировать ли уведомления на почту.
// Без записи в хранилище — true.
func (s *SettingsService) EmailNotificationsEnabled(ctx context.Context) bool {
	setting, err := s.repo.Get(ctx, "notifications.email_enabled")
	if err != nil {
		return true
	}
	return setting.Value != "false"
}

// --- Валидация значений --- //

func nonEmpty(v string) error {
	if v == "" {
		return fmt.Errorf("значение не может быть пустым")
	}
	return nil
}

func httpURL(v string) error {
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("должен начинаться с http:// или https://")
	}
	return nil
}

func emailAddress(v string) error {
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return fmt.Errorf("некорректный адрес %q", v)
	}
	return nil
}

func boolValue(v string) error {
	if v != "true" && v != "false" {
		return fmt.Errorf("должен быть true или false")
	}
	return nil
}

func periodValue(v string) error {
	d, err := parseDurationExtended(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("период должен быть положительным")
	}
	return nil
}

// parseDurationExtended расширяет time.ParseDuration суффиксом "d" (дни).
func parseDurationExtended(s string) (time.Duration, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("некорректное число дней: %s", numStr)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %s", s)
	}
	return d, nil
}
