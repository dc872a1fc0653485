package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// SettingsRepository — доступ к таблице settings.
type SettingsRepository interface {
	// Get возвращает настройку по ключу. Если не найдена — ErrNotFound.
	Get(ctx context.Context, key string) (*model.Setting, error)
	// Set создаёт или обновляет настройку (upsert) и возвращает сохранённую запись.
	Set(ctx context.Context, key, value, updatedBy string) (*model.Setting, error)
	// List возвращает настройки с ключами, начинающимися на prefix (пустой — все).
	List(ctx context.Context, prefix string) ([]*model.Setting, error)
	Delete(ctx context.Context, key string) error
}

type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий настроек агентства.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	query := `
		SELECT key, value, updated_at, updated_by
		FROM settings
		WHERE key = $1`

	s := &model.Setting{}
	err := r.db.QueryRow(ctx, query, key).Scan(&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения настройки %s: %w", key, err)
	}
	return s, nil
}

// Set выполняет INSERT ... ON CONFLICT DO UPDATE.
func (r *settingsRepo) Set(ctx context.Context, key, value, updatedBy string) (*model.Setting, error) {
	query := `
		INSERT INTO settings (key, value, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()
		RETURNING key, value, updated_at, updated_by`

	s := &model.Setting{}
	err := r.db.QueryRow(ctx, query, key, value, updatedBy).Scan(&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	return s, nil
}

func (r *settingsRepo) List(ctx context.Context, prefix string) ([]*model.Setting, error) {
	// prefix сравнивается буквально, без шаблонов LIKE
	query := `
		SELECT key, value, updated_at, updated_by
		FROM settings
		WHERE $1::text = '' OR starts_with(key, $1)
		ORDER BY key`

	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка настроек: %w", err)
	}
	defer rows.Close()

	var result []*model.Setting
	for rows.Next() {
		s := &model.Setting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, fmt.Errorf("ошибка сканирования настройки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления настройки %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
