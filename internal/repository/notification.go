package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// NotificationRepository — доступ к таблице notifications.
type NotificationRepository interface {
	// InsertMany сохраняет уведомления. Внутри транзакции — атомарно.
	InsertMany(ctx context.Context, items []*model.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*model.Notification, error)
	CountByRecipient(ctx context.Context, recipientID string, unreadOnly bool) (int, error)
	// MarkRead помечает уведомление прочитанным. Повторный вызов — не ошибка.
	MarkRead(ctx context.Context, id, recipientID string) error
	// MarkAllRead помечает все уведомления получателя, возвращает число изменённых.
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
	Delete(ctx context.Context, id string) error
	// DeleteByRecipient удаляет все уведомления пользователя.
	DeleteByRecipient(ctx context.Context, recipientID string) (int, error)
	// GetRecipientID возвращает получателя уведомления (для проверки владения).
	GetRecipientID(ctx context.Context, id string) (string, error)
}

type notificationRepo struct {
	db DBTX
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db DBTX) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) InsertMany(ctx context.Context, items []*model.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, type, message, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, n := range items {
		data := n.Data
		if data == nil {
			data = map[string]any{}
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("ошибка сериализации данных уведомления: %w", err)
		}
		if _, err := r.db.Exec(ctx, query,
			n.ID, n.RecipientID, n.Type, n.Message, dataJSON, n.Read, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("ошибка сохранения уведомления для %s: %w", n.RecipientID, err)
		}
	}
	return nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*model.Notification, error) {
	query := `
		SELECT id, recipient_id, type, message, data, read, created_at
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	var result []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var data []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Message, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уведомления: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("ошибка разбора данных уведомления %s: %w", n.ID, err)
			}
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepo) CountByRecipient(ctx context.Context, recipientID string, unreadOnly bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND (NOT $2 OR NOT read)`,
		recipientID, unreadOnly,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта уведомлений: %w", err)
	}
	return count, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id, recipientID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("ошибка отметки уведомления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND NOT read`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки уведомлений: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *notificationRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления уведомления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepo) DeleteByRecipient(ctx context.Context, recipientID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления уведомлений пользователя: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *notificationRepo) GetRecipientID(ctx context.Context, id string) (string, error) {
	var recipient string
	err := r.db.QueryRow(ctx, `SELECT recipient_id FROM notifications WHERE id = $1`, id).Scan(&recipient)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения получателя уведомления: %w", err)
	}
	return recipient, nil
}
