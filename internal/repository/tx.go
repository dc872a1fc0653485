package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// TxNotificationWriter сохраняет пакет уведомлений одной транзакцией:
// получатели события видят либо все свои уведомления, либо ни одного.
type TxNotificationWriter struct {
	runner *TxRunner
}

// NewTxNotificationWriter создаёт TxNotificationWriter.
func NewTxNotificationWriter(runner *TxRunner) *TxNotificationWriter {
	return &TxNotificationWriter{runner: runner}
}

// InsertMany сохраняет уведомления атомарно.
func (w *TxNotificationWriter) InsertMany(ctx context.Context, items []*model.Notification) error {
	if len(items) == 0 {
		return nil
	}
	return w.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return NewNotificationRepository(tx).InsertMany(ctx, items)
	})
}

// TxUserRemover удаляет пользователя вместе с его уведомлениями.
type TxUserRemover struct {
	runner *TxRunner
}

// NewTxUserRemover создаёт TxUserRemover.
func NewTxUserRemover(runner *TxRunner) *TxUserRemover {
	return &TxUserRemover{runner: runner}
}

// RemoveUser удаляет уведомления и учётную запись в одной транзакции.
// Статьи пользователя сохраняются: ссылка author_id остаётся в истории.
func (r *TxUserRemover) RemoveUser(ctx context.Context, userID string) error {
	return r.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := NewNotificationRepository(tx).DeleteByRecipient(ctx, userID); err != nil {
			return fmt.Errorf("удаление уведомлений пользователя %s: %w", userID, err)
		}
		return NewUserRepository(tx).Delete(ctx, userID)
	})
}
