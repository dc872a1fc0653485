// notifications.go — рассылка уведомлений (хранилище, live-канал, email)
// и операции получателя над своими уведомлениями.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/mailer"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

// deliveryTimeout — предел времени на доставку одного уведомления по каналу.
const deliveryTimeout = 30 * time.Second

// Каналы доставки (значения метки channel).
const (
	channelLive  = "live"
	channelEmail = "email"
)

// Recipient — получатель события.
type Recipient struct {
	UserID string
	Email  string
}

// NotificationWriter — сохранение пакета уведомлений.
type NotificationWriter interface {
	InsertMany(ctx context.Context, items []*model.Notification) error
}

// LiveNotifier — доставка уведомления подключённому пользователю.
// Возвращает false, если пользователь сейчас не подключён.
type LiveNotifier interface {
	NotifyUser(userID string, n *model.Notification) bool
}

// NotificationDispatcher рассылает событие получателям.
// Сохранение синхронное; live и email доставляются в фоне, их ошибки
// логируются и не влияют на результат исходной операции.
type NotificationDispatcher struct {
	writer NotificationWriter
	live   LiveNotifier
	mail   mailer.Mailer
	logger *slog.Logger
	now    func() time.Time

	// emailEnabled опрашивается перед каждой отправкой письма
	emailEnabled func(ctx context.Context) bool

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewNotificationDispatcher создаёт диспетчер. live и mail могут быть nil.
func NewNotificationDispatcher(writer NotificationWriter, live LiveNotifier, mail mailer.Mailer, logger *slog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		writer: writer,
		live:   live,
		mail:   mail,
		logger: logger.With(slog.String("component", "notification_dispatcher")),
		now:    time.Now,
	}
}

// Notify сохраняет по одному уведомлению на уникального получателя
// и запускает фоновую доставку. Возвращает только ошибку сохранения.
func (d *NotificationDispatcher) Notify(ctx context.Context, recipients []Recipient, event model.NotificationEvent) ([]*model.Notification, error) {
	recipients = uniqueRecipients(recipients)
	if len(recipients) == 0 {
		return nil, nil
	}

	now := d.now().UTC()
	items := make([]*model.Notification, len(recipients))
	for i, r := range recipients {
		items[i] = &model.Notification{
			ID:          uuid.New().String(),
			RecipientID: r.UserID,
			Type:        event.Type,
			Message:     event.Message,
			Data:        event.Data,
			CreatedAt:   now,
		}
	}

	if err := d.writer.InsertMany(ctx, items); err != nil {
		return nil, fmt.Errorf("сохранение уведомлений %s: %w", event.Type, err)
	}
	notificationsPersistedTotal.Add(float64(len(items)))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("Диспетчер остановлен, фоновая доставка пропущена",
			slog.String("type", event.Type),
		)
		return items, nil
	}

	// Фоновая доставка не должна прерываться завершением HTTP-запроса.
	bg := context.WithoutCancel(ctx)
	for i, r := range recipients {
		n := items[i]
		if d.live != nil {
			d.wg.Add(1)
			go d.deliverLive(r, n)
		}
		if d.mail != nil && event.EmailSubject != "" && r.Email != "" {
			d.wg.Add(1)
			go d.deliverEmail(bg, r, event)
		}
	}
	return items, nil
}

// SetEmailPolicy задаёт проверку, разрешена ли сейчас отправка писем.
// Вызывается до начала обработки запросов.
func (d *NotificationDispatcher) SetEmailPolicy(enabled func(ctx context.Context) bool) {
	d.emailEnabled = enabled
}

func (d *NotificationDispatcher) deliverLive(r Recipient, n *model.Notification) {
	defer d.wg.Done()
	defer d.recoverDelivery(channelLive, r.UserID)

	if d.live.NotifyUser(r.UserID, n) {
		notificationDeliveriesTotal.WithLabelValues(channelLive, "delivered").Inc()
		return
	}
	notificationDeliveriesTotal.WithLabelValues(channelLive, "offline").Inc()
}

func (d *NotificationDispatcher) deliverEmail(ctx context.Context, r Recipient, event model.NotificationEvent) {
	defer d.wg.Done()
	defer d.recoverDelivery(channelEmail, r.UserID)

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if d.emailEnabled != nil && !d.emailEnabled(ctx) {
		notificationDeliveriesTotal.WithLabelValues(channelEmail, "disabled").Inc()
		return
	}

	if err := d.mail.Send(ctx, r.Email, event.EmailSubject, event.EmailBody); err != nil {
		notificationDeliveriesTotal.WithLabelValues(channelEmail, "failed").Inc()
		d.logger.Warn("Не удалось отправить email-уведомление",
			slog.String("recipient_id", r.UserID),
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	notificationDeliveriesTotal.WithLabelValues(channelEmail, "delivered").Inc()
}

func (d *NotificationDispatcher) recoverDelivery(channel, recipientID string) {
	if rec := recover(); rec != nil {
		notificationDeliveriesTotal.WithLabelValues(channel, "failed").Inc()
		d.logger.Error("Паника при доставке уведомления",
			slog.String("channel", channel),
			slog.String("recipient_id", recipientID),
			slog.Any("panic", rec),
		)
	}
}

// Wait ожидает завершения всех запущенных доставок.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

// Close запрещает новые фоновые доставки и ожидает текущие
// не дольше, чем позволяет ctx.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ожидание фоновых доставок: %w", ctx.Err())
	}
}

func uniqueRecipients(in []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		if r.UserID == "" {
			continue
		}
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NotificationService — операции пользователя над своими уведомлениями.
type NotificationService struct {
	repo   repository.NotificationRepository
	logger *slog.Logger
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(repo repository.NotificationRepository, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		logger: logger.With(slog.String("component", "notification_service")),
	}
}

// List возвращает страницу уведомлений субъекта и общее количество.
func (s *NotificationService) List(ctx context.Context, actor *rbac.Principal, unreadOnly bool, limit, offset int) ([]*model.Notification, int, error) {
	if actor == nil {
		return nil, 0, ErrUnauthenticated
	}
	limit, offset = NormalizePage(limit, offset)

	items, err := s.repo.ListByRecipient(ctx, actor.UserID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountByRecipient(ctx, actor.UserID, unreadOnly)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UnreadCount возвращает число непрочитанных уведомлений субъекта.
func (s *NotificationService) UnreadCount(ctx context.Context, actor *rbac.Principal) (int, error) {
	if actor == nil {
		return 0, ErrUnauthenticated
	}
	return s.repo.CountByRecipient(ctx, actor.UserID, true)
}

// MarkRead помечает уведомление прочитанным. Повторный вызов не ошибка.
// Чужое уведомление неотличимо от несуществующего.
func (s *NotificationService) MarkRead(ctx context.Context, actor *rbac.Principal, id string) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return translate(s.repo.MarkRead(ctx, id, actor.UserID))
}

// MarkAllRead помечает все уведомления субъекта прочитанными.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *rbac.Principal) (int, error) {
	if actor == nil {
		return 0, ErrUnauthenticated
	}
	return s.repo.MarkAllRead(ctx, actor.UserID)
}

// Delete удаляет уведомление получателя.
func (s *NotificationService) Delete(ctx context.Context, actor *rbac.Principal, id string) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	recipientID, err := s.repo.GetRecipientID(ctx, id)
	if err != nil {
		return translate(err)
	}
	if recipientID != actor.UserID {
		return ErrNotFound
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
