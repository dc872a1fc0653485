package model

import "time"

// Типы уведомлений.
const (
	NotifyArticleSubmitted = "article_submitted"
	NotifyArticleApproved  = "article_approved"
	NotifyArticleRejected  = "article_rejected"
	NotifyArticlePublished = "article_published"
)

// Notification — уведомление пользователя. Создаётся один раз на событие и получателя.
// Изменяется только флагом Read (false → true) или удаляется владельцем.
type Notification struct {
	ID          string
	RecipientID string
	Type        string
	Message     string
	Data        map[string]any
	Read        bool
	CreatedAt   time.Time
}

// NotificationEvent — событие для рассылки нескольким получателям.
type NotificationEvent struct {
	Type    string
	Message string
	Data    map[string]any
	// EmailSubject — тема письма; пустая тема — без email-доставки
	EmailSubject string
	// EmailBody — текст письма
	EmailBody string
}
