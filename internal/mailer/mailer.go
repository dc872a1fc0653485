// Пакет mailer — отправка email-уведомлений через SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// Политики TLS, принимаемые конфигурацией.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// sendTimeout — предел времени на соединение и отправку одного письма.
const sendTimeout = 15 * time.Second

// Mailer — отправка одного текстового письма.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      string
}

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewSMTPMailer создаёт SMTPMailer. Соединение открывается на каждую отправку.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(sendTimeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания SMTP-клиента: %w", err)
	}

	return &SMTPMailer{
		client: client,
		from:   cfg.From,
		logger: logger.With(slog.String("component", "smtp_mailer")),
	}, nil
}

// Send отправляет письмо одному получателю.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := buildMessage(m.from, to, subject, body)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("ошибка отправки письма на %s: %w", to, err)
	}
	m.logger.Debug("Письмо отправлено", slog.String("to", to), slog.String("subject", subject))
	return nil
}

// buildMessage формирует текстовое письмо.
func buildMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("некорректный адрес отправителя %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("некорректный адрес получателя %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case TLSNone:
		return mail.NoTLS
	case TLSOpportunistic:
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

// LogMailer пишет письма в лог вместо отправки.
// Используется, когда SMTP не настроен.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(slog.String("component", "log_mailer"))}
}

// Send логирует письмо.
func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info("Email-доставка отключена, письмо не отправлено",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}
