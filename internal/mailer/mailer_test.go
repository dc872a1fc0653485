package mailer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestBuildMessage проверяет заголовки и тело письма.
func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("no-reply@bm-agency.local", "editor@example.com", "Статья одобрена", "Текст")
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()

	for _, want := range []string{"no-reply@bm-agency.local", "editor@example.com"} {
		if !strings.Contains(raw, want) {
			t.Errorf("письмо не содержит %q", want)
		}
	}
}

// TestBuildMessage_InvalidAddress проверяет отказ на некорректных адресах.
func TestBuildMessage_InvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
	}{
		{"некорректный отправитель", "not-an-address", "editor@example.com"},
		{"некорректный получатель", "no-reply@bm-agency.local", "not-an-address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildMessage(tt.from, tt.to, "s", "b"); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}

// TestTLSPolicy проверяет отображение политики TLS.
func TestTLSPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want mail.TLSPolicy
	}{
		{TLSMandatory, mail.TLSMandatory},
		{TLSOpportunistic, mail.TLSOpportunistic},
		{TLSNone, mail.NoTLS},
		{"", mail.TLSMandatory},
	}
	for _, tt := range tests {
		if got := tlsPolicy(tt.in); got != tt.want {
			t.Errorf("tlsPolicy(%q) = %v, хотели %v", tt.in, got, tt.want)
		}
	}
}

// TestNewSMTPMailer проверяет создание клиента без соединения с сервером.
func TestNewSMTPMailer(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "user",
		Password: "secret",
		From:     "no-reply@bm-agency.local",
		TLS:      TLSMandatory,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	if m.from != "no-reply@bm-agency.local" {
		t.Errorf("from = %q, хотели no-reply@bm-agency.local", m.from)
	}
}

// TestLogMailer проверяет, что LogMailer не возвращает ошибок.
func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewTextHandler(&buf, nil)))
	if err := m.Send(context.Background(), "a@example.com", "Тема", "Тело"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), "a@example.com") {
		t.Error("адрес получателя не попал в лог")
	}
}
