package worker

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

const defaultSMTPAddr = "smtp.gmail.com:587"

// SMTPSendFunc — сигнатура smtp.SendMail.
type SMTPSendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig — конфигурация EmailSender.
type EmailConfig struct {
	// Addr — SMTP сервер host:port (default: smtp.gmail.com:587).
	Addr string

	// SendMail подменяется в тестах (default: smtp.SendMail).
	SendMail SMTPSendFunc
}

// EmailSender отправляет письма через SMTP с учётными данными из уведомления.
// Отправитель письма — пользователь SMTP.
type EmailSender struct {
	addr     string
	sendMail SMTPSendFunc
}

// NewEmailSender создаёт новый EmailSender.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultSMTPAddr
	}
	send := cfg.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailSender{addr: addr, sendMail: send}
}

// Channel возвращает канал email.
func (s *EmailSender) Channel() domain.NotificationType {
	return domain.NotificationEmail
}

// Send отправляет письмо.
func (s *EmailSender) Send(ctx context.Context, n *domain.Notification) error {
	if n.Email == nil || n.Email.To == "" {
		return fmt.Errorf("%w: email recipient is required", ErrInvalidNotification)
	}
	creds := n.Credentials.Email
	if creds == nil || creds.User == "" {
		return fmt.Errorf("%w: email", ErrMissingCredentials)
	}

	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("%w: smtp addr %q: %v", ErrDeliveryFailed, s.addr, err)
	}
	auth := smtp.PlainAuth("", creds.User, creds.Pass, host)
	msg := buildEmail(creds.User, n.Email)

	// smtp.SendMail не принимает context, поэтому ждём его в отдельной горутине
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, auth, creds.User, []string{n.Email.To}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return classifySMTPError(err)
		}
		return nil
	}
}

// buildEmail формирует RFC 5322 сообщение в text/plain.
func buildEmail(from string, m *domain.EmailMessage) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(m.Subject) + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Text, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// classifySMTPError отделяет постоянные отказы (5xx) от временных.
func classifySMTPError(err error) error {
	msg := err.Error()
	if len(msg) >= 3 && msg[0] == '5' && msg[1] >= '0' && msg[1] <= '9' {
		return fmt.Errorf("%w: smtp: %v", ErrDeliveryRejected, err)
	}
	return fmt.Errorf("%w: smtp: %v", ErrDeliveryFailed, err)
}
