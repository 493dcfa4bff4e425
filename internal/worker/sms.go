package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shaiso/Conveyor/internal/domain"
)

const (
	defaultTwilioURL  = "https://api.twilio.com"
	defaultSMSTimeout = 15 * time.Second
)

// SMSConfig — конфигурация SMSSender.
type SMSConfig struct {
	// BaseURL — адрес Twilio API (default: https://api.twilio.com).
	BaseURL string

	// Client — HTTP клиент (default: клиент с таймаутом 15s).
	Client *http.Client
}

// SMSSender отправляет SMS через Twilio REST API
// (POST /2010-04-01/Accounts/{sid}/Messages.json).
type SMSSender struct {
	baseURL string
	client  *http.Client
}

// NewSMSSender создаёт новый SMSSender.
func NewSMSSender(cfg SMSConfig) *SMSSender {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTwilioURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultSMSTimeout}
	}
	return &SMSSender{baseURL: baseURL, client: client}
}

// Channel возвращает канал sms.
func (s *SMSSender) Channel() domain.NotificationType {
	return domain.NotificationSMS
}

// Send отправляет SMS.
func (s *SMSSender) Send(ctx context.Context, n *domain.Notification) error {
	if n.SMS == nil || n.SMS.To == "" {
		return fmt.Errorf("%w: sms recipient is required", ErrInvalidNotification)
	}
	creds := n.Credentials.Twilio
	if creds == nil || creds.AccountSID == "" || creds.AuthToken == "" {
		return fmt.Errorf("%w: twilio", ErrMissingCredentials)
	}

	form := url.Values{}
	form.Set("To", n.SMS.To)
	form.Set("From", creds.From)
	form.Set("Body", n.SMS.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrDeliveryFailed, err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: twilio: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrDeliveryFailed, err)
	}

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: twilio HTTP %d: %s", ErrDeliveryFailed, resp.StatusCode, twilioMessage(body))
	default:
		return fmt.Errorf("%w: twilio HTTP %d: %s", ErrDeliveryRejected, resp.StatusCode, twilioMessage(body))
	}
}

// twilioMessage извлекает текст ошибки из ответа Twilio.
func twilioMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return truncate(string(body), 200)
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
