package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Notifier доставляет уведомление (или ставит его в очередь доставки).
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

// NotificationStep — отправка email или SMS.
//
// Конфигурация:
//
//	{
//	    "type": "email",
//	    "email": {"to": "a@b.c", "subject": "Hi", "text": "..."},
//	    "sms": {"to": "+100000000", "body": "..."},
//	    "credentials": {
//	        "email": {"user": "...", "pass": "..."},
//	        "twilio": {"accountSid": "...", "authToken": "...", "from": "..."}
//	    }
//	}
type NotificationStep struct {
	notifier Notifier
}

// NewNotificationStep создаёт новый NotificationStep.
func NewNotificationStep(notifier Notifier) *NotificationStep {
	return &NotificationStep{notifier: notifier}
}

// Type возвращает тип шага.
func (s *NotificationStep) Type() domain.StepType {
	return domain.StepTypeNotification
}

// Execute формирует уведомление и передаёт его Notifier.
func (s *NotificationStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	n, err := parseNotification(req.Config)
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: notify %s: %w", ErrHandlerFailure, n.Type, err)
	}

	return NewResponse(map[string]any{
		"id":     n.ID,
		"type":   string(n.Type),
		"status": "dispatched",
	}), nil
}

func parseNotification(config map[string]any) (*domain.Notification, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, domain.StepTypeNotification, err)
	}

	var n domain.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, domain.StepTypeNotification, err)
	}

	switch n.Type {
	case domain.NotificationEmail:
		if n.Email == nil || n.Email.To == "" {
			return nil, fmt.Errorf("%w: %s: email configuration is required", ErrInvalidConfig, domain.StepTypeNotification)
		}
	case domain.NotificationSMS:
		if n.SMS == nil || n.SMS.To == "" {
			return nil, fmt.Errorf("%w: %s: sms configuration is required", ErrInvalidConfig, domain.StepTypeNotification)
		}
	default:
		return nil, fmt.Errorf("%w: %s: invalid notification type %q", ErrInvalidConfig, domain.StepTypeNotification, n.Type)
	}

	n.ID = uuid.NewString()
	return &n, nil
}
