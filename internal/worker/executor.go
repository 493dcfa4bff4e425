package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Sender доставляет уведомление одного канала.
//
// Реализации: EmailSender (SMTP), SMSSender (Twilio REST API).
type Sender interface {
	Channel() domain.NotificationType
	Send(ctx context.Context, n *domain.Notification) error
}

// Registry — реестр отправителей по каналу.
type Registry struct {
	senders map[domain.NotificationType]Sender
}

// NewRegistry создаёт реестр с отправителями по умолчанию (email, sms).
func NewRegistry() *Registry {
	r := &Registry{senders: make(map[domain.NotificationType]Sender)}
	r.Register(NewEmailSender(EmailConfig{}))
	r.Register(NewSMSSender(SMSConfig{}))
	return r
}

// Register добавляет отправителя, заменяя прежнего для того же канала.
func (r *Registry) Register(s Sender) {
	r.senders[s.Channel()] = s
}

// Get возвращает отправителя канала.
func (r *Registry) Get(channel domain.NotificationType) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return s, nil
}
