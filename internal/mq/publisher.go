package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunCompleted MessageType = "run.completed"
	MessageTypeRunFailed    MessageType = "run.failed"
	MessageTypeNotification MessageType = "notification.requested"
)

// Sender отправляет AMQP сообщение. Реализуется Connection.
type Sender interface {
	Send(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Publisher публикует события runs и уведомления.
//
// Реализует orchestrator.EventPublisher и steps.Notifier.
type Publisher struct {
	sender Sender
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(sender Sender, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sender: sender,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunFinishedPayload — payload событий run.completed и run.failed.
type RunFinishedPayload struct {
	RunID         uuid.UUID        `json:"run_id"`
	WorkflowID    uuid.UUID        `json:"workflow_id"`
	EndpointID    uuid.UUID        `json:"endpoint_id,omitempty"`
	Status        domain.RunStatus `json:"status"`
	StepsExecuted int              `json:"steps_executed"`
	FailedStepID  string           `json:"failed_step_id,omitempty"`
	Error         string           `json:"error,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.sender.Send(ctx, string(exchange), string(routingKey), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishRunFinished публикует run.completed или run.failed.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	msgType, key := MessageTypeRunCompleted, RoutingKeyRunCompleted
	if run.Status == domain.RunStatusFailed {
		msgType, key = MessageTypeRunFailed, RoutingKeyRunFailed
	}

	payload := RunFinishedPayload{
		RunID:         run.ID,
		WorkflowID:    run.WorkflowID,
		EndpointID:    run.EndpointID,
		Status:        run.Status,
		StepsExecuted: run.StepsExecuted,
		FailedStepID:  run.FailedStepID,
		Error:         run.Error,
		DurationMs:    run.Duration().Milliseconds(),
	}

	return p.Publish(ctx, ExchangeEvents, key, newMessage(msgType, payload))
}

// Notify ставит уведомление в очередь доставки.
// Потребитель: Worker.
func (p *Publisher) Notify(ctx context.Context, n *domain.Notification) error {
	msg := newMessage(MessageTypeNotification, n)
	if n.ID != "" {
		msg.ID = n.ID
	}
	return p.Publish(ctx, ExchangeNotifications, RoutingKeyNotification, msg)
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
