package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents        Exchange = "conveyor.events"
	ExchangeNotifications Exchange = "conveyor.notifications"
	ExchangeDLQ           Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueNotifications    Queue = "notifications.pending"
	QueueDLQNotifications Queue = "dlq.notifications"
)

// Routing keys.
const (
	RoutingKeyRunCompleted     RoutingKey = "run.completed"
	RoutingKeyRunFailed        RoutingKey = "run.failed"
	RoutingKeyNotification     RoutingKey = "notification"
	RoutingKeyDLQNotifications RoutingKey = "notifications"
)

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		// события runs слушают внешние подписчики по шаблону run.*
		{ExchangeEvents, "topic"},
		{ExchangeNotifications, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQNotifications),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueNotifications, dlqArgs},
		{QueueDLQNotifications, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueNotifications, RoutingKeyNotification, ExchangeNotifications},
		{QueueDLQNotifications, RoutingKeyDLQNotifications, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (topic)
    └── run.completed | run.failed   (external subscribers)

    conveyor.notifications (direct)
    └── notifications.pending [routing: notification]
            Consumer: Worker
            DLQ: dlq.notifications

    conveyor.dlq (direct)
    └── dlq.notifications [routing: notifications]
            Manual processing
  `
}
