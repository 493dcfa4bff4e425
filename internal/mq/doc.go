// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — события runs и очередь уведомлений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.completed          — run завершился успешно
//   - run.failed             — run упал
//   - notification.requested — шаг notification поставил уведомление в очередь
//
// Exchanges:
//   - conveyor.events        — события runs (topic, для внешних подписчиков)
//   - conveyor.notifications — уведомления для worker
//   - conveyor.dlq           — dead letter queue
package mq
