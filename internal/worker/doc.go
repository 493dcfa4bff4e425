// Package worker доставляет уведомления, поставленные в очередь шагом notification.
//
// # Обзор
//
// Шаг notification во время run только публикует сообщение
// notification.requested в RabbitMQ (mq.Publisher.Notify). Worker
// потребляет очередь notifications.pending и отправляет:
//
//   - email — через SMTP (EmailSender), отправитель — credentials.email.user
//   - sms   — через Twilio REST API (SMSSender), credentials.twilio
//
// Workers масштабируются горизонтально: несколько экземпляров
// потребляют из одной очереди.
//
//	w := worker.New(worker.Config{
//	    Conn:    mqConn,
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Retry
//
// Повторы выполняются в процессе с exponential backoff:
// delay = initialDelay * 2^(attempt-1), не больше maxDelay.
//
// # Ошибки
//
// Постоянные ошибки (неизвестный канал, нет учётных данных, некорректное
// уведомление, отказ провайдера 4xx/5xx SMTP) не повторяются и отправляют
// сообщение в DLQ через mq.ErrPermanent. Временные ошибки после исчерпания
// попыток возвращают сообщение в очередь один раз.
package worker
