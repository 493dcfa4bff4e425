package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultPrefetch     = 5
)

// Worker доставляет уведомления из очереди notifications.pending.
//
// Шаг notification только ставит уведомление в очередь; Worker
// выполняет отправку с retry и exponential backoff. Постоянные
// ошибки (нет учётных данных, провайдер отклонил сообщение) уходят в DLQ
// без повторов. Несколько экземпляров потребляют из одной очереди.
type Worker struct {
	conn     *mq.Connection
	registry *Registry
	consumer *mq.Consumer
	metrics  *telemetry.Metrics

	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	prefetch     int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Conn — соединение с RabbitMQ.
	Conn *mq.Connection

	// Registry — отправители по каналу (опционально; если nil — NewRegistry()).
	Registry *Registry

	// Retry
	MaxAttempts  int           // попыток на одно уведомление (default: 3)
	InitialDelay time.Duration // первая задержка (default: 1s)
	MaxDelay     time.Duration // предел задержки (default: 30s)

	// Prefetch — сообщений в обработке одновременно (default: 5).
	Prefetch int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		conn:         cfg.Conn,
		registry:     registry,
		metrics:      cfg.Metrics,
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		prefetch:     prefetch,
		logger:       logger,
	}
}

// Start запускает consumer очереди уведомлений.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return mq.ErrNoChannel
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"queue", mq.QueueNotifications,
		"max_attempts", w.maxAttempts,
		"prefetch", w.prefetch,
	)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueNotifications),
		Handler:  w.handleNotification,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("notification consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущей доставки.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// handleNotification обрабатывает сообщение notification.requested.
func (w *Worker) handleNotification(ctx context.Context, delivery *mq.Delivery) error {
	n, err := mq.ParsePayload[domain.Notification](&delivery.Message)
	if err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = delivery.Message.ID
	}

	if err := w.Deliver(ctx, &n); err != nil {
		if isPermanent(err) {
			return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
		}
		return err
	}
	return nil
}

// Deliver отправляет уведомление с retry. Постоянные ошибки не повторяются.
func (w *Worker) Deliver(ctx context.Context, n *domain.Notification) error {
	logger := w.logger.With("notification_id", n.ID, "type", n.Type)
	start := time.Now()

	sender, err := w.registry.Get(n.Type)
	if err != nil {
		w.metrics.ObserveNotification(string(n.Type), "rejected")
		return err
	}

	for attempt := 1; ; attempt++ {
		err = sender.Send(ctx, n)
		if err == nil {
			w.metrics.ObserveNotification(string(n.Type), "delivered")
			logger.Info("notification delivered",
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}

		if isPermanent(err) {
			w.metrics.ObserveNotification(string(n.Type), "rejected")
			logger.Warn("notification rejected", "attempt", attempt, "error", err)
			return err
		}
		if attempt >= w.maxAttempts {
			break
		}

		delay := w.backoff(attempt)
		logger.Debug("retrying notification", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			w.metrics.ObserveNotification(string(n.Type), "failed")
			return ctx.Err()
		}
	}

	w.metrics.ObserveNotification(string(n.Type), "failed")
	logger.Warn("notification delivery failed", "attempts", w.maxAttempts, "error", err)
	return err
}

// backoff вычисляет задержку перед повтором: initialDelay * 2^(attempt-1), не больше maxDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.initialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxDelay {
			return w.maxDelay
		}
	}
	return min(delay, w.maxDelay)
}

// isPermanent — ошибки, повтор которых не изменит результат.
func isPermanent(err error) bool {
	return errors.Is(err, ErrUnknownChannel) ||
		errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidNotification) ||
		errors.Is(err, ErrDeliveryRejected)
}
