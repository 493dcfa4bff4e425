// Conveyor Worker — доставляет уведомления шага notification.
//
// Worker:
//   - Получает сообщения notification.requested из RabbitMQ
//   - Отправляет email через SMTP и SMS через Twilio
//   - Повторяет временные ошибки с exponential backoff
//   - Отклонённые сообщения уходят в DLQ
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting conveyor-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("conveyor-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conveyor-worker stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	mqURL := cfg.RabbitMQ.URL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	conn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("rabbitmq connected")

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return err
	}

	registry := worker.NewRegistry()
	registry.Register(worker.NewEmailSender(worker.EmailConfig{Addr: cfg.Worker.SMTPAddr}))
	registry.Register(worker.NewSMSSender(worker.SMSConfig{BaseURL: cfg.Worker.TwilioURL}))

	w := worker.New(worker.Config{
		Conn:        conn,
		Registry:    registry,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Prefetch:    cfg.Worker.Prefetch,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	w.Stop()
	return nil
}
