package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultSchedule = "0 3 * * *"
	defaultMaxAge   = 30 * 24 * time.Hour
	pruneTimeout    = 5 * time.Minute
)

// ErrInvalidSchedule — некорректное cron-выражение.
var ErrInvalidSchedule = errors.New("invalid retention schedule")

// cronParser — стандартные 5 полей и дескрипторы (@daily, @every 1h).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunStore удаляет старые runs (repo.RunRepo).
type RunStore interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pruner — периодическая очистка истории runs.
type Pruner struct {
	store    RunStore
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cron *cron.Cron
}

// Config — конфигурация Pruner.
type Config struct {
	Store    RunStore
	Schedule string        // cron-выражение (default: "0 3 * * *")
	MaxAge   time.Duration // возраст удаляемых runs (default: 30 дней)
	Logger   *slog.Logger
}

// New создаёт Pruner. Возвращает ErrInvalidSchedule для неверного выражения.
func New(cfg Config) (*Pruner, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pruner{
		store:    cfg.Store,
		schedule: schedule,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Next возвращает время следующей очистки после from.
func (p *Pruner) Next(from time.Time) time.Time {
	return p.schedule.Next(from)
}

// Tick удаляет завершённые runs старше MaxAge.
func (p *Pruner) Tick(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.maxAge)

	deleted, err := p.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if deleted > 0 {
		p.logger.Info("pruned run history", "deleted", deleted, "before", cutoff)
	}
	return deleted, nil
}

// Start запускает очистку по расписанию. Останавливается через Stop
// или отмену ctx.
func (p *Pruner) Start(ctx context.Context) {
	p.cron = cron.New(cron.WithLocation(time.UTC))
	p.cron.Schedule(p.schedule, cron.FuncJob(func() {
		tickCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
		defer cancel()
		if _, err := p.Tick(tickCtx); err != nil {
			p.logger.Error("run history pruning failed", "error", err)
		}
	}))
	p.cron.Start()

	p.logger.Info("run history pruning scheduled",
		"max_age", p.maxAge,
		"next", p.Next(time.Now().UTC()),
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
}

// Stop останавливает расписание и ждёт завершения текущей очистки.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
