package orchestrator

import (
	"context"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const recordTimeout = 5 * time.Second

// recordStart сохраняет run в статусе RUNNING.
// Ошибка записи не останавливает run.
func (o *Orchestrator) recordStart(ctx context.Context, run *domain.Run) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Create(ctx, run); err != nil {
		telemetry.FromContext(ctx).Warn("failed to record run start", "error", err)
	}
}

// finishRun сохраняет итог run и публикует run.completed / run.failed.
// Выполняется на контексте без отмены.
func (o *Orchestrator) finishRun(ctx context.Context, run *domain.Run) {
	logger := telemetry.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if o.runs != nil {
		if err := o.runs.Finish(ctx, run); err != nil {
			logger.Warn("failed to record run result", "status", run.Status, "error", err)
		}
	}

	if o.events != nil {
		if err := o.events.PublishRunFinished(ctx, run); err != nil {
			// Не фатально — run уже записан
			logger.Warn("failed to publish run event", "status", run.Status, "error", err)
		}
	}
}
