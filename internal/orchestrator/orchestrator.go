package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxSteps    = 1000
	defaultStepTimeout = 30 * time.Second
)

// RunRecorder сохраняет историю runs.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.Run) error
	Finish(ctx context.Context, run *domain.Run) error
}

// EventPublisher публикует событие о завершении run.
type EventPublisher interface {
	PublishRunFinished(ctx context.Context, run *domain.Run) error
}

// Orchestrator выполняет workflow по графу шагов.
//
// Один вызов Execute — один run. Runs независимы и могут
// выполняться конкурентно.
type Orchestrator struct {
	registry *steps.Registry

	runs   RunRecorder
	events EventPublisher

	maxSteps    int
	stepTimeout time.Duration

	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	// Active runs — runs в процессе выполнения (runID → состояние)
	activeRuns map[uuid.UUID]*runState
	mu         sync.RWMutex

	wg        sync.WaitGroup
	stopped   bool
	stoppedMu sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Registry — обработчики шагов.
	Registry *steps.Registry

	// Runs — запись истории runs (опционально).
	Runs RunRecorder

	// Events — публикация run.completed / run.failed (опционально).
	Events EventPublisher

	MaxSteps    int           // лимит выполнений шагов на run, включая retry (default: 1000)
	StepTimeout time.Duration // таймаут одной попытки шага (default: 30s)

	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry(steps.Dependencies{})
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry:    registry,
		runs:        cfg.Runs,
		events:      cfg.Events,
		maxSteps:    maxSteps,
		stepTimeout: stepTimeout,
		metrics:     cfg.Metrics,
		tracer:      tracer,
		logger:      logger,
		activeRuns:  make(map[uuid.UUID]*runState),
	}
}

// Execute запускает workflow и ждёт завершения run.
//
// Возвращает run с итоговыми outputs. Если run упал, возвращается
// и run (Status=FAILED), и ошибка: *StepError, ErrGraphExhausted
// или ошибка валидации (ErrInvalidWorkflow).
func (o *Orchestrator) Execute(ctx context.Context, wf *domain.Workflow, req engine.Request) (*domain.Run, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: workflow is nil", ErrInvalidWorkflow)
	}

	active := wf.ActiveSteps()
	graph, err := engine.Validate(active)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	run := &domain.Run{
		ID:         uuid.New(),
		WorkflowID: wf.ID,
		EndpointID: wf.EndpointID,
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	state := newRunState(o, run, engine.NewContext(req, active))

	if err := o.addActiveRun(state); err != nil {
		return nil, err
	}
	defer o.removeActiveRun(run.ID)

	ctx, span := telemetry.StartRunSpan(ctx, o.tracer, run.ID.String(), wf.ID.String())
	logger := telemetry.WithWorkflowID(telemetry.WithRunID(o.logger, run.ID.String()), wf.ID.String())
	ctx = telemetry.WithLogger(ctx, logger)

	o.recordStart(ctx, run)
	logger.Info("run started", "workflow", wf.Name, "steps", len(active), "entry", graph.Entry.ID)

	failedStep, runErr := o.traverse(ctx, state, graph.Entry.ID)

	run.StepsExecuted = state.executed()
	outputs := state.execCtx.Outputs()
	if runErr != nil {
		run.MarkFailed(outputs, failedStep, runErr)
		logger.Warn("run failed", "step_id", failedStep, "steps_executed", run.StepsExecuted, "error", runErr)
	} else {
		run.MarkSucceeded(outputs)
		logger.Info("run succeeded", "steps_executed", run.StepsExecuted, "duration", run.Duration())
	}

	o.metrics.ObserveRun(string(run.Status), run.Duration())
	telemetry.EndSpan(span, runErr)
	o.finishRun(ctx, run)

	return run, runErr
}

// traverse обходит граф начиная с entry.
// Возвращает ID шага, на котором run упал, и ошибку.
func (o *Orchestrator) traverse(ctx context.Context, state *runState, entry string) (string, error) {
	logger := telemetry.FromContext(ctx)

	current := entry
	for current != "" {
		step, ok := state.execCtx.Step(current)
		if !ok {
			return current, &StepError{StepID: current, Err: ErrStepNotFound}
		}

		res := state.execute(ctx, step, state.execCtx)
		if res.err == nil {
			if !step.OnSuccess.Continue {
				logger.Debug("traversal stopped", "step_id", step.ID)
				return "", nil
			}
			next := step.OnSuccess.NextStepID
			if res.nextStepID != "" {
				next = res.nextStepID
			}
			logger.Debug("step succeeded", "step_id", step.ID, "next_step_id", next)
			current = next
			continue
		}

		if isTerminal(ctx, res.err) {
			return step.ID, res.err
		}

		if fallback := step.OnFailure.FallbackStepID; fallback != "" {
			logger.Warn("step failed, taking fallback",
				"step_id", step.ID,
				"fallback_step_id", fallback,
				"error", res.err,
			)
			current = fallback
			continue
		}

		return step.ID, res.err
	}

	return "", nil
}

// isTerminal проверяет, завершает ли ошибка run без retry и fallback.
func isTerminal(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, ErrGraphExhausted),
		errors.Is(err, ErrStepNotFound),
		errors.Is(err, steps.ErrModelResolution),
		errors.Is(err, steps.ErrStepNotFound),
		errors.Is(err, engine.ErrResolution):
		return true
	}
	return ctx.Err() != nil
}

// Stop останавливает приём новых runs и ждёт завершения текущих.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	if o.stopped {
		o.stoppedMu.Unlock()
		return
	}
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator", "active_runs", o.ActiveRunsCount())
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// IsStopped возвращает true, если оркестратор остановлен.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

func (o *Orchestrator) addActiveRun(state *runState) error {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	if o.stopped {
		return ErrOrchestratorStopped
	}
	o.wg.Add(1)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeRuns[state.run.ID] = state
	return nil
}

func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	delete(o.activeRuns, runID)
	o.mu.Unlock()
	o.wg.Done()
}

// ActiveRunsCount возвращает количество выполняющихся runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// ActiveRunSteps возвращает число выполнений шагов активного run.
func (o *Orchestrator) ActiveRunSteps(runID uuid.UUID) (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.activeRuns[runID]
	if !ok {
		return 0, false
	}
	return state.executed(), true
}
