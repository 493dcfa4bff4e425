package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// runState — состояние одного run в памяти.
//
// Создаётся в начале Execute и отбрасывается после завершения run.
// Реализует steps.Runner: loop и parallelExecution выполняют вложенные
// шаги через тот же RunStep, что и движок.
type runState struct {
	orch    *Orchestrator
	run     *domain.Run
	execCtx *engine.Context

	// attempts — выполненные попытки шагов (включая retry и вложенные шаги).
	attempts atomic.Int64
}

// stepResult — исход выполнения шага. Успех определяется err == nil,
// а не содержимым output: nil-результат тоже успешен.
type stepResult struct {
	output     any
	nextStepID string
	err        error
}

func newRunState(o *Orchestrator, run *domain.Run, execCtx *engine.Context) *runState {
	return &runState{
		orch:    o,
		run:     run,
		execCtx: execCtx,
	}
}

// executed возвращает число выполненных попыток.
func (s *runState) executed() int {
	return int(s.attempts.Load())
}

// RunStep выполняет шаг по ID против execCtx.
// Используется шагами loop и parallelExecution.
func (s *runState) RunStep(ctx context.Context, stepID string, execCtx *engine.Context) (any, error) {
	step, ok := execCtx.Step(stepID)
	if !ok {
		return nil, &StepError{StepID: stepID, Err: ErrStepNotFound}
	}
	res := s.execute(ctx, step, execCtx)
	return res.output, res.err
}

// execute выполняет шаг и при onFailure.retry повторяет его ровно один раз.
func (s *runState) execute(ctx context.Context, step *domain.Step, execCtx *engine.Context) stepResult {
	res := s.attempt(ctx, step, execCtx, 1)
	if res.err == nil || !step.OnFailure.Retry || isTerminal(ctx, res.err) {
		return res
	}

	telemetry.FromContext(ctx).Warn("step failed, retrying",
		"step_id", step.ID,
		"step_type", step.Type,
		"error", res.err,
	)
	return s.attempt(ctx, step, execCtx, 2)
}

// attempt — одна попытка: лимит, разрешение конфигурации, вызов обработчика.
func (s *runState) attempt(ctx context.Context, step *domain.Step, execCtx *engine.Context, n int) (res stepResult) {
	fail := func(err error) stepResult {
		return stepResult{err: &StepError{StepID: step.ID, StepType: step.Type, Attempt: n, Err: err}}
	}

	if s.attempts.Add(1) > int64(s.orch.maxSteps) {
		s.attempts.Add(-1)
		return fail(fmt.Errorf("%w: limit %d", ErrGraphExhausted, s.orch.maxSteps))
	}

	handler, err := s.orch.registry.Get(step.Type)
	if err != nil {
		return fail(err)
	}

	config, err := engine.ResolveConfig(step.Config, execCtx)
	if err != nil {
		return fail(err)
	}

	ctx, span := telemetry.StartStepSpan(ctx, s.orch.tracer, step.ID, string(step.Type), n)
	timeout := s.timeoutFor(step.Type)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		outcome := "success"
		if res.err != nil {
			outcome = "failure"
		}
		s.orch.metrics.ObserveStep(string(step.Type), outcome, time.Since(start))
		telemetry.EndSpan(span, res.err)
	}()

	req := steps.NewRequest(step.ID, config, execCtx, s, timeout)
	resp, err := invoke(ctx, handler, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, steps.ErrStepTimeout) {
			err = fmt.Errorf("%w: %w", steps.ErrStepTimeout, err)
		}
		return fail(err)
	}

	if resp == nil {
		resp = steps.NewResponse(nil)
	}
	execCtx.SetOutput(step.ID, resp.Output)
	return stepResult{output: resp.Output, nextStepID: resp.NextStepID}
}

// timeoutFor возвращает таймаут попытки. Составные шаги не ограничиваются:
// таймаут применяется к каждому вложенному шагу отдельно.
func (s *runState) timeoutFor(stepType domain.StepType) time.Duration {
	switch stepType {
	case domain.StepTypeLoop, domain.StepTypeParallel:
		return 0
	default:
		return s.orch.stepTimeout
	}
}

// invoke вызывает обработчик, превращая panic в ошибку шага.
func invoke(ctx context.Context, handler steps.Step, req *steps.Request) (resp *steps.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()
	return handler.Execute(ctx, req)
}
