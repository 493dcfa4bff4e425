package steps

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shaiso/Conveyor/internal/domain"
)

const (
	defaultLoopField = "value"

	// DefaultMaxLoopIterations — лимит итераций одного loop,
	// включая итерации, пропущенные условием.
	DefaultMaxLoopIterations = 10_000

	// maxLoopBound — граница startValue/endValue, в которой float64
	// ещё точно представляет целые.
	maxLoopBound = 1 << 53
)

// LoopStep — цикл по списку значений или диапазону.
//
// Конфигурация:
//
//	{
//	    "inputValues": [1, 2, 3],        // или startValue/endValue
//	    "startValue": 1,
//	    "endValue": 5,                   // включительно
//	    "loopStepIds": ["a", "b"],
//	    "currentField": "item",          // по умолчанию "value"
//	    "condition": "item % 2 == 0"     // Lua, необязательно
//	}
//
// Каждая итерация выполняется на копии контекста: текущее значение
// доступно как {{item}} в шаблонах и как переменная в condition.
// Число итераций больше maxIterations — ErrInvalidConfig до начала цикла.
// Output: список результатов по итерациям, [][]any.
type LoopStep struct {
	lua           *LuaEnv
	maxIterations int
}

// NewLoopStep создаёт LoopStep с лимитом DefaultMaxLoopIterations.
func NewLoopStep(lua *LuaEnv) *LoopStep {
	return NewLoopStepWithLimit(lua, DefaultMaxLoopIterations)
}

// NewLoopStepWithLimit создаёт LoopStep с заданным лимитом итераций.
func NewLoopStepWithLimit(lua *LuaEnv, maxIterations int) *LoopStep {
	if lua == nil {
		lua = NewLuaEnv()
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxLoopIterations
	}
	return &LoopStep{lua: lua, maxIterations: maxIterations}
}

// Type возвращает тип шага.
func (s *LoopStep) Type() domain.StepType {
	return domain.StepTypeLoop
}

// Execute выполняет цикл.
func (s *LoopStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req.Runner == nil || req.Context == nil {
		return nil, ErrNoRunner
	}

	values, err := loopValues(req.Config)
	if err != nil {
		return nil, err
	}
	if n := values.len(); n > s.maxIterations {
		return nil, fmt.Errorf("%w: %s: %d iterations exceed limit %d", ErrInvalidConfig, domain.StepTypeLoop, n, s.maxIterations)
	}

	stepIDs := GetConfigStringSlice(req.Config, "loopStepIds")
	if len(stepIDs) == 0 {
		return nil, fmt.Errorf("%w: %s: loopStepIds must be a non-empty array", ErrInvalidConfig, domain.StepTypeLoop)
	}

	field := GetConfigString(req.Config, "currentField")
	if field == "" {
		field = defaultLoopField
	}
	guard := GetConfigString(req.Config, "condition")

	results := make([][]any, 0, values.len())
	for i := 0; i < values.len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
		}
		value := values.at(i)

		iterCtx := req.Context.Clone()
		iterCtx.Set(field, value)

		if guard != "" {
			vars := iterCtx.Root()
			vars["value"] = value
			vars["index"] = i
			ok, err := s.lua.EvalBool(ctx, guard, vars)
			if errors.Is(err, ErrStepTimeout) || errors.Is(err, ErrStepCancelled) {
				return nil, fmt.Errorf("loop condition: %w", err)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: loop condition: %w", ErrInvalidConfig, err)
			}
			if !ok {
				continue
			}
		}

		iteration := make([]any, 0, len(stepIDs))
		for _, id := range stepIDs {
			out, err := req.Runner.RunStep(ctx, id, iterCtx)
			if err != nil {
				return nil, fmt.Errorf("loop iteration %d, step %s: %w", i, id, err)
			}
			iteration = append(iteration, out)
		}
		results = append(results, iteration)
	}

	return NewResponse(results), nil
}

// loopSource — значения итераций: явный список или диапазон [lo, hi].
// Диапазон не материализуется.
type loopSource struct {
	values []any
	lo, n  int
	ranged bool
}

func (l loopSource) len() int {
	if l.ranged {
		return l.n
	}
	return len(l.values)
}

func (l loopSource) at(i int) any {
	if l.ranged {
		return l.lo + i
	}
	return l.values[i]
}

// loopValues возвращает значения итераций: inputValues либо диапазон
// [startValue, endValue].
func loopValues(config map[string]any) (loopSource, error) {
	if values, ok := GetConfigSlice(config, "inputValues"); ok {
		return loopSource{values: values}, nil
	}

	start, okStart := GetConfigNumber(config, "startValue")
	end, okEnd := GetConfigNumber(config, "endValue")
	if !okStart || !okEnd {
		return loopSource{}, fmt.Errorf("%w: %s: inputValues or startValue/endValue required", ErrInvalidConfig, domain.StepTypeLoop)
	}
	if !validLoopBound(start) || !validLoopBound(end) {
		return loopSource{}, fmt.Errorf("%w: %s: startValue/endValue must be finite and within ±2^53", ErrInvalidConfig, domain.StepTypeLoop)
	}

	lo, hi := int64(start), int64(end)
	if hi < lo {
		return loopSource{ranged: true}, nil
	}
	n := hi - lo + 1
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return loopSource{lo: int(lo), n: int(n), ranged: true}, nil
}

func validLoopBound(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= maxLoopBound
}
