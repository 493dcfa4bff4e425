package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrHandlerFailure — шаг не смог выполнить действие (сеть, хранилище, валидация).
	ErrHandlerFailure = errors.New("step handler failed")

	// ErrTransformation — ошибка трансформации данных.
	ErrTransformation = errors.New("transformation failed")

	// ErrUnsupportedType — неподдерживаемый тип или метод трансформации.
	ErrUnsupportedType = errors.New("unsupported transformation type")

	// ErrNoRunner — вложенные шаги недоступны (Request без Runner).
	ErrNoRunner = errors.New("step runner is not configured")
)

// Step — интерфейс для типов шагов.
//
// Каждый тип шага (apiCall, condition, loop, ...) реализует этот интерфейс.
type Step interface {
	// Type возвращает тип шага.
	Type() domain.StepType

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Runner выполняет один шаг workflow по ID: разрешает конфигурацию,
// вызывает обработчик, записывает результат в контекст.
//
// Через Runner шаги loop и parallelExecution вызывают вложенные шаги
// тем же примитивом, что и движок.
type Runner interface {
	RunStep(ctx context.Context, stepID string, execCtx *engine.Context) (any, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// StepID — идентификатор шага.
	StepID string

	// Config — конфигурация шага (уже разрешённая через engine.ResolveConfig).
	Config map[string]any

	// Context — состояние run.
	Context *engine.Context

	// Runner — выполнение вложенных шагов.
	Runner Runner

	// Timeout — таймаут выполнения шага.
	// Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Output — результат шага, доступен дальше как {{outputs.<stepID>}}.
	Output any

	// NextStepID — выбранная ветка (только condition).
	NextStepID string
}

// NewRequest создаёт новый Request.
func NewRequest(stepID string, config map[string]any, execCtx *engine.Context, runner Runner, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	return &Request{
		StepID:  stepID,
		Config:  config,
		Context: execCtx,
		Runner:  runner,
		Timeout: timeout,
	}
}

// NewResponse создаёт Response с результатом.
func NewResponse(output any) *Response {
	return &Response{Output: output}
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigNumber извлекает число из конфига. ok=false, если ключа нет
// или значение не число.
func GetConfigNumber(config map[string]any, key string) (float64, bool) {
	v, exists := config[key]
	if !exists {
		return 0, false
	}
	return toFloat(v)
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
// Нестроковые значения приводятся через fmt.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				result[k] = toString(val)
			}
			return result
		}
	}
	return nil
}

// GetConfigSlice извлекает массив из конфига.
func GetConfigSlice(config map[string]any, key string) ([]any, bool) {
	v, ok := config[key]
	if !ok || v == nil {
		return nil, false
	}
	return toSlice(v)
}

// GetConfigStringSlice извлекает массив строк из конфига.
func GetConfigStringSlice(config map[string]any, key string) []string {
	items, ok := GetConfigSlice(config, key)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
