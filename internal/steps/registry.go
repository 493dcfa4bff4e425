package steps

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Registry — реестр типов шагов.
//
// Позволяет регистрировать и получать реализации Step по типу.
// Новый тип добавляется регистрацией, без изменений в движке.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[domain.StepType]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[domain.StepType]Step),
	}
}

// Dependencies — внешние зависимости шагов, которым нужен I/O.
type Dependencies struct {
	// Models — доступ к динамическим коллекциям (dbOperation).
	Models ModelResolver

	// Notifier — доставка уведомлений (notification).
	Notifier Notifier

	// Files — хранилище файлов (fileOperation).
	Files FileStore

	// MaxLoopIterations — лимит итераций loop (0 — DefaultMaxLoopIterations).
	MaxLoopIterations int
}

// DefaultRegistry создаёт реестр со всеми стандартными шагами.
// Шаги без зависимости (nil) не регистрируются.
func DefaultRegistry(deps Dependencies) *Registry {
	r := NewRegistry()

	lua := NewLuaEnv()

	r.Register(NewAPICallStep())
	r.Register(NewConditionStep())
	r.Register(NewTransformationStep(lua))
	r.Register(NewLoopStepWithLimit(lua, deps.MaxLoopIterations))
	r.Register(NewParallelStep())
	r.Register(NewDelayStep())

	if deps.Models != nil {
		r.Register(NewDBOperationStep(deps.Models))
	}
	if deps.Notifier != nil {
		r.Register(NewNotificationStep(deps.Notifier))
	}
	if deps.Files != nil {
		r.Register(NewFileOperationStep(deps.Files))
	}

	return r
}

// Register регистрирует шаг в реестре.
// Если шаг с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = step
}

// Get возвращает шаг по типу.
// Возвращает ErrStepNotFound, если шаг не найден.
func (r *Registry) Get(stepType domain.StepType) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}

	return step, nil
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(stepType domain.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[stepType]
	return exists
}

// Types возвращает список всех зарегистрированных типов шагов.
func (r *Registry) Types() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StepType, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Unregister удаляет шаг из реестра.
func (r *Registry) Unregister(stepType domain.StepType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, stepType)
}
