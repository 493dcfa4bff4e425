package engine

import (
	"maps"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Корневые ключи, доступные в плейсхолдерах.
const (
	RootOutputs = "outputs"
	RootBody    = "body"
	RootQuery   = "query"
	RootParams  = "params"
)

// Request — данные входящего HTTP запроса, запустившего run.
type Request struct {
	Body   any            `json:"body,omitempty"`
	Query  map[string]any `json:"query,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Context — состояние одного run.
//
// Живёт от старта run до его завершения и не разделяется между runs.
// Outputs защищены мьютексом: параллельные шаги пишут под разными ключами.
type Context struct {
	request Request

	mu      sync.RWMutex
	outputs map[string]any

	// vars — поля, привязанные циклом (currentField → значение).
	vars map[string]any

	// steps — копии шагов run (stepID → шаг).
	steps map[string]*domain.Step
}

// NewContext создаёт контекст для run.
// Шаги копируются, чтобы run не мог изменить общий workflow.
func NewContext(req Request, steps []domain.Step) *Context {
	lookup := make(map[string]*domain.Step, len(steps))
	for i := range steps {
		step := steps[i]
		lookup[step.ID] = &step
	}
	if req.Query == nil {
		req.Query = make(map[string]any)
	}
	if req.Params == nil {
		req.Params = make(map[string]any)
	}
	return &Context{
		request: req,
		outputs: make(map[string]any),
		vars:    make(map[string]any),
		steps:   lookup,
	}
}

// Step возвращает шаг по ID.
func (c *Context) Step(id string) (*domain.Step, bool) {
	s, ok := c.steps[id]
	return s, ok
}

// SetOutput сохраняет результат шага.
func (c *Context) SetOutput(stepID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = value
}

// Output возвращает результат шага.
func (c *Context) Output(stepID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[stepID]
	return v, ok
}

// Outputs возвращает копию всех результатов.
func (c *Context) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.outputs)
}

// Set привязывает значение к полю верхнего уровня (используется циклом).
func (c *Context) Set(field string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[field] = value
}

// Var возвращает значение поля, привязанного через Set.
func (c *Context) Var(field string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[field]
	return v, ok
}

// Vars возвращает копию привязанных полей.
func (c *Context) Vars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.vars)
}

// Request возвращает данные входящего запроса.
func (c *Context) Request() Request {
	return c.request
}

// Clone возвращает копию контекста для итерации цикла.
// Изменения outputs и vars копии не видны в исходном контексте.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		request: c.request,
		outputs: maps.Clone(c.outputs),
		vars:    maps.Clone(c.vars),
		steps:   c.steps,
	}
}

// Root возвращает корневой объект для разрешения плейсхолдеров:
// {outputs, body, query, params} плюс поля, привязанные циклом.
func (c *Context) Root() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	root := make(map[string]any, len(c.vars)+4)
	for k, v := range c.vars {
		root[k] = v
	}
	root[RootOutputs] = maps.Clone(c.outputs)
	root[RootBody] = c.request.Body
	root[RootQuery] = c.request.Query
	root[RootParams] = c.request.Params
	return root
}
