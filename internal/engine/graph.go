package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Conveyor/internal/domain"
)

// EdgeKind — тип ребра в графе шагов.
type EdgeKind string

const (
	// EdgeNext — onSuccess.nextStepId.
	EdgeNext EdgeKind = "next"

	// EdgeFallback — onFailure.fallbackStepId.
	EdgeFallback EdgeKind = "fallback"

	// EdgeBranch — onTrue/onFalse у condition.
	EdgeBranch EdgeKind = "branch"

	// EdgeSubStep — шаг, вызываемый из loop или parallelExecution.
	EdgeSubStep EdgeKind = "substep"
)

// Edge — ребро графа.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
}

// Node — узел графа.
type Node struct {
	Step *domain.Step
	ID   string
	Out  []Edge
	In   []Edge
}

// Graph — граф переходов между шагами workflow.
//
// В отличие от DAG граф может содержать циклы: nextStepId и fallbackStepId
// могут указывать назад. Циклы не ошибка, их ограничивает лимит шагов движка.
type Graph struct {
	Nodes map[string]*Node
	Entry *Node
	Edges []Edge
}

// BuildGraph строит граф из активных шагов.
// Возвращает ValidationError, если ребро указывает на неизвестный шаг.
func BuildGraph(steps []domain.Step) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node, len(steps))}

	for i := range steps {
		step := &steps[i]
		g.Nodes[step.ID] = &Node{Step: step, ID: step.ID}
		if step.IsEntry() && g.Entry == nil {
			g.Entry = g.Nodes[step.ID]
		}
	}

	for i := range steps {
		for _, e := range StepEdges(&steps[i]) {
			if err := g.addEdge(e); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

// addEdge добавляет ребро, проверяя существование обоих концов.
func (g *Graph) addEdge(e Edge) error {
	from := g.Nodes[e.From]
	to, ok := g.Nodes[e.To]
	if !ok {
		return NewValidationError(e.From, string(e.Kind),
			fmt.Sprintf("%s edge to unknown step: %s", e.Kind, e.To), ErrUnknownStepRef)
	}
	from.Out = append(from.Out, e)
	to.In = append(to.In, e)
	g.Edges = append(g.Edges, e)
	return nil
}

// StepEdges возвращает исходящие рёбра шага.
// Ссылки внутри config, содержащие плейсхолдеры, пропускаются:
// они станут известны только во время выполнения.
func StepEdges(step *domain.Step) []Edge {
	var edges []Edge
	add := func(to string, kind EdgeKind) {
		if to == "" || HasPlaceholders(to) {
			return
		}
		edges = append(edges, Edge{From: step.ID, To: to, Kind: kind})
	}

	add(step.OnSuccess.NextStepID, EdgeNext)
	add(step.OnFailure.FallbackStepID, EdgeFallback)

	switch step.Type {
	case domain.StepTypeCondition:
		add(configString(step.Config, "onTrue"), EdgeBranch)
		add(configString(step.Config, "onFalse"), EdgeBranch)
	case domain.StepTypeLoop:
		for _, id := range configStrings(step.Config, "loopStepIds") {
			add(id, EdgeSubStep)
		}
	case domain.StepTypeParallel:
		for _, id := range configStrings(step.Config, "stepIds") {
			add(id, EdgeSubStep)
		}
	}

	return edges
}

// Reachable возвращает множество шагов, достижимых из входного.
func (g *Graph) Reachable() map[string]bool {
	visited := make(map[string]bool, len(g.Nodes))
	if g.Entry == nil {
		return visited
	}

	queue := []string{g.Entry.ID}
	visited[g.Entry.ID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Nodes[id].Out {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	return visited
}

// Unreachable возвращает отсортированный список шагов, недостижимых из входного.
func (g *Graph) Unreachable() []string {
	reachable := g.Reachable()
	var result []string
	for id := range g.Nodes {
		if !reachable[id] {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// FindCycle возвращает один цикл (список ID, первый повторяется в конце)
// или nil, если граф ацикличен.
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.Nodes))
	var stack []string
	var cycle []string

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, e := range g.Nodes[id].Out {
			switch color[e.To] {
			case grey:
				for i, s := range stack {
					if s == e.To {
						cycle = append(append([]string{}, stack[i:]...), e.To)
						break
					}
				}
				return true
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}

	return nil
}

func configString(config map[string]any, key string) string {
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}

func configStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
