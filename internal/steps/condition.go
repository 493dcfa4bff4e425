package steps

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Операторы condition.
const (
	OpAnd                = "AND"
	OpOr                 = "OR"
	OpEquals             = "EQUALS"
	OpNotEquals          = "NOT_EQUALS"
	OpGreaterThan        = "GREATER_THAN"
	OpLessThan           = "LESS_THAN"
	OpGreaterThanOrEqual = "GREATER_THAN_OR_EQUAL"
	OpLessThanOrEqual    = "LESS_THAN_OR_EQUAL"
	OpContains           = "CONTAINS"
	OpNotContains        = "NOT_CONTAINS"
	OpIsEmpty            = "IS_EMPTY"
	OpIsNotEmpty         = "IS_NOT_EMPTY"
)

// ConditionStep — ветвление workflow.
//
// Конфигурация:
//
//	{
//	    "condition": {
//	        "operator": "AND",
//	        "operands": [
//	            {"operator": "EQUALS", "operands": ["{{outputs.fetch.status}}", 200]},
//	            {"operator": "IS_NOT_EMPTY", "operands": ["{{outputs.fetch.data}}"]}
//	        ]
//	    },
//	    "onTrue": "step_ok",
//	    "onFalse": "step_fail"
//	}
//
// Операнды — литералы (после подстановки плейсхолдеров) или вложенные условия.
// Неизвестный оператор даёт false.
//
// Output: {"result": true, "nextStepId": "step_ok"}; выбранная ветка
// возвращается в Response.NextStepID.
type ConditionStep struct{}

// NewConditionStep создаёт новый ConditionStep.
func NewConditionStep() *ConditionStep {
	return &ConditionStep{}
}

// Type возвращает тип шага.
func (s *ConditionStep) Type() domain.StepType {
	return domain.StepTypeCondition
}

// Execute вычисляет условие и выбирает ветку.
func (s *ConditionStep) Execute(_ context.Context, req *Request) (*Response, error) {
	cond := GetConfigMap(req.Config, "condition")
	if cond == nil {
		return nil, fmt.Errorf("%w: %s: condition is required", ErrInvalidConfig, domain.StepTypeCondition)
	}

	result := Evaluate(cond)

	next := GetConfigString(req.Config, "onFalse")
	if result {
		next = GetConfigString(req.Config, "onTrue")
	}

	return &Response{
		Output: map[string]any{
			"result":     result,
			"nextStepId": next,
		},
		NextStepID: next,
	}, nil
}

// Evaluate вычисляет дерево условий.
func Evaluate(cond map[string]any) bool {
	operator := strings.ToUpper(GetConfigString(cond, "operator"))
	operands, _ := GetConfigSlice(cond, "operands")

	operand := func(i int) any {
		if i < len(operands) {
			return operands[i]
		}
		return nil
	}

	switch operator {
	case OpAnd:
		for _, op := range operands {
			if !evaluateOperand(op) {
				return false
			}
		}
		return len(operands) > 0

	case OpOr:
		for _, op := range operands {
			if evaluateOperand(op) {
				return true
			}
		}
		return false

	case OpEquals:
		return valuesEqual(operand(0), operand(1))

	case OpNotEquals:
		return !valuesEqual(operand(0), operand(1))

	case OpGreaterThan:
		c, ok := compareValues(operand(0), operand(1))
		return ok && c > 0

	case OpLessThan:
		c, ok := compareValues(operand(0), operand(1))
		return ok && c < 0

	case OpGreaterThanOrEqual:
		c, ok := compareValues(operand(0), operand(1))
		return ok && c >= 0

	case OpLessThanOrEqual:
		c, ok := compareValues(operand(0), operand(1))
		return ok && c <= 0

	case OpContains:
		return contains(operand(0), operand(1))

	case OpNotContains:
		return !contains(operand(0), operand(1))

	case OpIsEmpty:
		return isEmpty(operand(0))

	case OpIsNotEmpty:
		return !isEmpty(operand(0))

	default:
		return false
	}
}

// evaluateOperand вычисляет операнд AND/OR: вложенное условие или значение.
func evaluateOperand(op any) bool {
	if m, ok := op.(map[string]any); ok {
		if _, hasOp := m["operator"]; hasOp {
			return Evaluate(m)
		}
	}
	if b, ok := op.(bool); ok {
		return b
	}
	return false
}

// contains — подстрока, элемент массива или ключ map.
func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, toString(item))
	case map[string]any:
		_, ok := c[toString(item)]
		return ok
	}
	if items, ok := toSlice(container); ok {
		for _, v := range items {
			if valuesEqual(v, item) {
				return true
			}
		}
		return false
	}
	return reflect.DeepEqual(container, item)
}
