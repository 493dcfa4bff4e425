package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Типы трансформации.
const (
	TransformMap     = "map"
	TransformFormat  = "format"
	TransformCombine = "combine"
)

const defaultSeparator = ", "

// TransformationStep — преобразование списка значений.
//
// Конфигурация:
//
//	{
//	    "transformationType": "map" | "format" | "combine",
//	    "inputValues": [1, 2, 3],
//
//	    // map: Lua выражение над value и index
//	    "mapFunction": "value * 10",
//
//	    // format: см. formatValue
//	    "formatType": "number",
//	    "formatOptions": {"method": "fixedDecimal", "decimalPlaces": 2},
//
//	    // combine
//	    "separator": " | "
//	}
//
// Output: массив для map и format, строка для combine.
type TransformationStep struct {
	lua *LuaEnv
}

// NewTransformationStep создаёт новый TransformationStep.
func NewTransformationStep(lua *LuaEnv) *TransformationStep {
	if lua == nil {
		lua = NewLuaEnv()
	}
	return &TransformationStep{lua: lua}
}

// Type возвращает тип шага.
func (s *TransformationStep) Type() domain.StepType {
	return domain.StepTypeTransformation
}

// Execute выполняет трансформацию.
func (s *TransformationStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	inputs, ok := GetConfigSlice(req.Config, "inputValues")
	if !ok {
		return nil, fmt.Errorf("%w: %s: inputValues must be an array", ErrInvalidConfig, domain.StepTypeTransformation)
	}

	kind := GetConfigString(req.Config, "transformationType")
	switch kind {
	case TransformMap:
		fn := GetConfigString(req.Config, "mapFunction")
		if fn == "" {
			return nil, fmt.Errorf("%w: mapFunction is required", ErrTransformation)
		}
		out, err := s.mapValues(ctx, inputs, fn)
		if err != nil {
			return nil, err
		}
		return NewResponse(out), nil

	case TransformFormat:
		formatType := GetConfigString(req.Config, "formatType")
		opts := GetConfigMap(req.Config, "formatOptions")
		if opts == nil {
			opts = map[string]any{}
		}
		f := formatter{ctx: ctx, lua: s.lua}
		out := make([]any, len(inputs))
		for i, v := range inputs {
			formatted, err := f.format(formatType, v, opts)
			if err != nil {
				return nil, err
			}
			out[i] = formatted
		}
		return NewResponse(out), nil

	case TransformCombine:
		sep := defaultSeparator
		if v, ok := req.Config["separator"].(string); ok {
			sep = v
		}
		parts := make([]string, len(inputs))
		for i, v := range inputs {
			parts[i] = toString(v)
		}
		return NewResponse(strings.Join(parts, sep)), nil

	default:
		return nil, fmt.Errorf("%w: %w: transformationType %q", ErrTransformation, ErrUnsupportedType, kind)
	}
}

func (s *TransformationStep) mapValues(ctx context.Context, inputs []any, fn string) ([]any, error) {
	out := make([]any, len(inputs))
	for i, v := range inputs {
		res, err := s.lua.Eval(ctx, fn, map[string]any{"value": v, "index": i})
		if err != nil {
			return nil, fmt.Errorf("%w: map: %w", ErrTransformation, err)
		}
		out[i] = res
	}
	return out, nil
}
