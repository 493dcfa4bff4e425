package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe — токен {{path}}; пробелы внутри скобок допускаются.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve подставляет значения плейсхолдеров в произвольную структуру.
//
// Рекурсивно обрабатывает map и slice. Строка, состоящая ровно из одного
// плейсхолдера, заменяется значением целиком с сохранением типа:
//
//	"{{outputs.fetch.data}}"        → map[string]any{...}
//	"Hello, {{body.user.name}}!"    → "Hello, Ann!"
//
// Отсутствующий сегмент пути — ErrResolution. Функция чистая.
func Resolve(value any, root map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, root)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := Resolve(val, root)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			resolved, err := Resolve(val, root)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	case map[string]string:
		result := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := resolveString(val, root)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil

	case []string:
		result := make([]any, len(v))
		for i, val := range v {
			resolved, err := resolveString(val, root)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	default:
		// Числа, bool, nil возвращаем как есть
		return value, nil
	}
}

// ResolveConfig разрешает конфигурацию шага против контекста run.
func ResolveConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	resolved, err := Resolve(config, ctx.Root())
	if err != nil {
		return nil, err
	}

	return resolved.(map[string]any), nil
}

// HasPlaceholders проверяет, содержит ли строка плейсхолдеры.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

func resolveString(s string, root map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	// Целиком один плейсхолдер — возвращаем значение с исходным типом
	if loc := placeholderRe.FindStringSubmatchIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
		return Lookup(root, s[loc[2]:loc[3]])
	}

	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		path := placeholderRe.FindStringSubmatch(token)[1]
		value, err := Lookup(root, path)
		if err != nil {
			firstErr = err
			return token
		}
		return stringify(value)
	})
	if firstErr != nil {
		return nil, firstErr
	}

	return out, nil
}

// Lookup проходит по пути a.b.c через вложенные map и slice.
// Числовой сегмент индексирует массив.
func Lookup(root map[string]any, path string) (any, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrResolution)
	}

	var current any = root
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, fmt.Errorf("%w: %q: segment %q not found", ErrResolution, path, segment)
		}
		current = next
	}

	return current, nil
}

func child(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case map[string]string:
		v, ok := n[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, false
		}
		return n[idx], true
	case []map[string]any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, false
		}
		return n[idx], true
	default:
		return nil, false
	}
}

// stringify превращает значение в текст для подстановки внутри строки.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int64, int32, bool:
		return fmt.Sprint(val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
