package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Типы форматирования.
const (
	FormatString  = "string"
	FormatNumber  = "number"
	FormatDate    = "date"
	FormatBoolean = "boolean"
	FormatArray   = "array"
	FormatObject  = "object"
)

const defaultLocale = "en-US"

// localeDateLayouts — короткий формат даты по локали.
var localeDateLayouts = map[string]string{
	"en-US": "1/2/2006",
	"en-GB": "02/01/2006",
	"de-DE": "2.1.2006",
	"fr-FR": "02/01/2006",
	"ru-RU": "02.01.2006",
	"ja-JP": "2006/1/2",
}

// customDateTokens — токены пользовательского формата даты в порядке замены.
var customDateTokens = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
	{"SSS", "000"},
}

// formatter — форматирование одного значения по formatType/method.
type formatter struct {
	ctx context.Context
	lua *LuaEnv
}

func (f formatter) format(formatType string, value any, opts map[string]any) (any, error) {
	method := GetConfigString(opts, "method")

	var (
		out any
		err error
	)
	switch formatType {
	case FormatString:
		out, err = formatString(value, method, opts)
	case FormatNumber:
		out, err = formatNumber(value, method, opts)
	case FormatDate:
		out, err = formatDate(value, method, opts)
	case FormatBoolean:
		out, err = formatBoolean(value, method)
	case FormatArray:
		out, err = f.formatArray(value, method, opts)
	case FormatObject:
		out, err = formatObject(value, method, opts)
	default:
		return nil, fmt.Errorf("%w: %w: formatType %q", ErrTransformation, ErrUnsupportedType, formatType)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func unsupportedMethod(formatType, method string) error {
	return fmt.Errorf("%w: %w: %s method %q", ErrTransformation, ErrUnsupportedType, formatType, method)
}

func wrongInput(formatType string, value any) error {
	return fmt.Errorf("%w: %s format expects %s, got %T", ErrTransformation, formatType, formatType, value)
}

func formatString(value any, method string, opts map[string]any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, wrongInput(FormatString, value)
	}

	switch method {
	case "uppercase":
		return strings.ToUpper(s), nil
	case "lowercase":
		return strings.ToLower(s), nil
	case "capitalize":
		words := strings.Split(s, " ")
		for i, w := range words {
			if w == "" {
				continue
			}
			r := []rune(strings.ToLower(w))
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
		return strings.Join(words, " "), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "substring":
		return substring(s, GetConfigInt(opts, "startIndex"), opts["endIndex"]), nil
	case "replace":
		return strings.Replace(s, GetConfigString(opts, "searchValue"), GetConfigString(opts, "replaceValue"), 1), nil
	default:
		return nil, unsupportedMethod(FormatString, method)
	}
}

// substring повторяет семантику String.prototype.substring: индексы
// ограничиваются длиной и меняются местами, если start > end.
func substring(s string, start int, endRaw any) string {
	runes := []rune(s)
	end := len(runes)
	if f, ok := toFloat(endRaw); ok {
		end = int(f)
	}
	clamp := func(i int) int {
		return max(0, min(i, len(runes)))
	}
	start, end = clamp(start), clamp(end)
	if start > end {
		start, end = end, start
	}
	return string(runes[start:end])
}

func formatNumber(value any, method string, opts map[string]any) (any, error) {
	num, ok := toFloat(value)
	if !ok {
		return nil, wrongInput(FormatNumber, value)
	}

	places := 2
	if p, ok := GetConfigNumber(opts, "decimalPlaces"); ok && p > 0 {
		places = int(p)
	}

	switch method {
	case "fixedDecimal":
		return strconv.FormatFloat(num, 'f', places, 64), nil
	case "currency":
		return formatCurrency(num, opts)
	case "percentage":
		return strconv.FormatFloat(num*100, 'f', places, 64) + "%", nil
	case "thousandsSeparator":
		p := printerFor(GetConfigString(opts, "locale"))
		return p.Sprint(number.Decimal(num)), nil
	case "scientific":
		return strconv.FormatFloat(num, 'e', -1, 64), nil
	default:
		return nil, unsupportedMethod(FormatNumber, method)
	}
}

func formatCurrency(num float64, opts map[string]any) (string, error) {
	code := GetConfigString(opts, "currency")
	if code == "" {
		code = "USD"
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: currency %q: %v", ErrTransformation, code, err)
	}
	p := printerFor(GetConfigString(opts, "locale"))
	return p.Sprint(currency.Symbol(unit.Amount(num))), nil
}

func printerFor(locale string) *message.Printer {
	if locale == "" {
		locale = defaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return message.NewPrinter(tag)
}

func formatDate(value any, method string, opts map[string]any) (any, error) {
	t, err := parseDate(value)
	if err != nil {
		return nil, err
	}

	switch method {
	case "iso":
		return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case "localeDateString":
		locale := GetConfigString(opts, "locale")
		layout, ok := localeDateLayouts[locale]
		if !ok {
			layout = localeDateLayouts[defaultLocale]
		}
		return t.UTC().Format(layout), nil
	case "custom":
		pattern := GetConfigString(opts, "format")
		if pattern == "" {
			return nil, fmt.Errorf("%w: custom date format is required", ErrTransformation)
		}
		return t.UTC().Format(customLayout(pattern)), nil
	case "unixTimestamp":
		return t.UnixMilli(), nil
	default:
		return nil, unsupportedMethod(FormatDate, method)
	}
}

// parseDate принимает RFC 3339, дату YYYY-MM-DD или unix время в мс.
func parseDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrTransformation, v)
	}
	if ms, ok := toFloat(value); ok {
		return time.UnixMilli(int64(ms)), nil
	}
	return time.Time{}, wrongInput(FormatDate, value)
}

// customLayout переводит шаблон вида "YYYY-MM-DD HH:mm" в layout Go.
func customLayout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, tok := range customDateTokens {
			if strings.HasPrefix(pattern[i:], tok.token) {
				b.WriteString(tok.layout)
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

func formatBoolean(value any, method string) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, wrongInput(FormatBoolean, value)
	}

	switch method {
	case "toString":
		return strconv.FormatBool(b), nil
	case "yesNo":
		if b {
			return "Yes", nil
		}
		return "No", nil
	case "onOff":
		if b {
			return "On", nil
		}
		return "Off", nil
	default:
		return nil, unsupportedMethod(FormatBoolean, method)
	}
}

func (f formatter) formatArray(value any, method string, opts map[string]any) (any, error) {
	items, ok := toSlice(value)
	if !ok {
		return nil, wrongInput(FormatArray, value)
	}

	switch method {
	case "join":
		sep := defaultSeparator
		if v, ok := opts["separator"].(string); ok {
			sep = v
		}
		parts := make([]string, len(items))
		for i, v := range items {
			parts[i] = toString(v)
		}
		return strings.Join(parts, sep), nil

	case "sort":
		sorted := append([]any(nil), items...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if c, ok := compareValues(sorted[i], sorted[j]); ok {
				return c < 0
			}
			return toString(sorted[i]) < toString(sorted[j])
		})
		return sorted, nil

	case "filter":
		expr := GetConfigString(opts, "filterCondition")
		if expr == "" {
			return nil, fmt.Errorf("%w: filterCondition is required", ErrTransformation)
		}
		var out []any
		for i, v := range items {
			keep, err := f.lua.EvalBool(f.ctx, expr, map[string]any{"value": v, "index": i})
			if err != nil {
				return nil, fmt.Errorf("%w: filter: %w", ErrTransformation, err)
			}
			if keep {
				out = append(out, v)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil

	case "map":
		expr := GetConfigString(opts, "mapFunction")
		if expr == "" {
			return nil, fmt.Errorf("%w: mapFunction is required", ErrTransformation)
		}
		out := make([]any, len(items))
		for i, v := range items {
			res, err := f.lua.Eval(f.ctx, expr, map[string]any{"value": v, "index": i})
			if err != nil {
				return nil, fmt.Errorf("%w: map: %w", ErrTransformation, err)
			}
			out[i] = res
		}
		return out, nil

	case "reduce":
		expr := GetConfigString(opts, "reducer")
		if expr == "" {
			return nil, fmt.Errorf("%w: reducer is required", ErrTransformation)
		}
		acc := opts["initialValue"]
		if acc == nil {
			acc = 0
		}
		for i, v := range items {
			res, err := f.lua.Eval(f.ctx, expr, map[string]any{"acc": acc, "value": v, "index": i})
			if err != nil {
				return nil, fmt.Errorf("%w: reduce: %w", ErrTransformation, err)
			}
			acc = res
		}
		return acc, nil

	default:
		return nil, unsupportedMethod(FormatArray, method)
	}
}

func formatObject(value any, method string, opts map[string]any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, wrongInput(FormatObject, value)
	}

	switch method {
	case "stringify":
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: stringify: %v", ErrTransformation, err)
		}
		return string(b), nil
	case "pick":
		fields := GetConfigStringSlice(opts, "fields")
		out := make(map[string]any, len(fields))
		for _, field := range fields {
			out[field] = obj[field]
		}
		return out, nil
	case "flatten":
		out := make(map[string]any)
		flatten("", obj, out)
		return out, nil
	default:
		return nil, unsupportedMethod(FormatObject, method)
	}
}

// flatten раскладывает вложенные map и массивы в ключи вида "a.b.0".
func flatten(prefix string, value any, out map[string]any) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	switch v := value.(type) {
	case map[string]any:
		for k, item := range v {
			flatten(key(k), item, out)
		}
	case []any:
		for i, item := range v {
			flatten(key(strconv.Itoa(i)), item, out)
		}
	default:
		out[prefix] = value
	}
}
