package docstore

import (
	"fmt"
	"regexp"
)

// Match проверяет документ по фильтру MongoDB.
//
// Поддерживаются равенство (в том числе элемента массива), $eq, $ne,
// $gt, $gte, $lt, $lte, $in, $nin, $exists, $regex ($options), $size,
// $not, а также логические $and, $or, $nor.
func Match(doc, filter Document) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			ok, err := matchLogical(doc, key, cond)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		if len(key) > 0 && key[0] == '$' {
			return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, key)
		}

		value, exists := getPath(doc, key)
		ok, err := matchField(value, exists, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc Document, op string, cond any) (bool, error) {
	items, ok := toSlice(cond)
	if !ok {
		return false, fmt.Errorf("%w: %s expects an array", ErrInvalidFilter, op)
	}

	for _, item := range items {
		sub, ok := toDocument(item)
		if !ok {
			return false, fmt.Errorf("%w: %s expects documents", ErrInvalidFilter, op)
		}
		matched, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !matched {
				return false, nil
			}
		case "$or":
			if matched {
				return true, nil
			}
		case "$nor":
			if matched {
				return false, nil
			}
		}
	}
	return op != "$or", nil
}

func matchField(value any, exists bool, cond any) (bool, error) {
	if ops, ok := toDocument(cond); ok && isOperatorDoc(ops) {
		for op, arg := range ops {
			if op == "$options" {
				continue
			}
			ok, err := matchOperator(value, exists, op, arg, ops)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return matchEquals(value, exists, cond), nil
}

// matchEquals — равенство; для массива достаточно совпадения элемента.
func matchEquals(value any, exists bool, cond any) bool {
	if !exists {
		return cond == nil
	}
	if equal(value, cond) {
		return true
	}
	if items, ok := toSlice(value); ok {
		for _, item := range items {
			if equal(item, cond) {
				return true
			}
		}
	}
	return false
}

// matchCompare применяет сравнение к значению или к любому элементу массива.
func matchCompare(value any, exists bool, arg any, pred func(int) bool) bool {
	if !exists {
		return false
	}
	if items, ok := toSlice(value); ok {
		for _, item := range items {
			if typeRank(item) == typeRank(arg) && pred(compare(item, arg)) {
				return true
			}
		}
		return false
	}
	return typeRank(value) == typeRank(arg) && pred(compare(value, arg))
}

func matchOperator(value any, exists bool, op string, arg any, ops Document) (bool, error) {
	switch op {
	case "$eq":
		return matchEquals(value, exists, arg), nil
	case "$ne":
		return !matchEquals(value, exists, arg), nil
	case "$gt":
		return matchCompare(value, exists, arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return matchCompare(value, exists, arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return matchCompare(value, exists, arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return matchCompare(value, exists, arg, func(c int) bool { return c <= 0 }), nil

	case "$in", "$nin":
		items, ok := toSlice(arg)
		if !ok {
			return false, fmt.Errorf("%w: %s expects an array", ErrInvalidFilter, op)
		}
		found := false
		for _, item := range items {
			if matchEquals(value, exists, item) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil

	case "$exists":
		return exists == truthy(arg), nil

	case "$size":
		items, ok := toSlice(value)
		n, okN := toFloat(arg)
		return ok && okN && float64(len(items)) == n, nil

	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, fmt.Errorf("%w: $regex expects a string", ErrInvalidFilter)
		}
		if opts, ok := ops["$options"].(string); ok && opts != "" {
			pattern = "(?" + opts + ")" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("%w: $regex: %v", ErrInvalidFilter, err)
		}
		s, ok := value.(string)
		return exists && ok && re.MatchString(s), nil

	case "$not":
		sub, ok := toDocument(arg)
		if !ok {
			return false, fmt.Errorf("%w: $not expects a document", ErrInvalidFilter)
		}
		matched, err := matchField(value, exists, sub)
		return !matched, err

	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}
