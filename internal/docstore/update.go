package docstore

import (
	"fmt"
	"sort"
)

// applyUpdate применяет операторы обновления к документу на месте.
// Возвращает true, если документ изменился.
func applyUpdate(doc, update Document) (bool, error) {
	update = NormalizeUpdate(update)
	if len(update) == 0 {
		return false, fmt.Errorf("%w: empty update", ErrInvalidUpdate)
	}

	before := copyDoc(doc)

	ops := make([]string, 0, len(update))
	for op := range update {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		fields, ok := toDocument(update[op])
		if !ok {
			return false, fmt.Errorf("%w: %s expects a document", ErrInvalidUpdate, op)
		}
		for path, arg := range fields {
			if path == IDField && op != "$setOnInsert" {
				return false, fmt.Errorf("%w: %s is immutable", ErrInvalidUpdate, IDField)
			}
			if err := applyOperator(doc, op, path, arg); err != nil {
				return false, err
			}
		}
	}

	return !equal(before, doc), nil
}

func applyOperator(doc Document, op, path string, arg any) error {
	switch op {
	case "$set":
		return setPath(doc, path, deepCopy(arg))

	case "$setOnInsert":
		return nil

	case "$unset":
		unsetPath(doc, path)
		return nil

	case "$inc":
		delta, ok := toFloat(arg)
		if !ok {
			return fmt.Errorf("%w: $inc %q expects a number", ErrInvalidUpdate, path)
		}
		cur, exists := getPath(doc, path)
		if !exists {
			return setPath(doc, path, arg)
		}
		n, ok := toFloat(cur)
		if !ok {
			return fmt.Errorf("%w: $inc %q: field is not a number", ErrInvalidUpdate, path)
		}
		return setPath(doc, path, addNumbers(cur, arg, n+delta))

	case "$push":
		cur, exists := getPath(doc, path)
		var items []any
		if exists {
			s, ok := toSlice(cur)
			if !ok {
				return fmt.Errorf("%w: $push %q: field is not an array", ErrInvalidUpdate, path)
			}
			items = append(items, s...)
		}
		if each, ok := toDocument(arg); ok {
			if values, ok := toSlice(each["$each"]); ok {
				for _, v := range values {
					items = append(items, deepCopy(v))
				}
				return setPath(doc, path, items)
			}
		}
		return setPath(doc, path, append(items, deepCopy(arg)))

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// addNumbers сохраняет целый тип, если оба слагаемых целые.
func addNumbers(a, b any, sum float64) any {
	_, aInt := a.(int)
	_, bInt := b.(int)
	if aInt && bInt {
		return int(sum)
	}
	return sum
}

// upsertBase строит документ для upsert из полей равенства фильтра.
func upsertBase(filter, update Document) Document {
	doc := make(Document)
	for k, v := range filter {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		if ops, ok := toDocument(v); ok && isOperatorDoc(ops) {
			if eq, ok := ops["$eq"]; ok {
				_ = setPath(doc, k, deepCopy(eq))
			}
			continue
		}
		_ = setPath(doc, k, deepCopy(v))
	}
	if onInsert, ok := toDocument(NormalizeUpdate(update)["$setOnInsert"]); ok {
		for k, v := range onInsert {
			_ = setPath(doc, k, deepCopy(v))
		}
	}
	return doc
}

// project применяет проекцию: включающую ({a: 1}) или исключающую ({a: 0}).
// _id включается, если явно не исключён.
func project(doc, projection Document) Document {
	if len(projection) == 0 {
		return doc
	}

	inclusive := false
	for k, v := range projection {
		if k != IDField && truthy(v) {
			inclusive = true
			break
		}
	}

	if !inclusive {
		out := copyDoc(doc)
		for k, v := range projection {
			if !truthy(v) {
				unsetPath(out, k)
			}
		}
		return out
	}

	out := make(Document)
	for k, v := range projection {
		if k == IDField || !truthy(v) {
			continue
		}
		if val, ok := getPath(doc, k); ok {
			_ = setPath(out, k, deepCopy(val))
		}
	}
	if keep, ok := projection[IDField]; !ok || truthy(keep) {
		if id, ok := doc[IDField]; ok {
			out[IDField] = id
		}
	}
	return out
}

// sortDocs сортирует документы стабильно по полям.
func sortDocs(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, _ := getPath(docs[i], f.Field)
			b, _ := getPath(docs[j], f.Field)
			c := compare(a, b)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// window применяет skip и limit (0 — без ограничения).
func window(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return []Document{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}
