package docstore

import (
	"fmt"
	"strings"
)

// aggregate выполняет pipeline над документами.
//
// Стадии: $match, $project, $sort, $limit, $skip, $count, $group, $unwind.
// Аккумуляторы $group: $sum, $avg, $min, $max, $first, $last, $push, $addToSet.
func aggregate(docs []Document, pipeline []Document) ([]Document, error) {
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("%w: stage %d must have exactly one operator", ErrInvalidPipeline, i)
		}
		for name, arg := range stage {
			var err error
			docs, err = applyStage(docs, name, arg)
			if err != nil {
				return nil, fmt.Errorf("stage %d (%s): %w", i, name, err)
			}
		}
	}
	return docs, nil
}

func applyStage(docs []Document, name string, arg any) ([]Document, error) {
	switch name {
	case "$match":
		filter, ok := toDocument(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $match expects a document", ErrInvalidPipeline)
		}
		out := make([]Document, 0, len(docs))
		for _, d := range docs {
			ok, err := Match(d, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, d)
			}
		}
		return out, nil

	case "$project":
		spec, ok := toDocument(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $project expects a document", ErrInvalidPipeline)
		}
		out := make([]Document, len(docs))
		for i, d := range docs {
			out[i] = projectStage(d, spec)
		}
		return out, nil

	case "$sort":
		spec, ok := toDocument(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $sort expects a document", ErrInvalidPipeline)
		}
		out := append([]Document(nil), docs...)
		sortDocs(out, ParseSort(spec))
		return out, nil

	case "$limit", "$skip":
		n, ok := toFloat(arg)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: %s expects a non-negative number", ErrInvalidPipeline, name)
		}
		if name == "$limit" {
			return window(docs, 0, int64(n)), nil
		}
		return window(docs, int64(n), 0), nil

	case "$count":
		field, ok := arg.(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: $count expects a field name", ErrInvalidPipeline)
		}
		if len(docs) == 0 {
			return []Document{}, nil
		}
		return []Document{{field: len(docs)}}, nil

	case "$group":
		spec, ok := toDocument(arg)
		if !ok {
			return nil, fmt.Errorf("%w: $group expects a document", ErrInvalidPipeline)
		}
		return group(docs, spec)

	case "$unwind":
		path, ok := arg.(string)
		if !ok {
			if d, isDoc := toDocument(arg); isDoc {
				path, ok = d["path"].(string)
			}
		}
		if !ok || !strings.HasPrefix(path, "$") {
			return nil, fmt.Errorf("%w: $unwind expects a field path", ErrInvalidPipeline)
		}
		field := path[1:]
		var out []Document
		for _, d := range docs {
			v, exists := getPath(d, field)
			items, isArr := toSlice(v)
			if !exists || !isArr {
				continue
			}
			for _, item := range items {
				cp := copyDoc(d)
				_ = setPath(cp, field, item)
				out = append(out, cp)
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown stage %s", ErrInvalidPipeline, name)
	}
}

// evalExpr вычисляет выражение агрегации: "$field", литерал или документ выражений.
func evalExpr(doc Document, expr any) any {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			v, _ := getPath(doc, e[1:])
			return v
		}
		return e
	case map[string]any:
		out := make(map[string]any, len(e))
		for k, v := range e {
			out[k] = evalExpr(doc, v)
		}
		return out
	}
	return expr
}

func projectStage(doc, spec Document) Document {
	computed := false
	for _, v := range spec {
		switch v.(type) {
		case string, map[string]any:
			computed = true
		}
	}
	if !computed {
		return project(doc, spec)
	}

	out := make(Document)
	for k, v := range spec {
		switch v.(type) {
		case string, map[string]any:
			out[k] = evalExpr(doc, v)
		default:
			if truthy(v) {
				if val, ok := getPath(doc, k); ok {
					_ = setPath(out, k, deepCopy(val))
				}
			}
		}
	}
	if keep, ok := spec[IDField]; !ok || truthy(keep) {
		if _, set := out[IDField]; !set {
			if id, ok := doc[IDField]; ok {
				out[IDField] = id
			}
		}
	}
	return out
}

type groupState struct {
	id    any
	count map[string]int
	acc   Document
}

func group(docs []Document, spec Document) ([]Document, error) {
	idExpr, ok := spec[IDField]
	if !ok {
		return nil, fmt.Errorf("%w: $group requires _id", ErrInvalidPipeline)
	}

	var groups []*groupState
	for _, d := range docs {
		id := evalExpr(d, idExpr)

		var g *groupState
		for _, existing := range groups {
			if equal(existing.id, id) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &groupState{id: id, count: make(map[string]int), acc: make(Document)}
			groups = append(groups, g)
		}

		for field, accSpec := range spec {
			if field == IDField {
				continue
			}
			a, ok := toDocument(accSpec)
			if !ok || len(a) != 1 {
				return nil, fmt.Errorf("%w: $group field %q needs one accumulator", ErrInvalidPipeline, field)
			}
			for op, expr := range a {
				if err := accumulate(g, field, op, evalExpr(d, expr)); err != nil {
					return nil, err
				}
			}
		}
	}

	out := make([]Document, 0, len(groups))
	for _, g := range groups {
		doc := Document{IDField: g.id}
		for field, accSpec := range spec {
			if field == IDField {
				continue
			}
			a, _ := toDocument(accSpec)
			if _, isAvg := a["$avg"]; isAvg {
				if n := g.count[field]; n > 0 {
					sum, _ := toFloat(g.acc[field])
					doc[field] = sum / float64(n)
				} else {
					doc[field] = nil
				}
				continue
			}
			doc[field] = g.acc[field]
		}
		out = append(out, doc)
	}
	return out, nil
}

func accumulate(g *groupState, field, op string, value any) error {
	cur, seen := g.acc[field]

	switch op {
	case "$sum", "$avg":
		n, ok := toFloat(value)
		if !ok {
			if !seen {
				g.acc[field] = 0
			}
			return nil
		}
		g.count[field]++
		if !seen {
			g.acc[field] = value
			return nil
		}
		c, _ := toFloat(cur)
		g.acc[field] = addNumbers(cur, value, c+n)

	case "$min":
		if value != nil && (!seen || cur == nil || compare(value, cur) < 0) {
			g.acc[field] = value
		}
	case "$max":
		if value != nil && (!seen || cur == nil || compare(value, cur) > 0) {
			g.acc[field] = value
		}
	case "$first":
		if !seen {
			g.acc[field] = value
		}
	case "$last":
		g.acc[field] = value
	case "$push":
		items, _ := cur.([]any)
		g.acc[field] = append(items, value)
	case "$addToSet":
		items, _ := cur.([]any)
		for _, item := range items {
			if equal(item, value) {
				return nil
			}
		}
		g.acc[field] = append(items, value)
	default:
		return fmt.Errorf("%w: accumulator %s", ErrUnsupportedOperator, op)
	}
	return nil
}
