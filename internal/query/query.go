// Package query выполняет описатели запросов шага dbOperation над
// коллекцией документов.
//
// Описатель — JSON объект вида {"type": "find", "filter": {...}, ...}.
// Поддерживаемые типы: find, findOne, insert, insertMany, update,
// updateMany, aggregation, delete, distinct, count.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/docstore"
)

// Типы запросов.
const (
	TypeFind        = "find"
	TypeFindOne     = "findOne"
	TypeInsert      = "insert"
	TypeInsertMany  = "insertMany"
	TypeUpdate      = "update"
	TypeUpdateMany  = "updateMany"
	TypeAggregation = "aggregation"
	TypeDelete      = "delete"
	TypeDistinct    = "distinct"
	TypeCount       = "count"
)

// Types — все поддерживаемые типы запросов.
var Types = []string{
	TypeFind, TypeFindOne, TypeInsert, TypeInsertMany, TypeUpdate,
	TypeUpdateMany, TypeAggregation, TypeDelete, TypeDistinct, TypeCount,
}

var (
	// ErrUnknownQueryType — неизвестный type в описателе.
	ErrUnknownQueryType = errors.New("unknown query type")

	// ErrInvalidQuery — поле описателя отсутствует или имеет неверный тип.
	ErrInvalidQuery = errors.New("invalid query")
)

// Execute выполняет запрос над коллекцией.
func Execute(ctx context.Context, coll docstore.Collection, desc map[string]any) (any, error) {
	qt, _ := desc["type"].(string)

	switch qt {
	case TypeFind:
		opts, err := findOptions(desc)
		if err != nil {
			return nil, err
		}
		return coll.Find(ctx, document(desc, "filter"), opts)

	case TypeFindOne:
		doc, err := coll.FindOne(ctx, document(desc, "filter"), document(desc, "projection"))
		if err != nil || doc == nil {
			return nil, err
		}
		return doc, nil

	case TypeInsert:
		doc, ok := desc["document"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: insert requires document", ErrInvalidQuery)
		}
		return coll.InsertOne(ctx, doc)

	case TypeInsertMany:
		docs, err := documents(desc, "documents")
		if err != nil {
			return nil, err
		}
		return coll.InsertMany(ctx, docs)

	case TypeUpdate, TypeUpdateMany:
		update := document(desc, "update")
		if len(update) == 0 {
			return nil, fmt.Errorf("%w: %s requires update", ErrInvalidQuery, qt)
		}
		opts := docstore.UpdateOptions{Upsert: truthy(document(desc, "options")["upsert"])}
		if qt == TypeUpdate {
			return coll.UpdateOne(ctx, document(desc, "filter"), update, opts)
		}
		return coll.UpdateMany(ctx, document(desc, "filter"), update, opts)

	case TypeAggregation:
		pipeline, err := documents(desc, "pipeline")
		if err != nil {
			return nil, err
		}
		return coll.Aggregate(ctx, pipeline)

	case TypeDelete:
		return coll.DeleteOne(ctx, document(desc, "filter"))

	case TypeDistinct:
		field, _ := desc["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("%w: distinct requires field", ErrInvalidQuery)
		}
		return coll.Distinct(ctx, field, document(desc, "filter"))

	case TypeCount:
		return coll.Count(ctx, document(desc, "filter"))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueryType, qt)
	}
}

func findOptions(desc map[string]any) (docstore.FindOptions, error) {
	opts := docstore.FindOptions{
		Projection: document(desc, "projection"),
		Sort:       docstore.ParseSort(document(desc, "sort")),
	}

	var err error
	if opts.Limit, err = count(desc, "limit"); err != nil {
		return opts, err
	}
	if opts.Skip, err = count(desc, "skip"); err != nil {
		return opts, err
	}
	return opts, nil
}

func document(desc map[string]any, key string) docstore.Document {
	if m, ok := desc[key].(map[string]any); ok {
		return m
	}
	return nil
}

func documents(desc map[string]any, key string) ([]docstore.Document, error) {
	raw, ok := desc[key].([]any)
	if !ok {
		if typed, ok := desc[key].([]map[string]any); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidQuery, key)
	}
	out := make([]docstore.Document, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrInvalidQuery, key, i)
		}
		out[i] = m
	}
	return out, nil
}

// count читает неотрицательное целое; отсутствующее поле — 0.
func count(desc map[string]any, key string) (int64, error) {
	v, ok := desc[key]
	if !ok || v == nil {
		return 0, nil
	}
	var n float64
	switch t := v.(type) {
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case float64:
		n = t
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidQuery, key)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidQuery, key)
	}
	return int64(n), nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
