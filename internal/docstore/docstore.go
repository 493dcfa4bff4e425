// Package docstore — хранилище документов для динамических моделей.
//
// Коллекции создаются во время выполнения по метаданным модели (см. пакет
// schema). Два backend'а: MongoDB (production) и in-memory (CLI, тесты).
// Документы представлены как map[string]any; фильтры, обновления и
// pipeline агрегации записываются в синтаксисе MongoDB.
package docstore

import (
	"context"
	"errors"
	"sort"
)

// Ошибки хранилища.
var (
	// ErrDuplicateKey — нарушение уникального индекса.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidFilter — фильтр не может быть разобран.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidUpdate — документ обновления не может быть применён.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrInvalidPipeline — неизвестная или некорректная стадия агрегации.
	ErrInvalidPipeline = errors.New("invalid aggregation pipeline")

	// ErrUnsupportedOperator — оператор не поддерживается backend'ом.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// IDField — имя поля идентификатора документа.
const IDField = "_id"

// Document — документ коллекции.
type Document = map[string]any

// SortField — поле сортировки.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions — параметры выборки.
type FindOptions struct {
	Projection Document
	Sort       []SortField
	Limit      int64
	Skip       int64
}

// UpdateOptions — параметры обновления.
type UpdateOptions struct {
	Upsert bool
}

// UpdateResult — результат update/updateMany.
type UpdateResult struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	UpsertedID    any   `json:"upsertedId,omitempty"`
}

// DeleteResult — результат delete.
type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// IndexSpec — индекс по одному полю.
type IndexSpec struct {
	Field  string
	Unique bool
	Sparse bool
}

// Collection — операции над одной коллекцией.
type Collection interface {
	Name() string

	Find(ctx context.Context, filter Document, opts FindOptions) ([]Document, error)
	// FindOne возвращает nil без ошибки, если документ не найден.
	FindOne(ctx context.Context, filter, projection Document) (Document, error)
	InsertOne(ctx context.Context, doc Document) (Document, error)
	InsertMany(ctx context.Context, docs []Document) ([]Document, error)
	UpdateOne(ctx context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error)
	DeleteOne(ctx context.Context, filter Document) (*DeleteResult, error)
	Aggregate(ctx context.Context, pipeline []Document) ([]Document, error)
	Distinct(ctx context.Context, field string, filter Document) ([]any, error)
	Count(ctx context.Context, filter Document) (int64, error)

	EnsureIndexes(ctx context.Context, indexes []IndexSpec) error
}

// Store — набор коллекций.
type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParseSort переводит {"field": 1|-1} в список полей сортировки.
// JSON объект не сохраняет порядок ключей, поэтому поля упорядочиваются
// по имени.
func ParseSort(spec map[string]any) []SortField {
	if len(spec) == 0 {
		return nil
	}
	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]SortField, 0, len(fields))
	for _, f := range fields {
		out = append(out, SortField{Field: f, Desc: isDescending(spec[f])})
	}
	return out
}

func isDescending(v any) bool {
	switch d := v.(type) {
	case string:
		return d == "desc" || d == "descending" || d == "-1"
	}
	if n, ok := toFloat(v); ok {
		return n < 0
	}
	return false
}

// isOperatorDoc — все ключи документа начинаются с "$".
func isOperatorDoc(doc Document) bool {
	if len(doc) == 0 {
		return false
	}
	for k := range doc {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

// NormalizeUpdate оборачивает документ без операторов в $set.
func NormalizeUpdate(update Document) Document {
	if len(update) == 0 || isOperatorDoc(update) {
		return update
	}
	return Document{"$set": update}
}
