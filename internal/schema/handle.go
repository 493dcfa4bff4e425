package schema

import (
	"context"

	"github.com/shaiso/Conveyor/internal/docstore"
)

// Handle — коллекция модели со схемой. Записи проходят через схему,
// чтения учитывают select: false.
type Handle struct {
	schema *Schema
	coll   docstore.Collection
}

var _ docstore.Collection = (*Handle)(nil)

// NewHandle связывает схему с коллекцией.
func NewHandle(s *Schema, coll docstore.Collection) *Handle {
	return &Handle{schema: s, coll: coll}
}

// Schema возвращает схему модели.
func (h *Handle) Schema() *Schema { return h.schema }

// Unwrap возвращает коллекцию без схемы.
func (h *Handle) Unwrap() docstore.Collection { return h.coll }

func (h *Handle) Name() string { return h.coll.Name() }

func (h *Handle) Find(ctx context.Context, filter docstore.Document, opts docstore.FindOptions) ([]docstore.Document, error) {
	opts.Projection = h.schema.Projection(opts.Projection)
	return h.coll.Find(ctx, filter, opts)
}

func (h *Handle) FindOne(ctx context.Context, filter, projection docstore.Document) (docstore.Document, error) {
	return h.coll.FindOne(ctx, filter, h.schema.Projection(projection))
}

func (h *Handle) InsertOne(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	prepared, err := h.schema.PrepareInsert(doc)
	if err != nil {
		return nil, err
	}
	return h.coll.InsertOne(ctx, prepared)
}

// InsertMany проверяет все документы до записи.
func (h *Handle) InsertMany(ctx context.Context, docs []docstore.Document) ([]docstore.Document, error) {
	prepared := make([]docstore.Document, len(docs))
	for i, d := range docs {
		p, err := h.schema.PrepareInsert(d)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}
	return h.coll.InsertMany(ctx, prepared)
}

func (h *Handle) UpdateOne(ctx context.Context, filter, update docstore.Document, opts docstore.UpdateOptions) (*docstore.UpdateResult, error) {
	prepared, err := h.schema.PrepareUpdate(update)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return h.noop(ctx, filter, false)
	}
	return h.coll.UpdateOne(ctx, filter, prepared, opts)
}

func (h *Handle) UpdateMany(ctx context.Context, filter, update docstore.Document, opts docstore.UpdateOptions) (*docstore.UpdateResult, error) {
	prepared, err := h.schema.PrepareUpdate(update)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return h.noop(ctx, filter, true)
	}
	return h.coll.UpdateMany(ctx, filter, prepared, opts)
}

// noop — обновление без допустимых полей: документы не меняются.
func (h *Handle) noop(ctx context.Context, filter docstore.Document, many bool) (*docstore.UpdateResult, error) {
	n, err := h.coll.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !many && n > 1 {
		n = 1
	}
	return &docstore.UpdateResult{MatchedCount: n}, nil
}

func (h *Handle) DeleteOne(ctx context.Context, filter docstore.Document) (*docstore.DeleteResult, error) {
	return h.coll.DeleteOne(ctx, filter)
}

func (h *Handle) Aggregate(ctx context.Context, pipeline []docstore.Document) ([]docstore.Document, error) {
	return h.coll.Aggregate(ctx, pipeline)
}

func (h *Handle) Distinct(ctx context.Context, field string, filter docstore.Document) ([]any, error) {
	return h.coll.Distinct(ctx, field, filter)
}

func (h *Handle) Count(ctx context.Context, filter docstore.Document) (int64, error) {
	return h.coll.Count(ctx, filter)
}

func (h *Handle) EnsureIndexes(ctx context.Context, indexes []docstore.IndexSpec) error {
	return h.coll.EnsureIndexes(ctx, indexes)
}
