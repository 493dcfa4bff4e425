package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/query"
)

func newCollection(t *testing.T) docstore.Collection {
	t.Helper()
	c := docstore.NewMemoryStore().Collection("orders")
	_, err := query.Execute(context.Background(), c, map[string]any{
		"type": "insertMany",
		"documents": []any{
			map[string]any{"sku": "a", "qty": 5.0, "status": "active"},
			map[string]any{"sku": "b", "qty": 1.0, "status": "active"},
			map[string]any{"sku": "c", "qty": 3.0, "status": "closed"},
			map[string]any{"sku": "d", "qty": 4.0, "status": "active"},
			map[string]any{"sku": "e", "qty": 2.0, "status": "active"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestExecute_FindLimitSkipAndCount(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t)

	out, err := query.Execute(ctx, c, map[string]any{
		"type":   "find",
		"filter": map[string]any{"status": "active"},
		"sort":   map[string]any{"qty": -1.0},
		"limit":  2.0,
		"skip":   1.0,
	})
	require.NoError(t, err)

	docs := out.([]docstore.Document)
	require.Len(t, docs, 2)
	assert.Equal(t, "d", docs[0]["sku"])
	assert.Equal(t, "e", docs[1]["sku"])

	all, err := query.Execute(ctx, c, map[string]any{"type": "find", "filter": map[string]any{"status": "active"}})
	require.NoError(t, err)

	n, err := query.Execute(ctx, c, map[string]any{"type": "count", "filter": map[string]any{"status": "active"}})
	require.NoError(t, err)
	assert.Equal(t, int64(len(all.([]docstore.Document))), n)
	assert.GreaterOrEqual(t, n.(int64), int64(len(docs)))
}

func TestExecute_AllTypes(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t)

	inserted, err := query.Execute(ctx, c, map[string]any{"type": "insert", "document": map[string]any{"sku": "f", "qty": 9.0}})
	require.NoError(t, err)
	assert.NotEmpty(t, inserted.(docstore.Document)["_id"])

	one, err := query.Execute(ctx, c, map[string]any{
		"type":       "findOne",
		"filter":     map[string]any{"sku": "f"},
		"projection": map[string]any{"qty": 1, "_id": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, docstore.Document{"qty": 9.0}, one)

	missing, err := query.Execute(ctx, c, map[string]any{"type": "findOne", "filter": map[string]any{"sku": "zz"}})
	require.NoError(t, err)
	assert.Nil(t, missing)

	upd, err := query.Execute(ctx, c, map[string]any{
		"type":   "update",
		"filter": map[string]any{"sku": "a"},
		"update": map[string]any{"$inc": map[string]any{"qty": 1.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), upd.(*docstore.UpdateResult).ModifiedCount)

	many, err := query.Execute(ctx, c, map[string]any{
		"type":   "updateMany",
		"filter": map[string]any{"status": "active"},
		"update": map[string]any{"$set": map[string]any{"checked": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), many.(*docstore.UpdateResult).MatchedCount)

	upserted, err := query.Execute(ctx, c, map[string]any{
		"type":    "update",
		"filter":  map[string]any{"sku": "new"},
		"update":  map[string]any{"$set": map[string]any{"qty": 1.0}},
		"options": map[string]any{"upsert": true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), upserted.(*docstore.UpdateResult).UpsertedCount)

	agg, err := query.Execute(ctx, c, map[string]any{
		"type": "aggregation",
		"pipeline": []any{
			map[string]any{"$match": map[string]any{"status": "active"}},
			map[string]any{"$group": map[string]any{"_id": nil, "qty": map[string]any{"$sum": "$qty"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 13.0, agg.([]docstore.Document)[0]["qty"])

	distinct, err := query.Execute(ctx, c, map[string]any{"type": "distinct", "field": "status"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"active", "closed"}, distinct)

	del, err := query.Execute(ctx, c, map[string]any{"type": "delete", "filter": map[string]any{"sku": "c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), del.(*docstore.DeleteResult).DeletedCount)
}

func TestExecute_Errors(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t)

	tests := []struct {
		name   string
		desc   map[string]any
		target error
	}{
		{"unknown type", map[string]any{"type": "truncate"}, query.ErrUnknownQueryType},
		{"missing type", map[string]any{}, query.ErrUnknownQueryType},
		{"distinct without field", map[string]any{"type": "distinct"}, query.ErrInvalidQuery},
		{"insert without document", map[string]any{"type": "insert"}, query.ErrInvalidQuery},
		{"insertMany not array", map[string]any{"type": "insertMany", "documents": "x"}, query.ErrInvalidQuery},
		{"update without update", map[string]any{"type": "update", "filter": map[string]any{}}, query.ErrInvalidQuery},
		{"negative limit", map[string]any{"type": "find", "limit": -1.0}, query.ErrInvalidQuery},
		{"bad pipeline", map[string]any{"type": "aggregation", "pipeline": []any{map[string]any{"$bogus": 1}}}, docstore.ErrInvalidPipeline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Execute(ctx, c, tt.desc)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
