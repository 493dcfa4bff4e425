package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/docstore"
)

func seed(t *testing.T) docstore.Collection {
	t.Helper()
	c := docstore.NewMemoryStore().Collection("users")
	_, err := c.InsertMany(context.Background(), []docstore.Document{
		{"name": "ann", "age": 31, "status": "active", "tags": []any{"a", "b"}},
		{"name": "bob", "age": 25, "status": "inactive", "tags": []any{"b"}},
		{"name": "cid", "age": 42, "status": "active", "address": map[string]any{"city": "Oslo"}},
		{"name": "dan", "age": 19, "status": "active"},
		{"name": "eve", "age": 37, "status": "active", "tags": []any{"c"}},
	})
	require.NoError(t, err)
	return c
}

func names(docs []docstore.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["name"]
	}
	return out
}

func TestFind_LimitSkipSort(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	filter := docstore.Document{"status": "active"}
	docs, err := c.Find(ctx, filter, docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: "age"}},
		Limit: 2,
		Skip:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"ann", "eve"}, names(docs))

	all, err := c.Find(ctx, filter, docstore.FindOptions{})
	require.NoError(t, err)
	n, err := c.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(len(all)), n)
	assert.GreaterOrEqual(t, n, int64(len(docs)))
}

func TestFind_Operators(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	tests := []struct {
		name   string
		filter docstore.Document
		want   []any
	}{
		{"gt", docstore.Document{"age": map[string]any{"$gt": 35}}, []any{"cid", "eve"}},
		{"range", docstore.Document{"age": map[string]any{"$gte": 25, "$lt": 37}}, []any{"ann", "bob"}},
		{"in", docstore.Document{"name": map[string]any{"$in": []any{"bob", "dan"}}}, []any{"bob", "dan"}},
		{"nin", docstore.Document{"status": map[string]any{"$nin": []any{"active"}}}, []any{"bob"}},
		{"ne", docstore.Document{"status": map[string]any{"$ne": "active"}}, []any{"bob"}},
		{"array element", docstore.Document{"tags": "b"}, []any{"ann", "bob"}},
		{"nested path", docstore.Document{"address.city": "Oslo"}, []any{"cid"}},
		{"exists", docstore.Document{"tags": map[string]any{"$exists": false}}, []any{"cid", "dan"}},
		{"regex", docstore.Document{"name": map[string]any{"$regex": "^[ab]"}}, []any{"ann", "bob"}},
		{"regex options", docstore.Document{"name": map[string]any{"$regex": "^EVE$", "$options": "i"}}, []any{"eve"}},
		{"or", docstore.Document{"$or": []any{
			map[string]any{"age": map[string]any{"$lt": 20}},
			map[string]any{"name": "ann"},
		}}, []any{"ann", "dan"}},
		{"and", docstore.Document{"$and": []any{
			map[string]any{"status": "active"},
			map[string]any{"age": map[string]any{"$lte": 31}},
		}}, []any{"ann", "dan"}},
		{"size", docstore.Document{"tags": map[string]any{"$size": 2}}, []any{"ann"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := c.Find(ctx, tt.filter, docstore.FindOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(docs))
		})
	}
}

func TestFind_UnsupportedOperator(t *testing.T) {
	c := seed(t)
	_, err := c.Find(context.Background(), docstore.Document{"age": map[string]any{"$near": 1}}, docstore.FindOptions{})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedOperator)
}

func TestFind_Projection(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	doc, err := c.FindOne(ctx, docstore.Document{"name": "ann"}, docstore.Document{"name": 1})
	require.NoError(t, err)
	assert.Len(t, doc, 2)
	assert.Contains(t, doc, "_id")
	assert.Equal(t, "ann", doc["name"])

	doc, err = c.FindOne(ctx, docstore.Document{"name": "ann"}, docstore.Document{"tags": 0, "_id": 0})
	require.NoError(t, err)
	assert.NotContains(t, doc, "tags")
	assert.NotContains(t, doc, "_id")
	assert.Equal(t, 31, doc["age"])

	missing, err := c.FindOne(ctx, docstore.Document{"name": "zed"}, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	res, err := c.UpdateOne(ctx, docstore.Document{"name": "ann"}, docstore.Document{
		"$set":  map[string]any{"status": "vip"},
		"$inc":  map[string]any{"age": 1},
		"$push": map[string]any{"tags": "z"},
	}, docstore.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)

	doc, err := c.FindOne(ctx, docstore.Document{"name": "ann"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "vip", doc["status"])
	assert.Equal(t, 32, doc["age"])
	assert.Equal(t, []any{"a", "b", "z"}, doc["tags"])

	res, err = c.UpdateMany(ctx, docstore.Document{"status": "active"}, docstore.Document{"flag": true}, docstore.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.MatchedCount)

	n, err := c.Count(ctx, docstore.Document{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err = c.UpdateOne(ctx, docstore.Document{"name": "fay"}, docstore.Document{"$set": map[string]any{"age": 50}}, docstore.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.UpsertedCount)
	assert.NotNil(t, res.UpsertedID)

	doc, err = c.FindOne(ctx, docstore.Document{"name": "fay"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, doc["age"])

	_, err = c.UpdateOne(ctx, docstore.Document{"name": "bob"}, docstore.Document{"$rename": map[string]any{"a": "b"}}, docstore.UpdateOptions{})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedOperator)
}

func TestDeleteAndDistinct(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	values, err := c.Distinct(ctx, "tags", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, values)

	res, err := c.DeleteOne(ctx, docstore.Document{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)

	n, err := c.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	res, err = c.DeleteOne(ctx, docstore.Document{"name": "nobody"})
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount)
}

func TestUniqueIndex(t *testing.T) {
	ctx := context.Background()
	c := docstore.NewMemoryStore().Collection("accounts")

	require.NoError(t, c.EnsureIndexes(ctx, []docstore.IndexSpec{{Field: "email", Unique: true, Sparse: true}}))

	_, err := c.InsertOne(ctx, docstore.Document{"email": "a@b.c"})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, docstore.Document{"name": "no email"})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, docstore.Document{"name": "no email either"})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, docstore.Document{"email": "a@b.c"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

	_, err = c.UpdateOne(ctx, docstore.Document{"name": "no email"}, docstore.Document{"email": "a@b.c"}, docstore.UpdateOptions{})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	c := seed(t)

	docs, err := c.Aggregate(ctx, []docstore.Document{
		{"$match": map[string]any{"age": map[string]any{"$gte": 20}}},
		{"$group": map[string]any{
			"_id":   "$status",
			"total": map[string]any{"$sum": "$age"},
			"count": map[string]any{"$sum": 1},
			"avg":   map[string]any{"$avg": "$age"},
			"names": map[string]any{"$push": "$name"},
		}},
		{"$sort": map[string]any{"total": -1}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "active", docs[0]["_id"])
	assert.Equal(t, 110, docs[0]["total"])
	assert.Equal(t, 3, docs[0]["count"])
	assert.InDelta(t, 36.67, docs[0]["avg"], 0.01)
	assert.Equal(t, []any{"ann", "cid", "eve"}, docs[0]["names"])

	counted, err := c.Aggregate(ctx, []docstore.Document{
		{"$unwind": "$tags"},
		{"$count": "n"},
	})
	require.NoError(t, err)
	assert.Equal(t, []docstore.Document{{"n": 4}}, counted)

	projected, err := c.Aggregate(ctx, []docstore.Document{
		{"$match": map[string]any{"name": "cid"}},
		{"$project": map[string]any{"_id": 0, "who": "$name", "city": "$address.city"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []docstore.Document{{"who": "cid", "city": "Oslo"}}, projected)

	_, err = c.Aggregate(ctx, []docstore.Document{{"$lookup": map[string]any{}}})
	assert.ErrorIs(t, err, docstore.ErrInvalidPipeline)
}

func TestParseSort(t *testing.T) {
	got := docstore.ParseSort(map[string]any{"b": -1, "a": 1, "c": "desc"})
	assert.Equal(t, []docstore.SortField{
		{Field: "a"},
		{Field: "b", Desc: true},
		{Field: "c", Desc: true},
	}, got)
}
