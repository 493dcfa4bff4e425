package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore — хранилище на MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

// OpenMongo подключается к MongoDB и проверяет соединение.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Collection(name string) Collection {
	return &mongoCollection{coll: s.db.Collection(name)}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string { return c.coll.Name() }

func (c *mongoCollection) Find(ctx context.Context, filter Document, opts FindOptions) ([]Document, error) {
	fo := options.Find()
	if len(opts.Projection) > 0 {
		fo.SetProjection(bson.M(opts.Projection))
	}
	if len(opts.Sort) > 0 {
		fo.SetSort(sortDoc(opts.Sort))
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}

	cur, err := c.coll.Find(ctx, toFilter(filter), fo)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return decodeAll(ctx, cur)
}

func (c *mongoCollection) FindOne(ctx context.Context, filter, projection Document) (Document, error) {
	fo := options.FindOne()
	if len(projection) > 0 {
		fo.SetProjection(bson.M(projection))
	}

	var m bson.M
	err := c.coll.FindOne(ctx, toFilter(filter), fo).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMongoError(err)
	}
	return fromBSON(m).(Document), nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc Document) (Document, error) {
	stored := copyDoc(doc)
	if stored == nil {
		stored = make(Document)
	}
	res, err := c.coll.InsertOne(ctx, bson.M(stored))
	if err != nil {
		return nil, mapMongoError(err)
	}
	stored[IDField] = fromBSON(res.InsertedID)
	return stored, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return []Document{}, nil
	}
	stored := make([]Document, len(docs))
	batch := make([]any, len(docs))
	for i, d := range docs {
		stored[i] = copyDoc(d)
		if stored[i] == nil {
			stored[i] = make(Document)
		}
		batch[i] = bson.M(stored[i])
	}

	res, err := c.coll.InsertMany(ctx, batch)
	if err != nil {
		return nil, mapMongoError(err)
	}
	for i, id := range res.InsertedIDs {
		stored[i][IDField] = fromBSON(id)
	}
	return stored, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, toFilter(filter), bson.M(NormalizeUpdate(update)), options.Update().SetUpsert(opts.Upsert))
	if err != nil {
		return nil, mapMongoError(err)
	}
	return updateResult(res), nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, toFilter(filter), bson.M(NormalizeUpdate(update)), options.Update().SetUpsert(opts.Upsert))
	if err != nil {
		return nil, mapMongoError(err)
	}
	return updateResult(res), nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter Document) (*DeleteResult, error) {
	res, err := c.coll.DeleteOne(ctx, toFilter(filter))
	if err != nil {
		return nil, mapMongoError(err)
	}
	return &DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline []Document) ([]Document, error) {
	stages := make(bson.A, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = bson.M(stage)
	}

	cur, err := c.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return decodeAll(ctx, cur)
}

func (c *mongoCollection) Distinct(ctx context.Context, field string, filter Document) ([]any, error) {
	values, err := c.coll.Distinct(ctx, field, toFilter(filter))
	if err != nil {
		return nil, mapMongoError(err)
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = fromBSON(v)
	}
	return out, nil
}

func (c *mongoCollection) Count(ctx context.Context, filter Document) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, toFilter(filter))
	if err != nil {
		return 0, mapMongoError(err)
	}
	return n, nil
}

func (c *mongoCollection) EnsureIndexes(ctx context.Context, indexes []IndexSpec) error {
	if len(indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, len(indexes))
	for i, idx := range indexes {
		models[i] = mongo.IndexModel{
			Keys:    bson.D{{Key: idx.Field, Value: 1}},
			Options: options.Index().SetUnique(idx.Unique).SetSparse(idx.Sparse),
		}
	}
	if _, err := c.coll.Indexes().CreateMany(ctx, models); err != nil {
		return mapMongoError(err)
	}
	return nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]Document, error) {
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapMongoError(err)
	}
	out := make([]Document, len(rows))
	for i, row := range rows {
		out[i] = fromBSON(row).(Document)
	}
	return out, nil
}

func updateResult(res *mongo.UpdateResult) *UpdateResult {
	return &UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    fromBSON(res.UpsertedID),
	}
}

func sortDoc(fields []SortField) bson.D {
	d := make(bson.D, len(fields))
	for i, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		d[i] = bson.E{Key: f.Field, Value: dir}
	}
	return d
}

// toFilter готовит фильтр: nil становится пустым документом, строковые
// _id в формате ObjectID приводятся к ObjectID.
func toFilter(filter Document) bson.M {
	if filter == nil {
		return bson.M{}
	}
	out := bson.M{}
	for k, v := range filter {
		if k == IDField {
			out[k] = toObjectIDs(v)
			continue
		}
		out[k] = v
	}
	return out
}

func toObjectIDs(v any) any {
	switch t := v.(type) {
	case string:
		if oid, err := primitive.ObjectIDFromHex(t); err == nil {
			return oid
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toObjectIDs(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = toObjectIDs(item)
		}
		return out
	}
	return v
}

// fromBSON переводит значения драйвера в обычные Go типы.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(Document, len(t))
		for k, item := range t {
			out[k] = fromBSON(item)
		}
		return out
	case map[string]any:
		out := make(Document, len(t))
		for k, item := range t {
			out[k] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(Document, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	}
	return v
}

func mapMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}
