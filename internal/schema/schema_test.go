package schema_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/schema"
)

func ptr[T any](v T) *T { return &v }

var (
	projectID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	orgID     = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func usersMeta() *domain.DatabaseMetadata {
	return &domain.DatabaseMetadata{
		ID:             uuid.New(),
		Name:           "users",
		Version:        1,
		ProjectID:      projectID,
		OrganisationID: orgID,
		Fields: []domain.Field{
			{Name: "email", Type: domain.FieldTypeString, Required: true, Unique: true, Trim: true, Lowercase: true, Match: `^[^@]+@[^@]+$`},
			{Name: "age", Type: domain.FieldTypeNumber, Min: ptr(0.0), Max: ptr(150.0)},
			{Name: "role", Type: domain.FieldTypeString, Enum: []any{"admin", "user"}, Default: "user"},
			{Name: "active", Type: domain.FieldTypeBoolean},
			{Name: "born", Type: domain.FieldTypeDate},
			{Name: "tags", Type: domain.FieldTypeArray, Max: ptr(2.0)},
			{Name: "profile", Type: domain.FieldTypeObject},
			{Name: "secret", Type: domain.FieldTypeString, Select: ptr(false)},
			{Name: "code", Type: domain.FieldTypeString, Immutable: true, Uppercase: true},
		},
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	meta  map[uuid.UUID]*domain.DatabaseMetadata
}

func (s *fakeSource) GetMetadata(_ context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	m, ok := s.meta[id]
	if !ok {
		return nil, schema.ErrMetadataNotFound
	}
	return m, nil
}

func TestModelName(t *testing.T) {
	meta := usersMeta()
	assert.Equal(t, "users_1_"+projectID.String()+"_"+orgID.String(), meta.ModelName())
}

func TestPrepareInsert(t *testing.T) {
	s, err := schema.Compile(usersMeta())
	require.NoError(t, err)

	doc, err := s.PrepareInsert(docstore.Document{
		"email":   "  Ann@Example.COM ",
		"age":     "31",
		"active":  "true",
		"born":    "1990-05-01",
		"code":    "ab",
		"unknown": "dropped",
	})
	require.NoError(t, err)

	assert.Equal(t, "ann@example.com", doc["email"])
	assert.Equal(t, 31.0, doc["age"])
	assert.Equal(t, true, doc["active"])
	assert.Equal(t, time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), doc["born"])
	assert.Equal(t, "user", doc["role"])
	assert.Equal(t, "AB", doc["code"])
	assert.NotContains(t, doc, "unknown")
}

func TestPrepareInsert_Validation(t *testing.T) {
	s, err := schema.Compile(usersMeta())
	require.NoError(t, err)

	_, err = s.PrepareInsert(docstore.Document{
		"age":  200,
		"role": "root",
		"tags": []any{1, 2, 3},
	})
	require.ErrorIs(t, err, schema.ErrValidation)

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make([]string, len(verr.Errors))
	for i, fe := range verr.Errors {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{"email", "age", "role", "tags"}, fields)

	_, err = s.PrepareInsert(docstore.Document{"email": "not-an-email"})
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = s.PrepareInsert(docstore.Document{"email": "a@b", "age": "old"})
	assert.ErrorIs(t, err, schema.ErrValidation)
}

func TestPrepareUpdate(t *testing.T) {
	s, err := schema.Compile(usersMeta())
	require.NoError(t, err)

	upd, err := s.PrepareUpdate(docstore.Document{
		"age":          "40",
		"code":         "zz",
		"unknown":      1,
		"profile.city": "Oslo",
	})
	require.NoError(t, err)
	assert.Equal(t, docstore.Document{"$set": map[string]any{"age": 40.0, "profile.city": "Oslo"}}, upd)

	_, err = s.PrepareUpdate(docstore.Document{"$unset": map[string]any{"email": ""}})
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = s.PrepareUpdate(docstore.Document{"$set": map[string]any{"role": "root"}})
	assert.ErrorIs(t, err, schema.ErrValidation)
}

func TestCompile_InvalidSchema(t *testing.T) {
	meta := usersMeta()
	meta.Fields = append(meta.Fields, domain.Field{Name: "x", Type: "Decimal"})
	_, err := schema.Compile(meta)
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)

	meta = usersMeta()
	meta.Fields = []domain.Field{{Name: "x", Type: domain.FieldTypeString, Match: "("}}
	_, err = schema.Compile(meta)
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}

func TestBuilder_SameHandle(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	b := schema.NewBuilder(schema.Config{Store: store})

	meta := usersMeta()
	h1, err := b.Build(ctx, meta)
	require.NoError(t, err)

	again := usersMeta()
	h2, err := b.Build(ctx, again)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Same(t, h1.Unwrap(), h2.Unwrap())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []string{meta.ModelName()}, store.Names())

	other := usersMeta()
	other.Version = 2
	h3, err := b.Build(ctx, other)
	require.NoError(t, err)
	assert.NotSame(t, h1, h3)
}

func TestBuilder_ConcurrentBuild(t *testing.T) {
	ctx := context.Background()
	b := schema.NewBuilder(schema.Config{Store: docstore.NewMemoryStore()})

	const n = 32
	handles := make([]*schema.Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := b.Build(ctx, usersMeta())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, b.Len())
}

func TestBuilder_Collection(t *testing.T) {
	ctx := context.Background()
	meta := usersMeta()
	source := &fakeSource{meta: map[uuid.UUID]*domain.DatabaseMetadata{meta.ID: meta}}
	b := schema.NewBuilder(schema.Config{Store: docstore.NewMemoryStore(), Source: source})

	coll, err := b.Collection(ctx, meta.ID.String())
	require.NoError(t, err)

	inserted, err := coll.InsertOne(ctx, docstore.Document{"email": "a@b.c", "secret": "s3cr3t"})
	require.NoError(t, err)
	assert.Equal(t, "user", inserted["role"])

	_, err = coll.InsertOne(ctx, docstore.Document{"email": "A@B.C"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

	found, err := coll.FindOne(ctx, docstore.Document{"email": "a@b.c"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, found, "secret")
	assert.Equal(t, "a@b.c", found["email"])

	res, err := coll.UpdateOne(ctx, docstore.Document{"email": "a@b.c"}, docstore.Document{"unknown": 1}, docstore.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Zero(t, res.ModifiedCount)

	_, err = b.Collection(ctx, uuid.NewString())
	assert.True(t, schema.IsNotFound(err))

	_, err = b.Collection(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, schema.ErrMetadataNotFound)
}

func TestBuilder_Invalidate(t *testing.T) {
	ctx := context.Background()
	b := schema.NewBuilder(schema.Config{Store: docstore.NewMemoryStore()})

	meta := usersMeta()
	h1, err := b.Build(ctx, meta)
	require.NoError(t, err)

	b.Invalidate(meta.ModelName())
	h2, err := b.Build(ctx, meta)
	require.NoError(t, err)

	assert.NotSame(t, h1, h2)
	assert.Same(t, h1.Unwrap(), h2.Unwrap())
}
