package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore — хранилище в памяти процесса. Используется CLI и тестами.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*MemoryCollection
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*MemoryCollection)}
}

// Collection возвращает коллекцию, создавая её при первом обращении.
func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &MemoryCollection{name: name}
		s.collections[name] = c
	}
	return c
}

// Names возвращает имена созданных коллекций.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

// MemoryCollection — коллекция в памяти. Документы хранятся в порядке вставки.
type MemoryCollection struct {
	name    string
	mu      sync.RWMutex
	docs    []Document
	indexes []IndexSpec
}

var _ Collection = (*MemoryCollection)(nil)

func (c *MemoryCollection) Name() string { return c.name }

// Find возвращает документы по фильтру с сортировкой, skip, limit и проекцией.
func (c *MemoryCollection) Find(_ context.Context, filter Document, opts FindOptions) ([]Document, error) {
	c.mu.RLock()
	matched, err := c.matchLocked(filter)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sortDocs(matched, opts.Sort)
	matched = window(matched, opts.Skip, opts.Limit)

	out := make([]Document, len(matched))
	for i, d := range matched {
		out[i] = project(copyDoc(d), opts.Projection)
	}
	return out, nil
}

func (c *MemoryCollection) FindOne(_ context.Context, filter, projection Document) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			return project(copyDoc(d), projection), nil
		}
	}
	return nil, nil
}

func (c *MemoryCollection) InsertOne(_ context.Context, doc Document) (Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := prepareInsert(doc)
	if err := c.checkUniqueLocked(stored, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, stored)
	return copyDoc(stored), nil
}

// InsertMany вставляет документы по порядку и останавливается на первой ошибке.
func (c *MemoryCollection) InsertMany(ctx context.Context, docs []Document) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		stored, err := c.InsertOne(ctx, d)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (c *MemoryCollection) UpdateOne(_ context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return c.update(filter, update, opts, false)
}

func (c *MemoryCollection) UpdateMany(_ context.Context, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return c.update(filter, update, opts, true)
}

func (c *MemoryCollection) update(filter, update Document, opts UpdateOptions, many bool) (*UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &UpdateResult{}
	for i, d := range c.docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		res.MatchedCount++

		next := copyDoc(d)
		changed, err := applyUpdate(next, update)
		if err != nil {
			return nil, err
		}
		if changed {
			if err := c.checkUniqueLocked(next, i); err != nil {
				return nil, err
			}
			c.docs[i] = next
			res.ModifiedCount++
		}
		if !many {
			break
		}
	}

	if res.MatchedCount == 0 && opts.Upsert {
		doc := upsertBase(filter, update)
		if _, err := applyUpdate(doc, update); err != nil {
			return nil, err
		}
		stored := prepareInsert(doc)
		if err := c.checkUniqueLocked(stored, -1); err != nil {
			return nil, err
		}
		c.docs = append(c.docs, stored)
		res.UpsertedCount = 1
		res.UpsertedID = stored[IDField]
	}
	return res, nil
}

func (c *MemoryCollection) DeleteOne(_ context.Context, filter Document) (*DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, d := range c.docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{}, nil
}

func (c *MemoryCollection) Aggregate(_ context.Context, pipeline []Document) ([]Document, error) {
	c.mu.RLock()
	docs := make([]Document, len(c.docs))
	for i, d := range c.docs {
		docs[i] = copyDoc(d)
	}
	c.mu.RUnlock()

	return aggregate(docs, pipeline)
}

// Distinct возвращает уникальные значения поля; элементы массивов
// учитываются по отдельности.
func (c *MemoryCollection) Distinct(_ context.Context, field string, filter Document) ([]any, error) {
	c.mu.RLock()
	matched, err := c.matchLocked(filter)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := []any{}
	add := func(v any) {
		for _, existing := range out {
			if equal(existing, v) {
				return
			}
		}
		out = append(out, deepCopy(v))
	}
	for _, d := range matched {
		v, ok := getPath(d, field)
		if !ok {
			continue
		}
		if items, isArr := toSlice(v); isArr {
			for _, item := range items {
				add(item)
			}
			continue
		}
		add(v)
	}
	return out, nil
}

func (c *MemoryCollection) Count(_ context.Context, filter Document) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched, err := c.matchLocked(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// EnsureIndexes запоминает индексы; уникальные проверяются при записи.
func (c *MemoryCollection) EnsureIndexes(_ context.Context, indexes []IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, idx := range indexes {
		if idx.Unique {
			if err := c.checkExistingUniqueLocked(idx); err != nil {
				return err
			}
		}
		replaced := false
		for i, existing := range c.indexes {
			if existing.Field == idx.Field {
				c.indexes[i] = idx
				replaced = true
			}
		}
		if !replaced {
			c.indexes = append(c.indexes, idx)
		}
	}
	return nil
}

func (c *MemoryCollection) matchLocked(filter Document) ([]Document, error) {
	var out []Document
	for _, d := range c.docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// checkUniqueLocked проверяет уникальные индексы; skip — позиция
// обновляемого документа.
func (c *MemoryCollection) checkUniqueLocked(doc Document, skip int) error {
	if id, ok := doc[IDField]; ok {
		for i, d := range c.docs {
			if i != skip && equal(d[IDField], id) {
				return fmt.Errorf("%w: %s: %s=%v", ErrDuplicateKey, c.name, IDField, id)
			}
		}
	}

	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		v, exists := getPath(doc, idx.Field)
		if !exists && idx.Sparse {
			continue
		}
		for i, d := range c.docs {
			if i == skip {
				continue
			}
			other, otherExists := getPath(d, idx.Field)
			if !otherExists && idx.Sparse {
				continue
			}
			if exists == otherExists && equal(v, other) {
				return fmt.Errorf("%w: %s: %s=%v", ErrDuplicateKey, c.name, idx.Field, v)
			}
		}
	}
	return nil
}

func (c *MemoryCollection) checkExistingUniqueLocked(idx IndexSpec) error {
	for i, d := range c.docs {
		v, exists := getPath(d, idx.Field)
		if !exists && idx.Sparse {
			continue
		}
		for _, other := range c.docs[i+1:] {
			ov, oexists := getPath(other, idx.Field)
			if !oexists && idx.Sparse {
				continue
			}
			if exists == oexists && equal(v, ov) {
				return fmt.Errorf("%w: %s: %s=%v", ErrDuplicateKey, c.name, idx.Field, v)
			}
		}
	}
	return nil
}

// prepareInsert копирует документ и назначает _id, если его нет.
func prepareInsert(doc Document) Document {
	stored := copyDoc(doc)
	if stored == nil {
		stored = make(Document)
	}
	if _, ok := stored[IDField]; !ok {
		stored[IDField] = uuid.NewString()
	}
	return stored
}
