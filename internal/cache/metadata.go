package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/schema"
)

// MetadataLoader загружает метаданные с полями (repo.MetadataRepo).
type MetadataLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error)
}

// Metadata — кэш DatabaseMetadata. Реализует schema.MetadataSource.
type Metadata struct {
	cache  *Cache
	loader MetadataLoader
}

// NewMetadata создаёт кэш метаданных поверх loader.
func NewMetadata(c *Cache, loader MetadataLoader) *Metadata {
	return &Metadata{cache: c, loader: loader}
}

// GetMetadata возвращает метаданные по ID.
// repo.ErrNotFound превращается в schema.ErrMetadataNotFound.
func (m *Metadata) GetMetadata(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error) {
	if m.loader == nil {
		return nil, errNoSource
	}
	return readThrough(ctx, m.cache, m.key(id), func() (*domain.DatabaseMetadata, error) {
		meta, err := m.loader.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", schema.ErrMetadataNotFound, id)
		}
		return meta, err
	})
}

// Invalidate удаляет метаданные из кэша.
func (m *Metadata) Invalidate(ctx context.Context, id uuid.UUID) error {
	return m.cache.del(ctx, m.key(id))
}

func (m *Metadata) key(id uuid.UUID) string {
	return m.cache.key("metadata", id.String())
}

// SourceFunc адаптирует функцию к schema.MetadataSource
// (используется без Redis, напрямую поверх repo).
type SourceFunc func(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error)

// GetMetadata вызывает f, отображая repo.ErrNotFound в schema.ErrMetadataNotFound.
func (f SourceFunc) GetMetadata(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error) {
	meta, err := f(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", schema.ErrMetadataNotFound, id)
	}
	return meta, err
}
