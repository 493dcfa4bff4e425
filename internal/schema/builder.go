// Package schema превращает метаданные модели (DatabaseMetadata) в
// коллекцию документов со схемой во время выполнения.
//
// Builder кэширует handle по имени модели
// name_version_projectId_organisationId: повторные вызовы с теми же
// параметрами возвращают тот же handle и ту же коллекцию.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// MetadataSource загружает метаданные модели вместе с полями.
// Отсутствующая модель — ошибка, оборачивающая ErrMetadataNotFound.
type MetadataSource interface {
	GetMetadata(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error)
}

// Builder — кэш handle'ов динамических моделей.
type Builder struct {
	store   docstore.Store
	source  MetadataSource
	metrics *telemetry.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

// Config — конфигурация Builder.
type Config struct {
	Store   docstore.Store
	Source  MetadataSource
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewBuilder создаёт новый Builder.
func NewBuilder(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:   cfg.Store,
		source:  cfg.Source,
		metrics: cfg.Metrics,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Collection загружает метаданные по ID и возвращает handle модели.
// Реализует steps.ModelResolver.
func (b *Builder) Collection(ctx context.Context, modelID string) (docstore.Collection, error) {
	id, err := uuid.Parse(modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid model id %q", ErrMetadataNotFound, modelID)
	}
	if b.source == nil {
		return nil, fmt.Errorf("%w: no metadata source", ErrMetadataNotFound)
	}

	meta, err := b.source.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", id, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, id)
	}
	return b.Build(ctx, meta)
}

// Build возвращает handle модели, создавая его при первом обращении.
// Конкурентные вызовы с одним именем модели создают handle один раз.
func (b *Builder) Build(ctx context.Context, meta *domain.DatabaseMetadata) (*Handle, error) {
	name := meta.ModelName()

	if h, ok := b.cached(name); ok {
		b.metrics.SchemaCacheHit()
		return h, nil
	}

	v, err, _ := b.group.Do(name, func() (any, error) {
		if h, ok := b.cached(name); ok {
			return h, nil
		}

		s, err := Compile(meta)
		if err != nil {
			return nil, err
		}

		coll := b.store.Collection(name)
		if err := coll.EnsureIndexes(ctx, s.Indexes()); err != nil {
			return nil, fmt.Errorf("ensure indexes for %s: %w", name, err)
		}

		b.metrics.SchemaCacheMiss()
		h := NewHandle(s, coll)
		b.mu.Lock()
		b.handles[name] = h
		b.mu.Unlock()

		b.logger.Debug("model collection created",
			"model", name,
			"fields", len(meta.Fields),
		)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Invalidate удаляет handle из кэша (после изменения полей модели).
func (b *Builder) Invalidate(modelName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, modelName)
}

// Len возвращает количество закэшированных handle'ов.
func (b *Builder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

func (b *Builder) cached(name string) (*Handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handles[name]
	return h, ok
}

// IsNotFound проверяет, что ошибка означает отсутствие метаданных.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMetadataNotFound)
}
