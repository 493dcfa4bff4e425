// Package files — файловое хранилище шага fileOperation поверх gocloud.dev/blob.
package files

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/shaiso/Conveyor/internal/steps"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// BlobStore реализует steps.FileStore на bucket (file://, mem://).
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

var _ steps.FileStore = (*BlobStore)(nil)

// Open открывает bucket по URL.
func Open(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStore(bucket, prefix), nil
}

// NewBlobStore создаёт хранилище на открытом bucket.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

// Read читает файл целиком.
func (s *BlobStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(path))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", steps.ErrFileNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

// Write записывает файл, перезаписывая существующий.
func (s *BlobStore) Write(ctx context.Context, path string, data []byte) error {
	return s.bucket.WriteAll(ctx, s.key(path), data, nil)
}

// Delete удаляет файл. Отсутствующий файл — ошибка.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Delete(ctx, s.key(path))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", steps.ErrFileNotFound, path)
	}
	return err
}

// Close закрывает bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) key(path string) string {
	return s.prefix + strings.TrimPrefix(path, "/")
}
