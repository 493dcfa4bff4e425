package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Операции с файлами.
const (
	FileRead   = "read"
	FileWrite  = "write"
	FileDelete = "delete"
)

// ErrFileNotFound — файл отсутствует в хранилище.
var ErrFileNotFound = errors.New("file not found")

// FileStore — хранилище файлов шага fileOperation.
type FileStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// FileOperationStep — чтение, запись и удаление файла.
//
// Конфигурация:
//
//	{
//	    "operation": "write",
//	    "filePath": "reports/{{params.id}}.json",
//	    "data": "..."        // для write; не-строки сериализуются в JSON
//	}
//
// Output: содержимое файла для read, сообщение для write и delete.
type FileOperationStep struct {
	files FileStore
}

// NewFileOperationStep создаёт новый FileOperationStep.
func NewFileOperationStep(files FileStore) *FileOperationStep {
	return &FileOperationStep{files: files}
}

// Type возвращает тип шага.
func (s *FileOperationStep) Type() domain.StepType {
	return domain.StepTypeFileOperation
}

// Execute выполняет файловую операцию.
func (s *FileOperationStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	op := GetConfigString(req.Config, "operation")
	path := GetConfigString(req.Config, "filePath")
	if path == "" {
		return nil, fmt.Errorf("%w: %s: filePath is required", ErrInvalidConfig, domain.StepTypeFileOperation)
	}

	switch op {
	case FileRead:
		data, err := s.files.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrHandlerFailure, path, err)
		}
		return NewResponse(string(data)), nil

	case FileWrite:
		var data string
		if v, ok := req.Config["data"]; ok {
			data = toString(v)
		}
		if err := s.files.Write(ctx, path, []byte(data)); err != nil {
			return nil, fmt.Errorf("%w: write %s: %w", ErrHandlerFailure, path, err)
		}
		return NewResponse("File written successfully"), nil

	case FileDelete:
		if err := s.files.Delete(ctx, path); err != nil {
			return nil, fmt.Errorf("%w: delete %s: %w", ErrHandlerFailure, path, err)
		}
		return NewResponse("File deleted successfully"), nil

	default:
		return nil, fmt.Errorf("%w: %s: invalid file operation %q", ErrInvalidConfig, domain.StepTypeFileOperation, op)
	}
}
