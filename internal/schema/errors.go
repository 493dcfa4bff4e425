package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMetadataNotFound — метаданные модели не найдены.
	ErrMetadataNotFound = errors.New("database metadata not found")

	// ErrInvalidSchema — метаданные не превращаются в схему
	// (неизвестный тип поля, некорректный match).
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrValidation — документ не прошёл валидацию схемы.
	ErrValidation = errors.New("document validation failed")
)

// FieldError — ошибка одного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError — все ошибки валидации документа.
type ValidationError struct {
	Model  string       `json:"model"`
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Model, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
