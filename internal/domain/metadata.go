package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldType — примитивный тип поля динамической схемы.
type FieldType string

const (
	FieldTypeString   FieldType = "String"
	FieldTypeNumber   FieldType = "Number"
	FieldTypeBoolean  FieldType = "Boolean"
	FieldTypeDate     FieldType = "Date"
	FieldTypeArray    FieldType = "Array"
	FieldTypeObject   FieldType = "Object"
	FieldTypeObjectID FieldType = "ObjectId"
	FieldTypeMixed    FieldType = "Mixed"
)

// IsValid проверяет тип поля.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate,
		FieldTypeArray, FieldTypeObject, FieldTypeObjectID, FieldTypeMixed:
		return true
	default:
		return false
	}
}

// DatabaseMetadata — описание логической коллекции документов,
// заданное пользователем во время работы.
type DatabaseMetadata struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Version        int       `json:"version"`
	ProjectID      uuid.UUID `json:"project_id"`
	OrganisationID uuid.UUID `json:"organisation_id"`
	Fields         []Field   `json:"attributes"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModelName — детерминированное имя коллекции:
// name_version_projectId_organisationId.
func (m *DatabaseMetadata) ModelName() string {
	version := m.Version
	if version <= 0 {
		version = 1
	}
	return fmt.Sprintf("%s_%d_%s_%s", m.Name, version, m.ProjectID, m.OrganisationID)
}

// Field — поле динамической схемы с ограничениями.
type Field struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	Required  bool `json:"required,omitempty"`
	Unique    bool `json:"unique,omitempty"`
	Index     bool `json:"index,omitempty"`
	Sparse    bool `json:"sparse,omitempty"`
	Immutable bool `json:"immutable,omitempty"`
	Trim      bool `json:"trim,omitempty"`
	Lowercase bool `json:"lowercase,omitempty"`
	Uppercase bool `json:"uppercase,omitempty"`

	// Select — включать ли поле в результаты запросов (по умолчанию true).
	Select *bool `json:"select,omitempty"`

	// Min/Max — границы значения для чисел и длины для строк и массивов.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Match — регулярное выражение для строк.
	Match string `json:"match,omitempty"`

	Enum    []any `json:"enum,omitempty"`
	Default any   `json:"default,omitempty"`

	// Ref — ссылка на другую DatabaseMetadata.
	Ref *uuid.UUID `json:"ref,omitempty"`
}

// IsSelected возвращает значение опции select.
func (f *Field) IsSelected() bool {
	return f.Select == nil || *f.Select
}
