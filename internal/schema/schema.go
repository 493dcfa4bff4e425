package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Schema — скомпилированная схема динамической модели.
//
// Документы приводятся к типам полей, получают значения по умолчанию и
// проходят проверки required, min/max, match, enum. Поля, не описанные
// в схеме, отбрасываются.
type Schema struct {
	model  string
	fields []compiledField
	byName map[string]*compiledField
}

type compiledField struct {
	domain.Field
	match *regexp.Regexp
}

// Compile строит схему по метаданным.
func Compile(meta *domain.DatabaseMetadata) (*Schema, error) {
	s := &Schema{
		model:  meta.ModelName(),
		fields: make([]compiledField, 0, len(meta.Fields)),
		byName: make(map[string]*compiledField, len(meta.Fields)),
	}

	for _, f := range meta.Fields {
		if f.Name == "" || f.Name == docstore.IDField || strings.HasPrefix(f.Name, "$") {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidSchema, f.Name)
		}
		if !f.Type.IsValid() {
			return nil, fmt.Errorf("%w: field %q: unknown type %q", ErrInvalidSchema, f.Name, f.Type)
		}
		cf := compiledField{Field: f}
		if f.Match != "" {
			re, err := regexp.Compile(f.Match)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: match: %v", ErrInvalidSchema, f.Name, err)
			}
			cf.match = re
		}
		s.fields = append(s.fields, cf)
	}
	for i := range s.fields {
		s.byName[s.fields[i].Name] = &s.fields[i]
	}
	return s, nil
}

// Model возвращает имя модели.
func (s *Schema) Model() string { return s.model }

// Indexes возвращает индексы для полей unique и index.
func (s *Schema) Indexes() []docstore.IndexSpec {
	var out []docstore.IndexSpec
	for _, f := range s.fields {
		if f.Unique || f.Index {
			out = append(out, docstore.IndexSpec{Field: f.Name, Unique: f.Unique, Sparse: f.Sparse})
		}
	}
	return out
}

// PrepareInsert возвращает документ для вставки: значения по умолчанию,
// приведение типов, проверки.
func (s *Schema) PrepareInsert(doc docstore.Document) (docstore.Document, error) {
	out := make(docstore.Document, len(s.fields)+1)
	if id, ok := doc[docstore.IDField]; ok {
		out[docstore.IDField] = id
	}

	var errs []FieldError
	for i := range s.fields {
		f := &s.fields[i]
		raw, present := doc[f.Name]
		if (!present || raw == nil) && f.Default != nil {
			raw, present = copyValue(f.Default), true
		}

		if !present || raw == nil {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
			}
			continue
		}

		v, err := f.cast(raw)
		if err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		if msg := f.check(v); msg != "" {
			errs = append(errs, FieldError{Field: f.Name, Message: msg})
			continue
		}
		out[f.Name] = v
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Model: s.model, Errors: errs}
	}
	return out, nil
}

// PrepareUpdate проверяет документ обновления: неизвестные и immutable
// поля отбрасываются, значения $set приводятся и проверяются, required
// поля нельзя удалить через $unset.
func (s *Schema) PrepareUpdate(update docstore.Document) (docstore.Document, error) {
	update = docstore.NormalizeUpdate(update)
	out := make(docstore.Document, len(update))

	var errs []FieldError
	ops := make([]string, 0, len(update))
	for op := range update {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		fields, ok := update[op].(map[string]any)
		if !ok {
			out[op] = update[op]
			continue
		}
		kept := make(map[string]any, len(fields))
		for path, raw := range fields {
			f, known := s.field(path)
			if !known {
				continue
			}
			if f == nil {
				// вложенный путь внутри Object/Mixed/Array
				kept[path] = raw
				continue
			}
			if f.Immutable && op != "$setOnInsert" {
				continue
			}

			switch op {
			case "$set", "$setOnInsert":
				if raw == nil {
					if f.Required {
						errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
						continue
					}
					kept[path] = nil
					continue
				}
				v, err := f.cast(raw)
				if err != nil {
					errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
					continue
				}
				if msg := f.check(v); msg != "" {
					errs = append(errs, FieldError{Field: f.Name, Message: msg})
					continue
				}
				kept[path] = v
			case "$unset":
				if f.Required {
					errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
					continue
				}
				kept[path] = raw
			default:
				kept[path] = raw
			}
		}
		if len(kept) > 0 {
			out[op] = kept
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Model: s.model, Errors: errs}
	}
	return out, nil
}

// Projection дополняет проекцию исключением полей с select: false.
// Явно включающая проекция не меняется.
func (s *Schema) Projection(p docstore.Document) docstore.Document {
	for k, v := range p {
		if k != docstore.IDField && truthy(v) {
			return p
		}
	}

	var out docstore.Document
	for _, f := range s.fields {
		if f.IsSelected() {
			continue
		}
		if out == nil {
			out = make(docstore.Document, len(p)+1)
			for k, v := range p {
				out[k] = v
			}
		}
		out[f.Name] = 0
	}
	if out == nil {
		return p
	}
	return out
}

// field ищет поле по пути. known=false — путь вне схемы; f=nil при
// known=true — вложенный путь в поле Object, Mixed или Array.
func (s *Schema) field(path string) (f *compiledField, known bool) {
	if cf, ok := s.byName[path]; ok {
		return cf, true
	}
	root, _, nested := strings.Cut(path, ".")
	if !nested {
		return nil, false
	}
	cf, ok := s.byName[root]
	if !ok {
		return nil, false
	}
	switch cf.Type {
	case domain.FieldTypeObject, domain.FieldTypeMixed, domain.FieldTypeArray:
		return nil, true
	}
	return nil, false
}

// cast приводит значение к типу поля и применяет trim/lowercase/uppercase.
func (f *compiledField) cast(v any) (any, error) {
	switch f.Type {
	case domain.FieldTypeString:
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case bool:
			s = strconv.FormatBool(t)
		default:
			n, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("cannot cast %T to String", v)
			}
			s = strconv.FormatFloat(n, 'f', -1, 64)
		}
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if f.Lowercase {
			s = strings.ToLower(s)
		}
		if f.Uppercase {
			s = strings.ToUpper(s)
		}
		return s, nil

	case domain.FieldTypeNumber:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n, nil
			}
		}
		return nil, fmt.Errorf("cannot cast %v to Number", v)

	case domain.FieldTypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(t) {
			case "true", "yes", "1":
				return true, nil
			case "false", "no", "0":
				return false, nil
			}
		}
		if n, ok := toFloat(v); ok && (n == 0 || n == 1) {
			return n == 1, nil
		}
		return nil, fmt.Errorf("cannot cast %v to Boolean", v)

	case domain.FieldTypeDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts.UTC(), nil
				}
			}
		}
		if ms, ok := toFloat(v); ok {
			return time.UnixMilli(int64(ms)).UTC(), nil
		}
		return nil, fmt.Errorf("cannot cast %v to Date", v)

	case domain.FieldTypeArray:
		if _, ok := v.([]any); ok {
			return copyValue(v), nil
		}
		return nil, fmt.Errorf("cannot cast %T to Array", v)

	case domain.FieldTypeObject:
		if _, ok := v.(map[string]any); ok {
			return copyValue(v), nil
		}
		return nil, fmt.Errorf("cannot cast %T to Object", v)

	case domain.FieldTypeObjectID:
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
		return nil, fmt.Errorf("cannot cast %v to ObjectId", v)
	}

	return copyValue(v), nil
}

// check проверяет приведённое значение; пустая строка — без ошибок.
func (f *compiledField) check(v any) string {
	if f.Required {
		if s, ok := v.(string); ok && s == "" {
			return "is required"
		}
	}

	var size float64
	sized := true
	switch t := v.(type) {
	case float64:
		size = t
	case string:
		size = float64(len([]rune(t)))
	case []any:
		size = float64(len(t))
	case time.Time:
		size = float64(t.UnixMilli())
	default:
		sized = false
	}
	if sized {
		if f.Min != nil && size < *f.Min {
			return fmt.Sprintf("is less than minimum %v", *f.Min)
		}
		if f.Max != nil && size > *f.Max {
			return fmt.Sprintf("is greater than maximum %v", *f.Max)
		}
	}

	if f.match != nil {
		if s, ok := v.(string); ok && !f.match.MatchString(s) {
			return fmt.Sprintf("does not match %s", f.Match)
		}
	}

	if len(f.Enum) > 0 {
		for _, allowed := range f.Enum {
			if valuesEqual(allowed, v) {
				return ""
			}
		}
		return fmt.Sprintf("%v is not a valid enum value", v)
	}
	return ""
}
