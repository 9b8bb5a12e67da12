package index

import (
	"fmt"
	"sort"
)

type FieldKind string

const (
	Keyword FieldKind = "keyword"
	Text    FieldKind = "text"
	Date    FieldKind = "date"
	Double  FieldKind = "double"
	Integer FieldKind = "integer"
	Boolean FieldKind = "boolean"
	Nested  FieldKind = "nested"
)

// Field declares the shape of one document field. Text fields may carry a
// keyword subfield for exact matching and sorting.
type Field struct {
	Kind       FieldKind
	Keyword    bool
	Properties Mapping
}

// Mapping declares the fields of an index.
type Mapping map[string]Field

// Properties renders the mapping in the search engine's properties format.
func (m Mapping) Properties() map[string]any {
	props := make(map[string]any, len(m))
	for name, f := range m {
		p := map[string]any{"type": string(f.Kind)}
		if f.Kind == Text && f.Keyword {
			p["fields"] = map[string]any{"keyword": map[string]any{"type": "keyword"}}
		}
		if f.Kind == Nested && len(f.Properties) > 0 {
			p["properties"] = f.Properties.Properties()
		}
		props[name] = p
	}
	return props
}

// ExactField returns the field to match exact values of name against: the
// keyword subfield of text fields that have one, name otherwise. The second
// result is false when name is not declared.
func (m Mapping) ExactField(name string) (string, bool) {
	f, ok := m[name]
	if !ok {
		return name, false
	}
	if f.Kind == Text && f.Keyword {
		return name + ".keyword", true
	}
	return name, true
}

// FieldError reports a value that does not fit its declared kind.
type FieldError struct {
	Field string
	Kind  FieldKind
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: value %v (%T) is not a valid %s", e.Field, e.Value, e.Value, e.Kind)
}

// Validate checks the declared fields of body. Undeclared fields and null
// values are accepted.
func (m Mapping) Validate(body map[string]any) error {
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := m[name]
		v := body[name]
		if !ok || v == nil {
			continue
		}
		if err := f.check(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) check(name string, v any) error {
	bad := &FieldError{Field: name, Kind: f.Kind, Value: v}
	switch f.Kind {
	case Keyword, Text:
		if _, ok := v.(string); !ok {
			return bad
		}
	case Boolean:
		if _, ok := v.(bool); !ok {
			return bad
		}
	case Double:
		if _, ok := toFloat(v); !ok {
			return bad
		}
	case Integer:
		if !isIntegral(v) {
			return bad
		}
	case Date:
		s, ok := v.(string)
		if !ok {
			return bad
		}
		if _, err := ParseTime(s); err != nil {
			return bad
		}
	case Nested:
		return f.checkNested(name, v)
	}
	return nil
}

func (f Field) checkNested(name string, v any) error {
	var items []map[string]any
	switch n := v.(type) {
	case []map[string]any:
		items = n
	case []any:
		for _, item := range n {
			obj, ok := item.(map[string]any)
			if !ok {
				return &FieldError{Field: name, Kind: Nested, Value: item}
			}
			items = append(items, obj)
		}
	case map[string]any:
		items = []map[string]any{n}
	default:
		return &FieldError{Field: name, Kind: Nested, Value: v}
	}

	for i, item := range items {
		if err := f.Properties.Validate(item); err != nil {
			return fmt.Errorf("%s[%d]: %w", name, i, err)
		}
	}
	return nil
}
