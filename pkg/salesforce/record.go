package salesforce

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iziplay/crm-indexer/pkg/index"
)

// ErrMissingField is matched by every MissingFieldError.
var ErrMissingField = errors.New("missing field")

// MissingFieldError names a required field that was absent or null.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Record is a record as returned by the query API. Related objects are
// nested maps, addressed with dotted paths such as "Account.Name".
type Record map[string]any

// Lookup returns the raw value at path. Null values are reported as absent.
func (r Record) Lookup(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// ID returns the record Id, or an empty string.
func (r Record) ID() string {
	id, _ := r.OptionalString("Id")
	return id
}

func (r Record) String(path string) (string, error) {
	v, ok := r.Lookup(path)
	if !ok {
		return "", &MissingFieldError{Field: path}
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", path, v)
	}
	return s, nil
}

func (r Record) OptionalString(path string) (string, bool) {
	s, err := r.String(path)
	return s, err == nil
}

func (r Record) Bool(path string) (bool, error) {
	v, ok := r.Lookup(path)
	if !ok {
		return false, &MissingFieldError{Field: path}
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected boolean, got %T", path, v)
	}
	return b, nil
}

func (r Record) OptionalBool(path string) (bool, bool) {
	b, err := r.Bool(path)
	return b, err == nil
}

func (r Record) Float(path string) (float64, error) {
	v, ok := r.Lookup(path)
	if !ok {
		return 0, &MissingFieldError{Field: path}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("field %q: expected number, got %T", path, v)
}

func (r Record) OptionalFloat(path string) (float64, bool) {
	f, err := r.Float(path)
	return f, err == nil
}

// Time parses a date or datetime field.
func (r Record) Time(path string) (time.Time, error) {
	s, err := r.String(path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := index.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q: %w", path, err)
	}
	return t, nil
}

func (r Record) OptionalTime(path string) (time.Time, bool) {
	t, err := r.Time(path)
	return t, err == nil
}
