package index

import (
	"fmt"
	"math"
	"time"
)

// Document is a flattened record ready to be written. ID is the destination
// document id, so writing the same ID twice overwrites.
type Document struct {
	ID   string         `json:"id"`
	Body map[string]any `json:"body"`
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.DateOnly,
}

// ParseTime parses the timestamp formats of documents and of the record
// store they are projected from. Times are returned in UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (d Document) value(field string) (any, bool) {
	v, ok := d.Body[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (d Document) String(field string) (string, bool) {
	v, ok := d.value(field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (d Document) Bool(field string) (bool, bool) {
	v, ok := d.value(field)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (d Document) Float(field string) (float64, bool) {
	v, ok := d.value(field)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func (d Document) Time(field string) (time.Time, bool) {
	s, ok := d.String(field)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTime(s)
	return t, err == nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	}
	return false
}
