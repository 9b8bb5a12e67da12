package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingProperties(t *testing.T) {
	props := caseMapping.Properties()

	assert.Equal(t, map[string]any{"type": "keyword"}, props["case_id"])
	assert.Equal(t, map[string]any{
		"type":   "text",
		"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
	}, props["subject"])
	assert.Equal(t, map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"id":   map[string]any{"type": "keyword"},
			"body": map[string]any{"type": "text"},
		},
	}, props["comments"])
}

func TestExactField(t *testing.T) {
	m := Mapping{
		"subject":     {Kind: Text, Keyword: true},
		"description": {Kind: Text},
		"status":      {Kind: Keyword},
	}

	tests := []struct {
		name  string
		field string
		known bool
	}{
		{"subject", "subject.keyword", true},
		{"description", "description", true},
		{"status", "status", true},
		{"owner", "owner", false},
	}
	for _, tt := range tests {
		field, known := m.ExactField(tt.name)
		assert.Equal(t, tt.field, field, tt.name)
		assert.Equal(t, tt.known, known, tt.name)
	}

	_, known := Mapping(nil).ExactField("subject")
	assert.False(t, known)
}

func TestMappingValidate(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"valid", map[string]any{"case_id": "500", "is_closed": true, "case_age_days": 3.0, "created_date": "2024-01-02"}, ""},
		{"nulls and extra fields", map[string]any{"case_id": nil, "unmapped": []int{1}}, ""},
		{"keyword not string", map[string]any{"case_id": 500}, "case_id"},
		{"boolean not bool", map[string]any{"is_closed": "yes"}, "is_closed"},
		{"fractional integer", map[string]any{"case_age_days": 1.5}, "case_age_days"},
		{"bad date", map[string]any{"created_date": "yesterday"}, "created_date"},
		{"nested item", map[string]any{"comments": []map[string]any{{"id": "c1"}, {"id": 2}}}, "id"},
		{"nested scalar", map[string]any{"comments": "none"}, "comments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := caseMapping.Validate(tt.body)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestDocumentAccessors(t *testing.T) {
	d := Document{ID: "1", Body: map[string]any{
		"name":    "Acme",
		"closed":  true,
		"amount":  12.5,
		"count":   3,
		"created": "2024-03-01T12:00:00Z",
		"empty":   nil,
	}}

	s, ok := d.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", s)

	_, ok = d.String("empty")
	assert.False(t, ok)

	b, ok := d.Bool("closed")
	assert.True(t, ok && b)

	f, ok := d.Float("count")
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	created, ok := d.Time("created")
	require.True(t, ok)
	assert.Equal(t, 2024, created.Year())

	_, ok = d.Time("name")
	assert.False(t, ok)
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{
		"2024-01-15T10:30:00.000+0000",
		"2024-01-15T12:30:00.000+0200",
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00+00:00",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), got, s)
	}

	day, err := ParseTime("2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
