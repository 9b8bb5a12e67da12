package crm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-15", "03/15/2024"} {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(d), s)
	}

	_, err := ParseDate("15.03.2024")
	assert.Error(t, err)
}

func TestFiltersValidate(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filters  Filters
		conflict bool
		ok       bool
	}{
		{"empty", Filters{}, false, true},
		{"open and won", Filters{OpenOnly: true, WonOnly: true}, false, true},
		{"open and closed", Filters{OpenOnly: true, ClosedOnly: true}, true, false},
		{"won and lost", Filters{WonOnly: true, LostOnly: true}, true, false},
		{"same day range", Filters{DateFrom: jan, DateTo: jan}, false, true},
		{"reversed range", Filters{DateFrom: feb, DateTo: jan}, true, false},
		{"negative limit", Filters{Limit: -1}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filters.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.conflict, errors.Is(err, ErrConflictingFilters))
		})
	}
}
