package crm

import (
	"errors"
	"fmt"
	"time"
)

var ErrConflictingFilters = errors.New("conflicting filters")

var dateLayouts = []string{time.DateOnly, "01/02/2006"}

// ParseDate accepts YYYY-MM-DD or MM/DD/YYYY.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or MM/DD/YYYY", s)
}

// Filters narrows a pipeline query. Every zero-valued filter is omitted; the
// others are combined with AND.
type Filters struct {
	Status     string    `json:"status,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Type       string    `json:"type,omitempty"`
	DateFrom   time.Time `json:"date_from,omitzero" required:"false"`
	DateTo     time.Time `json:"date_to,omitzero" required:"false"`
	Limit      int       `json:"limit,omitempty"`
	OpenOnly   bool      `json:"open_only,omitempty"`
	ClosedOnly bool      `json:"closed_only,omitempty"`
	WonOnly    bool      `json:"won_only,omitempty"`
	LostOnly   bool      `json:"lost_only,omitempty"`
}

// Validate rejects contradictory combinations.
func (f Filters) Validate() error {
	switch {
	case f.OpenOnly && f.ClosedOnly:
		return fmt.Errorf("%w: open_only and closed_only", ErrConflictingFilters)
	case f.WonOnly && f.LostOnly:
		return fmt.Errorf("%w: won_only and lost_only", ErrConflictingFilters)
	case !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom):
		return fmt.Errorf("%w: date_to is before date_from", ErrConflictingFilters)
	case f.Limit < 0:
		return fmt.Errorf("limit must not be negative, got %d", f.Limit)
	}
	return nil
}
