// Package soql builds record store queries from typed predicates. Values are
// always escaped and predicates are only ever joined with AND.
package soql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Predicate renders a single WHERE condition.
type Predicate interface {
	Render() string
}

type eq struct {
	field string
	value string
}

func (p eq) Render() string { return p.field + " = " + Quote(p.value) }

// Eq matches field against a string literal.
func Eq(field, value string) Predicate { return eq{field, value} }

type boolean struct {
	field string
	value bool
}

func (p boolean) Render() string { return p.field + " = " + strconv.FormatBool(p.value) }

// Bool matches a checkbox field.
func Bool(field string, value bool) Predicate { return boolean{field, value} }

type in struct {
	field  string
	values []string
}

func (p in) Render() string {
	quoted := make([]string, len(p.values))
	for i, v := range p.values {
		quoted[i] = Quote(v)
	}
	return p.field + " IN (" + strings.Join(quoted, ", ") + ")"
}

// In matches field against a set of string literals.
func In(field string, values []string) Predicate { return in{field, values} }

type compare struct {
	field string
	op    string
	value string
}

func (p compare) Render() string { return p.field + " " + p.op + " " + p.value }

// DateFrom and DateTo compare a date field against a calendar day.
func DateFrom(field string, day time.Time) Predicate {
	return compare{field, ">=", day.Format(time.DateOnly)}
}

func DateTo(field string, day time.Time) Predicate {
	return compare{field, "<=", day.Format(time.DateOnly)}
}

// DateTimeFrom and DateTimeTo compare a datetime field. The upper bound is
// inclusive of the whole day.
func DateTimeFrom(field string, day time.Time) Predicate {
	return compare{field, ">=", startOfDay(day).Format(time.RFC3339)}
}

func DateTimeTo(field string, day time.Time) Predicate {
	return compare{field, "<=", startOfDay(day).Add(24*time.Hour - time.Second).Format(time.RFC3339)}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// Quote renders s as a single-quoted literal.
func Quote(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

// Query is an immutable query description. Methods return modified copies so
// a base query can be shared across chunks.
type Query struct {
	fields  []string
	object  string
	where   []Predicate
	orderBy []string
	limit   int
}

// Select starts a query on object.
func Select(object string, fields ...string) Query {
	return Query{object: object, fields: append([]string(nil), fields...)}
}

func (q Query) Object() string { return q.object }

func (q Query) Limit() int { return q.limit }

// Where appends predicates. Nil predicates are skipped.
func (q Query) Where(preds ...Predicate) Query {
	where := append([]Predicate(nil), q.where...)
	for _, p := range preds {
		if p != nil {
			where = append(where, p)
		}
	}
	q.where = where
	return q
}

func (q Query) OrderBy(terms ...string) Query {
	q.orderBy = append(append([]string(nil), q.orderBy...), terms...)
	return q
}

// WithLimit caps the number of returned records. Zero means no cap.
func (q Query) WithLimit(n int) Query {
	q.limit = n
	return q
}

// String renders the query text.
func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.fields, ", "), q.object)
	if len(q.where) > 0 {
		conds := make([]string, len(q.where))
		for i, p := range q.where {
			conds[i] = p.Render()
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String()
}
