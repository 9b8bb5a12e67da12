package crm

import (
	"fmt"
	"sort"
	"time"

	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/soql"
)

// Children describes the dependent records fetched for each primary record.
type Children struct {
	Object      string
	Fields      []string
	ParentField string
	Where       []soql.Predicate
	OrderBy     []string
}

// Via describes the records the references point at when a pipeline
// indexes records related to them rather than the records themselves. Each
// linked record contributes KeyField to the membership query and gets one
// bucket in the Group report grouping.
type Via struct {
	Object    string
	Fields    []string
	OrderBy   []string
	KeyField  string
	// DocField holds the KeyField value in the documents.
	DocField  string
	Group     string
	NameField string
	Info      func(salesforce.Record) map[string]any
}

// Keys returns the distinct non-empty KeyField values of records, in order.
func (v *Via) Keys(records []salesforce.Record) []string {
	seen := make(map[string]struct{}, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		key, ok := r.OptionalString(v.KeyField)
		if !ok || key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Members builds one bucket per linked record holding the documents that
// share its key. Records sharing a key share their documents.
func (v *Via) Members(records []salesforce.Record, docs []index.Document) []aggregate.Members {
	byKey := make(map[string][]index.Document)
	for _, doc := range docs {
		if key, ok := doc.String(v.DocField); ok {
			byKey[key] = append(byKey[key], doc)
		}
	}

	members := make([]aggregate.Members, 0, len(records))
	for _, r := range records {
		m := aggregate.Members{Key: r.ID(), Name: r.ID()}
		if name, ok := r.OptionalString(v.NameField); ok && name != "" {
			m.Name = name
		}
		if v.Info != nil {
			m.Info = v.Info(r)
		}
		if key, ok := r.OptionalString(v.KeyField); ok && key != "" {
			m.Docs = byKey[key]
		}
		members = append(members, m)
	}
	return members
}

// TransformFunc projects a record and its children into a document body.
type TransformFunc func(r salesforce.Record, children []salesforce.Record, extractedAt time.Time) (map[string]any, error)

// Pipeline is one field-set variant of the extraction pipeline: which
// references it takes, what it queries, how records become documents, how
// they are indexed and how they are aggregated.
type Pipeline struct {
	Name        string
	Description string
	Kind        reference.Kind

	Object     string
	Fields     []string
	Membership string
	Static     []soql.Predicate
	OrderBy    []string

	StatusField   string
	PriorityField string
	TypeField     string
	DateField     string
	DateTime      bool
	ClosedField   string
	WonField      string

	Via         *Via
	Children    *Children
	AccountInfo bool

	Index     string
	Mapping   index.Mapping
	Profile   aggregate.Profile
	Transform TransformFunc
}

// Request builds the chunk query for filters. A filter the pipeline has no
// field for is an error rather than being ignored.
func (p Pipeline) Request(f Filters) (fetch.Request, error) {
	if err := f.Validate(); err != nil {
		return fetch.Request{}, err
	}

	dateFrom, dateTo := soql.DateFrom, soql.DateTo
	if p.DateTime {
		dateFrom, dateTo = soql.DateTimeFrom, soql.DateTimeTo
	}

	rules := []struct {
		name  string
		on    bool
		field string
		pred  func(field string) soql.Predicate
	}{
		{"open_only", f.OpenOnly, p.ClosedField, func(field string) soql.Predicate { return soql.Bool(field, false) }},
		{"closed_only", f.ClosedOnly, p.ClosedField, func(field string) soql.Predicate { return soql.Bool(field, true) }},
		{"won_only", f.WonOnly, p.WonField, func(field string) soql.Predicate { return soql.Bool(field, true) }},
		{"lost_only", f.LostOnly, p.WonField, func(field string) soql.Predicate { return soql.Bool(field, false) }},
		{"priority", f.Priority != "", p.PriorityField, func(field string) soql.Predicate { return soql.Eq(field, f.Priority) }},
		{"status", f.Status != "", p.StatusField, func(field string) soql.Predicate { return soql.Eq(field, f.Status) }},
		{"type", f.Type != "", p.TypeField, func(field string) soql.Predicate { return soql.Eq(field, f.Type) }},
		{"date_from", !f.DateFrom.IsZero(), p.DateField, func(field string) soql.Predicate { return dateFrom(field, f.DateFrom) }},
		{"date_to", !f.DateTo.IsZero(), p.DateField, func(field string) soql.Predicate { return dateTo(field, f.DateTo) }},
	}

	preds := append([]soql.Predicate(nil), p.Static...)
	for _, rule := range rules {
		if !rule.on {
			continue
		}
		if rule.field == "" {
			return fetch.Request{}, fmt.Errorf("filter %s is not supported by pipeline %s", rule.name, p.Name)
		}
		preds = append(preds, rule.pred(rule.field))
	}

	q := soql.Select(p.Object, p.Fields...).Where(preds...).OrderBy(p.OrderBy...).WithLimit(f.Limit)
	return fetch.Request{Query: q, Field: p.Membership}, nil
}

// ViaRequest builds the query for the referenced records, or false when
// the pipeline fetches them directly.
func (p Pipeline) ViaRequest() (fetch.Request, bool) {
	if p.Via == nil {
		return fetch.Request{}, false
	}
	q := soql.Select(p.Via.Object, p.Via.Fields...).OrderBy(p.Via.OrderBy...)
	return fetch.Request{Query: q, Field: "Id"}, true
}

// ChildRequest builds the dependent record query, or false when the
// pipeline has no children.
func (p Pipeline) ChildRequest() (fetch.Request, bool) {
	if p.Children == nil {
		return fetch.Request{}, false
	}
	c := p.Children
	q := soql.Select(c.Object, c.Fields...).Where(c.Where...).OrderBy(c.OrderBy...)
	return fetch.Request{Query: q, Field: c.ParentField}, true
}

// Document transforms r into an index document keyed by the record Id.
func (p Pipeline) Document(r salesforce.Record, children []salesforce.Record, extractedAt time.Time) (index.Document, error) {
	id, err := r.String("Id")
	if err != nil {
		return index.Document{}, err
	}
	body, err := p.Transform(r, children, extractedAt)
	if err != nil {
		return index.Document{}, fmt.Errorf("record %s: %w", id, err)
	}
	return index.Document{ID: id, Body: body}, nil
}

var registry = map[string]Pipeline{}

func register(p Pipeline) {
	registry[p.Name] = p
}

// Lookup returns the pipeline called name.
func Lookup(name string) (Pipeline, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names lists the registered pipelines.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
