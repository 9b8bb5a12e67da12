// Package aggregate folds documents into overall and per-group statistics.
package aggregate

import (
	"sort"
	"time"

	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/shopspring/decimal"
)

// Missing is the breakdown value used when a categorical field is absent.
const Missing = "None"

const day = 24 * time.Hour

// FieldRef names a grouping field and, optionally, the field holding the
// display name of a group.
type FieldRef struct {
	Field     string `json:"field"`
	NameField string `json:"nameField,omitempty"`
}

// Profile maps document fields to the statistics computed over them. Empty
// field names disable the matching statistic.
type Profile struct {
	ClosedField       string
	WonField          string
	AmountField       string
	CreatedField      string
	ClosedAtField     string
	EscalatedField    string
	CommentCountField string
	Categories        []string
	GroupKeys         []FieldRef
}

// Count is one row of a frequency table.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Breakdown is the frequency table of one categorical field, sorted by count
// descending with ties in first-seen order.
type Breakdown struct {
	Field  string  `json:"field"`
	Counts []Count `json:"counts"`
}

type Stats struct {
	Total  int `json:"total"`
	Open   int `json:"open"`
	Closed int `json:"closed"`
	Won    int `json:"won"`
	Lost   int `json:"lost"`

	TotalAmount   float64 `json:"totalAmount"`
	WonAmount     float64 `json:"wonAmount"`
	LostAmount    float64 `json:"lostAmount"`
	AverageAmount float64 `json:"averageAmount"`

	CloseRate float64 `json:"closeRate"`
	WinRate   float64 `json:"winRate"`

	AverageAgeDays        float64 `json:"averageAgeDays"`
	AverageResolutionDays float64 `json:"averageResolutionDays"`

	Escalated       int     `json:"escalated"`
	Comments        int     `json:"comments"`
	WithComments    int     `json:"withComments"`
	AverageComments float64 `json:"averageComments"`

	CreatedLastWeek  int `json:"createdLastWeek"`
	CreatedLastMonth int `json:"createdLastMonth"`

	Breakdowns []Breakdown `json:"breakdowns"`
}

// Bucket holds the statistics of the documents sharing one group key value.
type Bucket struct {
	Key   string         `json:"key"`
	Name  string         `json:"name"`
	IDs   []string       `json:"ids"`
	Stats Stats          `json:"stats"`
	Info  map[string]any `json:"info,omitempty"`
}

// Grouping lists the buckets of one group key, sorted by total descending
// with ties in first-seen order.
type Grouping struct {
	Field   string   `json:"field"`
	Buckets []Bucket `json:"buckets"`
}

type Report struct {
	Overall Stats      `json:"overall"`
	Groups  []Grouping `json:"groups"`
}

// Group returns the grouping for field.
func (r *Report) Group(field string) *Grouping {
	for i := range r.Groups {
		if r.Groups[i].Field == field {
			return &r.Groups[i]
		}
	}
	return nil
}

// Bucket returns the bucket for key.
func (g *Grouping) Bucket(key string) *Bucket {
	for i := range g.Buckets {
		if g.Buckets[i].Key == key {
			return &g.Buckets[i]
		}
	}
	return nil
}

// Aggregator computes reports relative to a fixed reference time.
type Aggregator struct {
	Profile Profile
	Now     time.Time
}

func New(p Profile, now time.Time) *Aggregator {
	return &Aggregator{Profile: p, Now: now}
}

// Aggregate runs the overall pass, then the group pass for every group key.
func (a *Aggregator) Aggregate(docs []index.Document) Report {
	report := Report{
		Overall: a.stats(docs),
		Groups:  make([]Grouping, 0, len(a.Profile.GroupKeys)),
	}

	for _, ref := range a.Profile.GroupKeys {
		report.Groups = append(report.Groups, a.group(docs, ref))
	}
	return report
}

// Members is an explicit bucket. Unlike key grouping, a document may belong
// to several buckets.
type Members struct {
	Key  string
	Name string
	Info map[string]any
	Docs []index.Document
}

// Group computes the statistics of explicit buckets, sorted by total
// descending with ties in the given order.
func (a *Aggregator) Group(field string, members []Members) Grouping {
	g := Grouping{Field: field, Buckets: make([]Bucket, 0, len(members))}
	for _, m := range members {
		ids := make([]string, 0, len(m.Docs))
		for _, doc := range m.Docs {
			ids = append(ids, doc.ID)
		}
		g.Buckets = append(g.Buckets, Bucket{Key: m.Key, Name: m.Name, IDs: ids, Info: m.Info, Stats: a.stats(m.Docs)})
	}
	sort.SliceStable(g.Buckets, func(i, j int) bool {
		return g.Buckets[i].Stats.Total > g.Buckets[j].Stats.Total
	})
	return g
}

func (a *Aggregator) group(docs []index.Document, ref FieldRef) Grouping {
	var members []Members
	byKey := make(map[string]int)
	for _, doc := range docs {
		key, ok := doc.String(ref.Field)
		if !ok || key == "" {
			key = Missing
		}
		i, ok := byKey[key]
		if !ok {
			name := key
			if ref.NameField != "" {
				if n, ok := doc.String(ref.NameField); ok && n != "" {
					name = n
				}
			}
			i = len(members)
			byKey[key] = i
			members = append(members, Members{Key: key, Name: name})
		}
		members[i].Docs = append(members[i].Docs, doc)
	}
	return a.Group(ref.Field, members)
}

type histogram struct {
	order  []string
	counts map[string]int
}

func (h *histogram) add(v string) {
	if _, ok := h.counts[v]; !ok {
		h.order = append(h.order, v)
	}
	h.counts[v]++
}

func (h *histogram) sorted() []Count {
	out := make([]Count, 0, len(h.order))
	for _, v := range h.order {
		out = append(out, Count{Value: v, Count: h.counts[v]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (a *Aggregator) stats(docs []index.Document) Stats {
	p := a.Profile
	var (
		s                     Stats
		total, won, lost      decimal.Decimal
		amounts               int
		ageSum, resolutionSum int
		aged, resolved        int
	)

	hists := make([]*histogram, len(p.Categories))
	for i := range hists {
		hists[i] = &histogram{counts: make(map[string]int)}
	}

	for _, doc := range docs {
		s.Total++

		closed, _ := doc.Bool(p.ClosedField)
		isWon, hasWon := doc.Bool(p.WonField)
		if closed {
			s.Closed++
		} else {
			s.Open++
		}
		switch {
		case hasWon && isWon:
			s.Won++
		case hasWon && closed:
			s.Lost++
		}

		if amount, ok := doc.Float(p.AmountField); ok {
			d := decimal.NewFromFloat(amount)
			total = total.Add(d)
			amounts++
			if hasWon && isWon {
				won = won.Add(d)
			} else if hasWon && closed {
				lost = lost.Add(d)
			}
		}

		if created, ok := doc.Time(p.CreatedField); ok {
			var closedAt *time.Time
			if t, ok := doc.Time(p.ClosedAtField); ok {
				closedAt = &t
			}
			ageSum += AgeDays(created, closedAt, closed, a.Now)
			aged++
			if closed && closedAt != nil {
				resolutionSum += AgeDays(created, closedAt, true, a.Now)
				resolved++
			}
			if since := a.Now.Sub(created); since >= 0 {
				if since <= 7*day {
					s.CreatedLastWeek++
				}
				if since <= 30*day {
					s.CreatedLastMonth++
				}
			}
		}

		if escalated, _ := doc.Bool(p.EscalatedField); escalated {
			s.Escalated++
		}

		if n, ok := doc.Float(p.CommentCountField); ok && n > 0 {
			s.Comments += int(n)
			s.WithComments++
		}

		for i, field := range p.Categories {
			v, ok := doc.String(field)
			if !ok || v == "" {
				v = Missing
			}
			hists[i].add(v)
		}
	}

	s.TotalAmount = total.InexactFloat64()
	s.WonAmount = won.InexactFloat64()
	s.LostAmount = lost.InexactFloat64()
	if amounts > 0 {
		s.AverageAmount = total.Div(decimal.NewFromInt(int64(amounts))).InexactFloat64()
	}

	s.CloseRate = Rate(s.Closed, s.Total)
	s.WinRate = Rate(s.Won, s.Total)
	s.AverageAgeDays = average(ageSum, aged)
	s.AverageResolutionDays = average(resolutionSum, resolved)
	s.AverageComments = average(s.Comments, s.Total)

	s.Breakdowns = make([]Breakdown, len(p.Categories))
	for i, field := range p.Categories {
		s.Breakdowns[i] = Breakdown{Field: field, Counts: hists[i].sorted()}
	}
	return s
}

// Breakdown returns the frequency table of field.
func (s Stats) Breakdown(field string) []Count {
	for _, b := range s.Breakdowns {
		if b.Field == field {
			return b.Counts
		}
	}
	return nil
}

// Rate returns part/total as a percentage, 0 when total is 0.
func Rate(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// AgeDays is the number of whole days from created to closedAt when closed,
// or to now otherwise.
func AgeDays(created time.Time, closedAt *time.Time, closed bool, now time.Time) int {
	end := now
	if closed && closedAt != nil {
		end = *closedAt
	}
	return int(end.Sub(created) / day)
}

// Top returns the first n counts.
func Top(counts []Count, n int) []Count {
	if n < 0 || n >= len(counts) {
		return counts
	}
	return counts[:n]
}
