package aggregate

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

var caseProfile = Profile{
	ClosedField:       "is_closed",
	CreatedField:      "created_date",
	ClosedAtField:     "closed_date",
	EscalatedField:    "is_escalated",
	CommentCountField: "comment_count",
	Categories:        []string{"status", "priority"},
	GroupKeys:         []FieldRef{{Field: "account_id", NameField: "account_name"}},
}

var opportunityProfile = Profile{
	ClosedField:  "is_closed",
	WonField:     "is_won",
	AmountField:  "amount",
	CreatedField: "created_date",
	Categories:   []string{"stage"},
	GroupKeys:    []FieldRef{{Field: "account_id", NameField: "account_name"}, {Field: "owner_name"}},
}

func doc(id string, body map[string]any) index.Document {
	return index.Document{ID: id, Body: body}
}

func TestAggregateEmpty(t *testing.T) {
	r := New(caseProfile, now).Aggregate(nil)

	assert.Zero(t, r.Overall.Total)
	assert.Zero(t, r.Overall.CloseRate)
	assert.Zero(t, r.Overall.WinRate)
	assert.Zero(t, r.Overall.AverageAgeDays)
	assert.Zero(t, r.Overall.AverageComments)
	require.Len(t, r.Overall.Breakdowns, 2)
	assert.Empty(t, r.Overall.Breakdown("status"))
	require.Len(t, r.Groups, 1)
	assert.Empty(t, r.Groups[0].Buckets)
}

func TestAggregateCloseRateByBucket(t *testing.T) {
	docs := []index.Document{
		doc("1", map[string]any{"account_id": "A", "is_closed": true}),
		doc("2", map[string]any{"account_id": "A", "is_closed": false}),
		doc("3", map[string]any{"account_id": "B", "is_closed": true}),
	}

	r := New(caseProfile, now).Aggregate(docs)

	assert.Equal(t, 3, r.Overall.Total)
	assert.Equal(t, 2, r.Overall.Closed)
	assert.Equal(t, 1, r.Overall.Open)
	assert.InDelta(t, 66.7, r.Overall.CloseRate, 0.05)

	g := r.Group("account_id")
	require.NotNil(t, g)
	require.Len(t, g.Buckets, 2)
	assert.Equal(t, "A", g.Buckets[0].Key)
	assert.InDelta(t, 50.0, g.Bucket("A").Stats.CloseRate, 0.001)
	assert.InDelta(t, 100.0, g.Bucket("B").Stats.CloseRate, 0.001)
	assert.Equal(t, []string{"1", "2"}, g.Bucket("A").IDs)
}

func TestAggregateOpportunities(t *testing.T) {
	docs := []index.Document{
		doc("o1", map[string]any{"account_id": "A", "account_name": "Acme", "owner_name": "Jane", "is_closed": true, "is_won": true, "amount": 1000.10, "stage": "Closed Won"}),
		doc("o2", map[string]any{"account_id": "A", "account_name": "Acme Inc", "owner_name": "Joe", "is_closed": true, "is_won": false, "amount": 500.20, "stage": "Closed Lost"}),
		doc("o3", map[string]any{"account_id": "B", "account_name": "Globex", "owner_name": "Jane", "is_closed": false, "is_won": false, "amount": nil, "stage": "Prospecting"}),
		doc("o4", map[string]any{"account_id": "B", "owner_name": "Jane", "is_closed": true, "is_won": true, "amount": 0.1, "stage": "Closed Won"}),
	}

	r := New(opportunityProfile, now).Aggregate(docs)
	o := r.Overall

	assert.Equal(t, 4, o.Total)
	assert.Equal(t, 3, o.Closed)
	assert.Equal(t, 2, o.Won)
	assert.Equal(t, 1, o.Lost)
	assert.Equal(t, 1500.4, o.TotalAmount)
	assert.Equal(t, 1000.2, o.WonAmount)
	assert.Equal(t, 500.2, o.LostAmount)
	assert.InDelta(t, 500.1333, o.AverageAmount, 0.0001)
	assert.InDelta(t, 50.0, o.WinRate, 0.001)
	assert.InDelta(t, 75.0, o.CloseRate, 0.001)
	assert.Equal(t, []Count{{"Closed Won", 2}, {"Closed Lost", 1}, {"Prospecting", 1}}, o.Breakdown("stage"))

	accounts := r.Group("account_id")
	assert.Equal(t, "Acme", accounts.Bucket("A").Name)
	assert.Equal(t, "Globex", accounts.Bucket("B").Name)

	owners := r.Group("owner_name")
	require.Len(t, owners.Buckets, 2)
	assert.Equal(t, "Jane", owners.Buckets[0].Key)
	assert.Equal(t, 3, owners.Buckets[0].Stats.Total)
	assert.Equal(t, "Jane", owners.Buckets[0].Name)
}

func TestAggregateAges(t *testing.T) {
	docs := []index.Document{
		// closed after 4 days
		doc("c1", map[string]any{"is_closed": true, "created_date": "2024-06-01T00:00:00Z", "closed_date": "2024-06-05T10:00:00Z", "comment_count": 3}),
		// open for 10 days
		doc("c2", map[string]any{"is_closed": false, "created_date": "2024-06-20T12:00:00Z", "comment_count": 0, "is_escalated": true}),
		// open, created 2 days ago
		doc("c3", map[string]any{"is_closed": false, "created_date": "2024-06-28T12:00:00Z", "comment_count": 1}),
		// no creation date: counted, but excluded from ages
		doc("c4", map[string]any{"is_closed": true, "priority": "High"}),
	}

	r := New(caseProfile, now).Aggregate(docs)
	o := r.Overall

	assert.Equal(t, 4, o.Total)
	assert.InDelta(t, (4.0+10+2)/3, o.AverageAgeDays, 0.0001)
	assert.InDelta(t, 4.0, o.AverageResolutionDays, 0.0001)
	assert.Equal(t, 1, o.Escalated)
	assert.Equal(t, 4, o.Comments)
	assert.Equal(t, 2, o.WithComments)
	assert.InDelta(t, 1.0, o.AverageComments, 0.0001)
	assert.Equal(t, 1, o.CreatedLastWeek)
	assert.Equal(t, 3, o.CreatedLastMonth)
	assert.Equal(t, []Count{{Missing, 3}, {"High", 1}}, o.Breakdown("priority"))

	missing := r.Group("account_id").Bucket(Missing)
	require.NotNil(t, missing)
	assert.Equal(t, 4, missing.Stats.Total)
}

func TestFrequencyTiesKeepFirstSeenOrder(t *testing.T) {
	var docs []index.Document
	for i, status := range []string{"New", "Working", "Escalated", "Working", "New", "Closed"} {
		docs = append(docs, doc(fmt.Sprint(i), map[string]any{"status": status, "account_id": status}))
	}

	r := New(caseProfile, now).Aggregate(docs)

	assert.Equal(t, []Count{{"New", 2}, {"Working", 2}, {"Escalated", 1}, {"Closed", 1}}, r.Overall.Breakdown("status"))
	var keys []string
	for _, b := range r.Group("account_id").Buckets {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{"New", "Working", "Escalated", "Closed"}, keys)
	assert.Equal(t, []Count{{"New", 2}}, Top(r.Overall.Breakdown("status"), 1))
	assert.Len(t, Top(r.Overall.Breakdown("status"), 10), 4)
}

func TestRatesStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var docs []index.Document
		for i := 0; i < rng.Intn(40); i++ {
			closed := rng.Intn(2) == 0
			docs = append(docs, doc(fmt.Sprint(i), map[string]any{
				"account_id": fmt.Sprint(rng.Intn(4)),
				"is_closed":  closed,
				"is_won":     closed && rng.Intn(2) == 0,
			}))
		}

		r := New(opportunityProfile, now).Aggregate(docs)
		check := func(s Stats) {
			assert.GreaterOrEqual(t, s.CloseRate, 0.0)
			assert.LessOrEqual(t, s.CloseRate, 100.0)
			assert.GreaterOrEqual(t, s.WinRate, 0.0)
			assert.LessOrEqual(t, s.WinRate, 100.0)
			if s.Total == 0 {
				assert.Zero(t, s.CloseRate)
				assert.Zero(t, s.WinRate)
			}
		}
		check(r.Overall)
		for _, b := range r.Group("account_id").Buckets {
			check(b.Stats)
		}
	}
}

func TestRateAndAgeDays(t *testing.T) {
	assert.Zero(t, Rate(0, 0))
	assert.Equal(t, 25.0, Rate(1, 4))

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	closedAt := time.Date(2024, 6, 3, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, AgeDays(created, &closedAt, true, now))
	assert.Equal(t, 29, AgeDays(created, &closedAt, false, now))
	assert.Equal(t, 29, AgeDays(created, nil, true, now))
}

func TestGroupExplicitMembersMayOverlap(t *testing.T) {
	shared := []index.Document{
		doc("1", map[string]any{"is_closed": true, "priority": "High", "comment_count": 2}),
		doc("2", map[string]any{"is_closed": false, "priority": "Low"}),
	}
	other := []index.Document{doc("3", map[string]any{"is_closed": true, "priority": "High"})}

	g := New(caseProfile, now).Group("opportunity_id", []Members{
		{Key: "O1", Name: "Renewal", Docs: other},
		{Key: "O2", Name: "Upsell", Docs: shared, Info: map[string]any{"stage": "Closed Won"}},
		{Key: "O3", Name: "Expansion", Docs: shared},
		{Key: "O4", Name: "Orphan"},
	})

	assert.Equal(t, "opportunity_id", g.Field)
	require.Len(t, g.Buckets, 4)
	assert.Equal(t, []string{"O2", "O3", "O1", "O4"}, []string{g.Buckets[0].Key, g.Buckets[1].Key, g.Buckets[2].Key, g.Buckets[3].Key})
	assert.Equal(t, g.Bucket("O2").IDs, g.Bucket("O3").IDs)
	assert.InDelta(t, 50.0, g.Bucket("O3").Stats.CloseRate, 1e-9)
	assert.Equal(t, 2, g.Bucket("O2").Stats.Comments)
	assert.Equal(t, "Closed Won", g.Bucket("O2").Info["stage"])
	assert.Zero(t, g.Bucket("O4").Stats.Total)
	assert.Empty(t, g.Bucket("O4").IDs)
}
