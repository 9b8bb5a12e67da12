package crm

import (
	"errors"
	"testing"
	"time"

	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var extractedAt = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"account-cases", "account-opportunities", "cases", "opportunities", "opportunity-cases"}, Names())

	p, ok := Lookup("account-cases")
	require.True(t, ok)
	assert.Equal(t, reference.Account, p.Kind)

	_, ok = Lookup("leads")
	assert.False(t, ok)
}

func TestPipelinesAreComplete(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := Lookup(name)
			assert.NotEmpty(t, p.Object)
			assert.NotEmpty(t, p.Membership)
			assert.NotEmpty(t, p.Index)
			assert.NotNil(t, p.Transform)
			assert.Contains(t, p.Fields, "Id")
			for _, ref := range p.Profile.GroupKeys {
				assert.Contains(t, p.Mapping, ref.Field)
			}
			for _, field := range p.Profile.Categories {
				assert.Contains(t, p.Mapping, field)
			}
		})
	}
}

func TestRequestFilters(t *testing.T) {
	from, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	to, err := ParseDate("03/31/2024")
	require.NoError(t, err)

	req, err := AccountCases.Request(Filters{
		Status:   "New",
		Priority: "High",
		DateFrom: from,
		DateTo:   to,
		OpenOnly: true,
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, "AccountId", req.Field)
	assert.Equal(t, 10, req.Query.Limit())

	q := req.Query.String()
	assert.Contains(t, q, "FROM Case WHERE IsClosed = false AND Priority = 'High' AND Status = 'New'")
	assert.Contains(t, q, "CreatedDate >= 2024-01-01T00:00:00Z AND CreatedDate <= 2024-03-31T23:59:59Z")
	assert.Contains(t, q, "ORDER BY Account.Name, CreatedDate DESC LIMIT 10")
}

func TestRequestStaticPredicateComesFirst(t *testing.T) {
	req, err := AccountOpportunities.Request(Filters{WonOnly: true, Type: "New Business"})
	require.NoError(t, err)
	assert.Contains(t, req.Query.String(), "WHERE IsClosed = true AND IsWon = true AND Type = 'New Business'")
}

func TestRequestDateOnlyField(t *testing.T) {
	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	req, err := Opportunities.Request(Filters{DateFrom: day})
	require.NoError(t, err)
	assert.Contains(t, req.Query.String(), "CloseDate >= 2024-02-29")
}

func TestRequestRejectsUnsupportedFilter(t *testing.T) {
	_, err := Opportunities.Request(Filters{Priority: "High"})
	assert.ErrorContains(t, err, "priority")

	_, err = AccountCases.Request(Filters{WonOnly: true})
	assert.ErrorContains(t, err, "won_only")

	_, err = AccountOpportunities.Request(Filters{OpenOnly: true})
	assert.ErrorContains(t, err, "open_only")
}

func TestRequestRejectsConflicts(t *testing.T) {
	_, err := AccountCases.Request(Filters{OpenOnly: true, ClosedOnly: true})
	assert.True(t, errors.Is(err, ErrConflictingFilters))
}

func TestChildRequest(t *testing.T) {
	_, ok := Opportunities.ChildRequest()
	assert.False(t, ok)

	req, ok := AccountCases.ChildRequest()
	require.True(t, ok)
	assert.Equal(t, "ParentId", req.Field)
	assert.Contains(t, req.Query.String(), "FROM CaseComment WHERE IsDeleted = false ORDER BY ParentId, CreatedDate ASC")
}

func TestOpportunityDocument(t *testing.T) {
	r := salesforce.Record{
		"Id":        "0065g00000ABCDE",
		"Name":      "Renewal",
		"Account":   map[string]any{"Name": "Acme"},
		"CloseDate": "2024-05-31",
		"Amount":    1200.5,
		"TCV__c":    nil,
	}

	d, err := Opportunities.Document(r, nil, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, "0065g00000ABCDE", d.ID)
	assert.Equal(t, "Acme", d.Body["account_name"])
	assert.Equal(t, "2024-05-31", d.Body["close_date"])
	assert.Equal(t, 1200.5, d.Body["amount"])
	assert.Nil(t, d.Body["tcv_amount"])
	assert.Equal(t, "2024-06-30T12:00:00Z", d.Body["extracted_at"])
	assert.NoError(t, Opportunities.Mapping.Validate(d.Body))
}

func TestAccountOpportunityDefaultsAmount(t *testing.T) {
	r := salesforce.Record{
		"Id":        "0065g00000ABCDE",
		"AccountId": "0015g00000XYZ12",
		"IsWon":     false,
		"IsClosed":  true,
	}

	d, err := AccountOpportunities.Document(r, nil, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Body["amount"])
	assert.Equal(t, false, d.Body["is_won"])
}

func TestDocumentMissingRequiredField(t *testing.T) {
	_, err := AccountOpportunities.Document(salesforce.Record{"Id": "0065g00000ABCDE", "IsClosed": true}, nil, extractedAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, salesforce.ErrMissingField))
	assert.Contains(t, err.Error(), "0065g00000ABCDE")

	_, err = Opportunities.Document(salesforce.Record{"Name": "no id"}, nil, extractedAt)
	assert.True(t, errors.Is(err, salesforce.ErrMissingField))
}

func TestCaseDocumentWithComments(t *testing.T) {
	r := salesforce.Record{
		"Id":          "5005g00000CASE1",
		"CaseNumber":  "00001001",
		"Status":      "Closed",
		"AccountId":   "0015g00000XYZ12",
		"Account":     map[string]any{"Name": "Acme"},
		"IsClosed":    true,
		"CreatedDate": "2024-06-01T09:30:00.000+0000",
		"ClosedDate":  "2024-06-11T10:00:00.000+0000",
	}
	comments := []salesforce.Record{
		{"Id": "00a1", "ParentId": "5005g00000CASE1", "CommentBody": "first", "IsPublished": true,
			"CreatedDate": "2024-06-02T08:00:00.000+0000", "CreatedBy": map[string]any{"Name": "Ann"}},
		{"Id": "00a2", "ParentId": "5005g00000CASE1", "CommentBody": "second", "IsPublished": false},
	}

	d, err := AccountCases.Document(r, comments, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T09:30:00Z", d.Body["created_date"])
	assert.Equal(t, 2, d.Body["comment_count"])
	assert.Equal(t, 10, d.Body["case_age_days"])
	assert.Equal(t, 10, d.Body["resolution_time_days"])

	nested, ok := d.Body["comments"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nested, 2)
	assert.Equal(t, "first", nested[0]["body"])
	assert.Equal(t, "Ann", nested[0]["created_by"])
	assert.Nil(t, nested[1]["created_by"])
}

func TestOpenCaseAge(t *testing.T) {
	r := salesforce.Record{
		"Id":          "5005g00000CASE2",
		"IsClosed":    false,
		"IsEscalated": true,
		"CreatedDate": "2024-06-20T12:00:00.000+0000",
	}

	d, err := Cases.Document(r, nil, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, 10, d.Body["case_age_days"])
	assert.Nil(t, d.Body["resolution_time_days"])
	assert.Equal(t, true, d.Body["is_escalated"])
	assert.Equal(t, 0, d.Body["comment_count"])
	assert.Equal(t, "salesforce_cases", d.Body["source"])
}

func TestCaseDocumentsAggregate(t *testing.T) {
	var docs []index.Document
	for _, r := range []salesforce.Record{
		{"Id": "5001", "AccountId": "A", "Account": map[string]any{"Name": "Acme"}, "IsClosed": true, "IsEscalated": true, "Owner": map[string]any{"Name": "Bo"}},
		{"Id": "5002", "AccountId": "A", "Account": map[string]any{"Name": "Acme"}, "IsClosed": false, "IsEscalated": false, "Owner": map[string]any{"Name": "Bo"}},
		{"Id": "5003", "AccountId": "B", "IsClosed": true},
	} {
		d, err := Cases.Document(r, nil, extractedAt)
		require.NoError(t, err)
		docs = append(docs, d)
	}

	report := aggregate.New(Cases.Profile, extractedAt).Aggregate(docs)
	assert.Equal(t, 3, report.Overall.Total)
	assert.Equal(t, 1, report.Overall.Escalated)

	accounts := report.Group("account_id")
	require.NotNil(t, accounts)
	a := accounts.Bucket("A")
	require.NotNil(t, a)
	assert.Equal(t, "Acme", a.Name)
	assert.InDelta(t, 50.0, a.Stats.CloseRate, 1e-9)

	owners := report.Group("owner_name")
	require.NotNil(t, owners)
	assert.NotNil(t, owners.Bucket(aggregate.Missing))
}

func TestAccountInfo(t *testing.T) {
	info := AccountInfo(salesforce.Record{
		"Id":                "0015g00000XYZ12",
		"Name":              "Acme",
		"Industry":          "Retail",
		"NumberOfEmployees": float64(250),
		"Owner":             map[string]any{"Name": "Bo"},
	})
	assert.Equal(t, "Acme", info["name"])
	assert.Equal(t, 250, info["employees"])
	assert.Equal(t, "Bo", info["owner"])
	assert.Nil(t, info["annual_revenue"])

	req := AccountRequest()
	assert.Equal(t, "Id", req.Field)
	assert.Equal(t, "Account", req.Query.Object())
}

func TestViaRequest(t *testing.T) {
	_, ok := AccountCases.ViaRequest()
	assert.False(t, ok)

	req, ok := OpportunityCases.ViaRequest()
	require.True(t, ok)
	assert.Equal(t, "Id", req.Field)
	assert.Equal(t, "Opportunity", req.Query.Object())
	assert.Contains(t, req.Query.String(), "AccountId, Account.Name, Amount, StageName")

	cases, err := OpportunityCases.Request(Filters{OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "AccountId", cases.Field)
	assert.Equal(t, "Case", cases.Query.Object())
}

func TestOpportunityCasesBuckets(t *testing.T) {
	opps := []salesforce.Record{
		{"Id": "006A", "Name": "Renewal", "AccountId": "001A", "Account": map[string]any{"Name": "Acme"}, "Amount": 500.0, "StageName": "Prospecting", "IsWon": false, "IsClosed": false},
		{"Id": "006B", "Name": "Upsell", "AccountId": "001A", "StageName": "Closed Won", "IsWon": true, "IsClosed": true},
		{"Id": "006C", "Name": "New logo", "AccountId": nil},
	}
	assert.Equal(t, []string{"001A"}, OpportunityCases.Via.Keys(opps))

	var docs []index.Document
	for _, r := range []salesforce.Record{
		{"Id": "5001", "AccountId": "001A", "IsClosed": true, "Priority": "High", "CreatedDate": "2024-06-01T00:00:00.000+0000", "ClosedDate": "2024-06-11T00:00:00.000+0000"},
		{"Id": "5002", "AccountId": "001A", "IsClosed": false, "Priority": "Low", "CreatedDate": "2024-06-20T12:00:00.000+0000"},
	} {
		d, err := OpportunityCases.Document(r, []salesforce.Record{{"Id": "c1", "ParentId": r.ID()}}, extractedAt)
		require.NoError(t, err)
		assert.Equal(t, "salesforce_opportunity_cases", d.Body["source"])
		docs = append(docs, d)
	}

	g := aggregate.New(OpportunityCases.Profile, extractedAt).Group(OpportunityCases.Via.Group, OpportunityCases.Via.Members(opps, docs))
	require.Len(t, g.Buckets, 3)

	renewal := g.Bucket("006A")
	require.NotNil(t, renewal)
	assert.Equal(t, "Renewal", renewal.Name)
	assert.Equal(t, []string{"5001", "5002"}, renewal.IDs)
	assert.InDelta(t, 50.0, renewal.Stats.CloseRate, 1e-9)
	assert.Equal(t, 2, renewal.Stats.Comments)
	assert.InDelta(t, 10.0, renewal.Stats.AverageAgeDays, 1e-9)
	assert.Equal(t, "Acme", renewal.Info["account_name"])
	assert.Equal(t, 500.0, renewal.Info["amount"])
	assert.Equal(t, "Prospecting", renewal.Info["stage"])

	upsell := g.Bucket("006B")
	require.NotNil(t, upsell)
	assert.Equal(t, renewal.IDs, upsell.IDs)
	assert.Equal(t, true, upsell.Info["is_won"])

	orphan := g.Bucket("006C")
	require.NotNil(t, orphan)
	assert.Zero(t, orphan.Stats.Total)
	assert.Equal(t, "006C", g.Buckets[2].Key)
}
