package crm

import (
	"time"

	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/soql"
)

func init() {
	register(Opportunities)
	register(AccountOpportunities)
}

var keywordText = index.Field{Kind: index.Text, Keyword: true}

// Opportunities indexes opportunities referenced directly by id or URL.
var Opportunities = Pipeline{
	Name:        "opportunities",
	Description: "Opportunities referenced by id or URL",
	Kind:        reference.Opportunity,

	Object:     "Opportunity",
	Fields:     []string{"Id", "Name", "Account.Name", "CloseDate", "Amount", "TCV__c"},
	Membership: "Id",

	StatusField: "StageName",
	TypeField:   "Type",
	DateField:   "CloseDate",
	ClosedField: "IsClosed",
	WonField:    "IsWon",

	Index: "salesforce-opportunities",
	Mapping: index.Mapping{
		"opportunity_id":   {Kind: index.Keyword},
		"opportunity_name": keywordText,
		"account_name":     keywordText,
		"close_date":       {Kind: index.Date},
		"amount":           {Kind: index.Double},
		"tcv_amount":       {Kind: index.Double},
		"extracted_at":     {Kind: index.Date},
		"source":           {Kind: index.Keyword},
	},
	Profile: aggregate.Profile{
		AmountField: "amount",
		GroupKeys:   []aggregate.FieldRef{{Field: "account_name"}},
	},
	Transform: func(r salesforce.Record, _ []salesforce.Record, extractedAt time.Time) (map[string]any, error) {
		p := project(r)
		p.requireString("opportunity_id", "Id")
		p.str("opportunity_name", "Name")
		p.str("account_name", "Account.Name")
		p.date("close_date", "CloseDate")
		p.number("amount", "Amount")
		p.number("tcv_amount", "TCV__c")
		p.set("extracted_at", extractedAt.UTC().Format(time.RFC3339))
		p.set("source", "salesforce_batch")
		return p.out, p.err
	},
}

// AccountOpportunities indexes the closed opportunities of referenced accounts.
var AccountOpportunities = Pipeline{
	Name:        "account-opportunities",
	Description: "Closed opportunities of the referenced accounts",
	Kind:        reference.Account,

	Object: "Opportunity",
	Fields: []string{
		"Id", "Name", "AccountId", "Account.Id", "Account.Name", "CloseDate", "Amount",
		"StageName", "IsWon", "IsClosed", "Type", "Probability",
		"CreatedDate", "LastModifiedDate", "Owner.Name", "Owner.Id",
		"Description", "LeadSource", "ForecastCategoryName",
	},
	Membership: "AccountId",
	Static:     []soql.Predicate{soql.Bool("IsClosed", true)},
	OrderBy:    []string{"Account.Name", "CloseDate DESC", "Amount DESC"},

	StatusField: "StageName",
	TypeField:   "Type",
	DateField:   "CloseDate",
	WonField:    "IsWon",

	AccountInfo: true,

	Index: "salesforce-account-opportunities",
	Mapping: index.Mapping{
		"opportunity_id":     {Kind: index.Keyword},
		"opportunity_name":   keywordText,
		"account_id":         {Kind: index.Keyword},
		"account_name":       keywordText,
		"close_date":         {Kind: index.Date},
		"amount":             {Kind: index.Double},
		"stage_name":         {Kind: index.Keyword},
		"is_won":             {Kind: index.Boolean},
		"is_closed":          {Kind: index.Boolean},
		"type":               {Kind: index.Keyword},
		"probability":        {Kind: index.Double},
		"created_date":       {Kind: index.Date},
		"last_modified_date": {Kind: index.Date},
		"owner_name":         keywordText,
		"owner_id":           {Kind: index.Keyword},
		"description":        {Kind: index.Text},
		"lead_source":        {Kind: index.Keyword},
		"forecast_category":  {Kind: index.Keyword},
		"extracted_at":       {Kind: index.Date},
		"source":             {Kind: index.Keyword},
	},
	Profile: aggregate.Profile{
		ClosedField:   "is_closed",
		WonField:      "is_won",
		AmountField:   "amount",
		CreatedField:  "created_date",
		ClosedAtField: "close_date",
		Categories:    []string{"stage_name", "type", "lead_source"},
		GroupKeys: []aggregate.FieldRef{
			{Field: "account_id", NameField: "account_name"},
			{Field: "owner_name"},
		},
	},
	Transform: func(r salesforce.Record, _ []salesforce.Record, extractedAt time.Time) (map[string]any, error) {
		p := project(r)
		p.requireString("opportunity_id", "Id")
		p.str("opportunity_name", "Name")
		p.str("account_id", "AccountId")
		p.str("account_name", "Account.Name")
		p.date("close_date", "CloseDate")
		// a closed opportunity without an amount counts as zero
		if amount, ok := r.OptionalFloat("Amount"); ok {
			p.set("amount", amount)
		} else {
			p.set("amount", 0.0)
		}
		p.str("stage_name", "StageName")
		p.requireBool("is_won", "IsWon")
		p.requireBool("is_closed", "IsClosed")
		p.str("type", "Type")
		p.number("probability", "Probability")
		p.datetime("created_date", "CreatedDate")
		p.datetime("last_modified_date", "LastModifiedDate")
		p.str("owner_name", "Owner.Name")
		p.str("owner_id", "Owner.Id")
		p.str("description", "Description")
		p.str("lead_source", "LeadSource")
		p.str("forecast_category", "ForecastCategoryName")
		p.set("extracted_at", extractedAt.UTC().Format(time.RFC3339))
		p.set("source", "salesforce_account_opportunities")
		return p.out, p.err
	},
}
