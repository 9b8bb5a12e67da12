package crm

import (
	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
)

// OpportunityCases indexes the cases of the accounts behind the referenced
// opportunities. The report has one bucket per opportunity, so a case is
// counted once for every opportunity of its account.
var OpportunityCases = Pipeline{
	Name:        "opportunity-cases",
	Description: "Cases of the accounts of the referenced opportunities, with their comments",
	Kind:        reference.Opportunity,

	Object:     "Case",
	Fields:     AccountCases.Fields,
	Membership: "AccountId",
	OrderBy:    []string{"Account.Name", "CreatedDate DESC"},

	StatusField:   "Status",
	PriorityField: "Priority",
	TypeField:     "Type",
	DateField:     "CreatedDate",
	DateTime:      true,
	ClosedField:   "IsClosed",

	Via: &Via{
		Object: "Opportunity",
		Fields: []string{
			"Id", "Name", "AccountId", "Account.Name", "Amount", "StageName",
			"CloseDate", "IsWon", "IsClosed", "Owner.Name", "CreatedDate",
		},
		OrderBy:   []string{"Name"},
		KeyField:  "AccountId",
		DocField:  "account_id",
		Group:     "opportunity_id",
		NameField: "Name",
		Info:      OpportunityInfo,
	},
	Children: caseComments,

	Index:   "salesforce-opportunity-cases",
	Mapping: AccountCases.Mapping,
	Profile: aggregate.Profile{
		ClosedField:       "is_closed",
		CreatedField:      "created_date",
		ClosedAtField:     "closed_date",
		CommentCountField: "comment_count",
		Categories:        []string{"priority", "status", "type"},
	},
	Transform: caseTransform("salesforce_opportunity_cases"),
}

// OpportunityInfo projects an opportunity record into bucket info.
func OpportunityInfo(r salesforce.Record) map[string]any {
	p := project(r)
	p.str("id", "Id")
	p.str("name", "Name")
	p.str("account_id", "AccountId")
	p.str("account_name", "Account.Name")
	p.number("amount", "Amount")
	p.str("stage", "StageName")
	p.date("close_date", "CloseDate")
	p.boolean("is_won", "IsWon")
	p.boolean("is_closed", "IsClosed")
	p.str("owner", "Owner.Name")
	p.datetime("created_date", "CreatedDate")
	return p.out
}
