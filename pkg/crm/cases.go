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
	register(AccountCases)
	register(Cases)
	register(OpportunityCases)
}

var caseComments = &Children{
	Object: "CaseComment",
	Fields: []string{
		"Id", "ParentId", "CommentBody", "IsPublished",
		"CreatedDate", "CreatedBy.Id", "CreatedBy.Name", "CreatedBy.Email",
		"LastModifiedDate", "LastModifiedBy.Name",
	},
	ParentField: "ParentId",
	Where:       []soql.Predicate{soql.Bool("IsDeleted", false)},
	OrderBy:     []string{"ParentId", "CreatedDate ASC"},
}

// caseAges sets case_age_days and resolution_time_days the same way the
// aggregator computes ages.
func caseAges(p *projection, created time.Time, hasCreated bool, closedAt time.Time, hasClosedAt, closed bool, now time.Time) {
	p.set("case_age_days", nil)
	p.set("resolution_time_days", nil)
	if !hasCreated {
		return
	}
	var end *time.Time
	if hasClosedAt {
		end = &closedAt
	}
	p.set("case_age_days", aggregate.AgeDays(created, end, closed, now))
	if closed && hasClosedAt {
		p.set("resolution_time_days", aggregate.AgeDays(created, end, true, now))
	}
}

// AccountCases indexes every case of the referenced accounts with comments.
var AccountCases = Pipeline{
	Name:        "account-cases",
	Description: "Cases of the referenced accounts, with their comments",
	Kind:        reference.Account,

	Object: "Case",
	Fields: []string{
		"Id", "CaseNumber", "Subject", "Description", "Status", "Priority", "Type", "Origin",
		"AccountId", "Account.Name", "ContactId", "Contact.Name", "Contact.Email",
		"CreatedDate", "ClosedDate", "IsClosed",
		"Owner.Name", "Owner.Id", "Owner.Email",
		"LastModifiedDate", "LastModifiedBy.Name",
		"Reason", "SuppliedEmail", "SuppliedName",
	},
	Membership: "AccountId",
	OrderBy:    []string{"Account.Name", "CreatedDate DESC"},

	StatusField:   "Status",
	PriorityField: "Priority",
	TypeField:     "Type",
	DateField:     "CreatedDate",
	DateTime:      true,
	ClosedField:   "IsClosed",

	Children:    caseComments,
	AccountInfo: true,

	Index: "salesforce-account-cases",
	Mapping: index.Mapping{
		"case_id":              {Kind: index.Keyword},
		"case_number":          {Kind: index.Keyword},
		"subject":              keywordText,
		"description":          {Kind: index.Text},
		"status":               {Kind: index.Keyword},
		"priority":             {Kind: index.Keyword},
		"type":                 {Kind: index.Keyword},
		"origin":               {Kind: index.Keyword},
		"reason":               {Kind: index.Keyword},
		"is_closed":            {Kind: index.Boolean},
		"created_date":         {Kind: index.Date},
		"closed_date":          {Kind: index.Date},
		"last_modified_date":   {Kind: index.Date},
		"resolution_time_days": {Kind: index.Integer},
		"case_age_days":        {Kind: index.Integer},
		"account_id":           {Kind: index.Keyword},
		"account_name":         keywordText,
		"contact_id":           {Kind: index.Keyword},
		"contact_name":         keywordText,
		"contact_email":        {Kind: index.Keyword},
		"supplied_email":       {Kind: index.Keyword},
		"supplied_name":        keywordText,
		"owner_id":             {Kind: index.Keyword},
		"owner_name":           keywordText,
		"owner_email":          {Kind: index.Keyword},
		"last_modified_by":     keywordText,
		"comment_count":        {Kind: index.Integer},
		"comments": {Kind: index.Nested, Properties: index.Mapping{
			"id":               {Kind: index.Keyword},
			"body":             {Kind: index.Text},
			"is_published":     {Kind: index.Boolean},
			"created_date":     {Kind: index.Date},
			"created_by":       keywordText,
			"created_by_email": {Kind: index.Keyword},
			"modified_date":    {Kind: index.Date},
			"modified_by":      keywordText,
		}},
		"extracted_at": {Kind: index.Date},
		"source":       {Kind: index.Keyword},
	},
	Profile: aggregate.Profile{
		ClosedField:       "is_closed",
		CreatedField:      "created_date",
		ClosedAtField:     "closed_date",
		CommentCountField: "comment_count",
		Categories:        []string{"status", "priority", "type", "origin"},
		GroupKeys:         []aggregate.FieldRef{{Field: "account_id", NameField: "account_name"}},
	},
	Transform: caseTransform("salesforce_account_cases"),
}

// caseTransform projects a case and its comments, tagging the document
// with source.
func caseTransform(source string) TransformFunc {
	return func(r salesforce.Record, children []salesforce.Record, extractedAt time.Time) (map[string]any, error) {
		p := project(r)
		p.requireString("case_id", "Id")
		p.str("case_number", "CaseNumber")
		p.str("subject", "Subject")
		p.str("description", "Description")
		p.str("status", "Status")
		p.str("priority", "Priority")
		p.str("type", "Type")
		p.str("origin", "Origin")
		p.str("reason", "Reason")
		closed := p.requireBool("is_closed", "IsClosed")
		created, hasCreated := p.datetime("created_date", "CreatedDate")
		closedAt, hasClosedAt := p.datetime("closed_date", "ClosedDate")
		p.datetime("last_modified_date", "LastModifiedDate")

		p.str("account_id", "AccountId")
		p.str("account_name", "Account.Name")
		p.str("contact_id", "ContactId")
		p.str("contact_name", "Contact.Name")
		p.str("contact_email", "Contact.Email")
		p.str("supplied_email", "SuppliedEmail")
		p.str("supplied_name", "SuppliedName")
		p.str("owner_id", "Owner.Id")
		p.str("owner_name", "Owner.Name")
		p.str("owner_email", "Owner.Email")
		p.str("last_modified_by", "LastModifiedBy.Name")

		comments := make([]map[string]any, 0, len(children))
		for _, c := range children {
			cp := project(c)
			cp.str("id", "Id")
			cp.str("body", "CommentBody")
			cp.boolean("is_published", "IsPublished")
			cp.datetime("created_date", "CreatedDate")
			cp.str("created_by", "CreatedBy.Name")
			cp.str("created_by_email", "CreatedBy.Email")
			cp.datetime("modified_date", "LastModifiedDate")
			cp.str("modified_by", "LastModifiedBy.Name")
			comments = append(comments, cp.out)
		}
		p.set("comments", comments)
		p.set("comment_count", len(comments))

		caseAges(p, created, hasCreated, closedAt, hasClosedAt, closed, extractedAt)
		p.set("extracted_at", extractedAt.UTC().Format(time.RFC3339))
		p.set("source", source)
		return p.out, p.err
	}
}

// Cases indexes the cases of the referenced accounts with escalation, SLA
// and parent case fields.
var Cases = Pipeline{
	Name:        "cases",
	Description: "Cases of the referenced accounts with escalation and SLA details",
	Kind:        reference.Account,

	Object: "Case",
	Fields: []string{
		"Id", "CaseNumber", "Subject", "Description", "Status", "Priority", "Type",
		"AccountId", "Account.Name", "ContactId", "Contact.Name", "Contact.Email",
		"CreatedDate", "ClosedDate", "LastModifiedDate",
		"Origin", "Reason", "SuppliedEmail", "SuppliedName", "SuppliedPhone",
		"IsClosed", "IsEscalated", "EscalatedDate",
		"Owner.Id", "Owner.Name", "Owner.Email",
		"CreatedBy.Id", "CreatedBy.Name",
		"LastModifiedBy.Id", "LastModifiedBy.Name",
		"ParentId", "Parent.CaseNumber",
		"BusinessHoursId", "SlaStartDate", "SlaExitDate",
	},
	Membership: "AccountId",
	OrderBy:    []string{"CreatedDate DESC"},

	StatusField:   "Status",
	PriorityField: "Priority",
	TypeField:     "Type",
	DateField:     "CreatedDate",
	DateTime:      true,
	ClosedField:   "IsClosed",

	Children: caseComments,

	Index: "salesforce-cases",
	Mapping: index.Mapping{
		"case_id":              {Kind: index.Keyword},
		"case_number":          {Kind: index.Keyword},
		"subject":              {Kind: index.Keyword},
		"description":          {Kind: index.Text},
		"status":               {Kind: index.Keyword},
		"priority":             {Kind: index.Keyword},
		"type":                 {Kind: index.Keyword},
		"origin":               {Kind: index.Keyword},
		"reason":               {Kind: index.Keyword},
		"account_id":           {Kind: index.Keyword},
		"account_name":         {Kind: index.Keyword},
		"contact_id":           {Kind: index.Keyword},
		"contact_name":         {Kind: index.Keyword},
		"contact_email":        {Kind: index.Keyword},
		"supplied_email":       {Kind: index.Keyword},
		"supplied_name":        {Kind: index.Keyword},
		"supplied_phone":       {Kind: index.Keyword},
		"created_date":         {Kind: index.Date},
		"closed_date":          {Kind: index.Date},
		"last_modified_date":   {Kind: index.Date},
		"sla_start_date":       {Kind: index.Date},
		"sla_exit_date":        {Kind: index.Date},
		"escalated_date":       {Kind: index.Date},
		"is_closed":            {Kind: index.Boolean},
		"is_escalated":         {Kind: index.Boolean},
		"owner_id":             {Kind: index.Keyword},
		"owner_name":           {Kind: index.Keyword},
		"owner_email":          {Kind: index.Keyword},
		"created_by_id":        {Kind: index.Keyword},
		"created_by_name":      {Kind: index.Keyword},
		"parent_case_id":       {Kind: index.Keyword},
		"parent_case_number":   {Kind: index.Keyword},
		"business_hours_id":    {Kind: index.Keyword},
		"case_age_days":        {Kind: index.Integer},
		"resolution_time_days": {Kind: index.Integer},
		"comment_count":        {Kind: index.Integer},
		"comments": {Kind: index.Nested, Properties: index.Mapping{
			"comment_id":      {Kind: index.Keyword},
			"comment_body":    {Kind: index.Text},
			"created_date":    {Kind: index.Date},
			"created_by_id":   {Kind: index.Keyword},
			"created_by_name": {Kind: index.Keyword},
			"is_published":    {Kind: index.Boolean},
		}},
		"extracted_at": {Kind: index.Date},
		"source":       {Kind: index.Keyword},
	},
	Profile: aggregate.Profile{
		ClosedField:       "is_closed",
		CreatedField:      "created_date",
		ClosedAtField:     "closed_date",
		EscalatedField:    "is_escalated",
		CommentCountField: "comment_count",
		Categories:        []string{"status", "priority", "type", "origin"},
		GroupKeys: []aggregate.FieldRef{
			{Field: "account_id", NameField: "account_name"},
			{Field: "owner_name"},
		},
	},
	Transform: func(r salesforce.Record, children []salesforce.Record, extractedAt time.Time) (map[string]any, error) {
		p := project(r)
		p.requireString("case_id", "Id")
		p.str("case_number", "CaseNumber")
		p.str("subject", "Subject")
		p.str("description", "Description")
		p.str("status", "Status")
		p.str("priority", "Priority")
		p.str("type", "Type")
		p.str("origin", "Origin")
		p.str("reason", "Reason")

		p.str("account_id", "AccountId")
		p.str("account_name", "Account.Name")
		p.str("contact_id", "ContactId")
		p.str("contact_name", "Contact.Name")
		p.str("contact_email", "Contact.Email")
		p.str("supplied_email", "SuppliedEmail")
		p.str("supplied_name", "SuppliedName")
		p.str("supplied_phone", "SuppliedPhone")

		created, hasCreated := p.datetime("created_date", "CreatedDate")
		closedAt, hasClosedAt := p.datetime("closed_date", "ClosedDate")
		p.datetime("last_modified_date", "LastModifiedDate")
		p.datetime("sla_start_date", "SlaStartDate")
		p.datetime("sla_exit_date", "SlaExitDate")
		p.datetime("escalated_date", "EscalatedDate")

		closed := p.requireBool("is_closed", "IsClosed")
		p.boolean("is_escalated", "IsEscalated")

		p.str("owner_id", "Owner.Id")
		p.str("owner_name", "Owner.Name")
		p.str("owner_email", "Owner.Email")
		p.str("created_by_id", "CreatedBy.Id")
		p.str("created_by_name", "CreatedBy.Name")
		p.str("parent_case_id", "ParentId")
		p.str("parent_case_number", "Parent.CaseNumber")
		p.str("business_hours_id", "BusinessHoursId")

		comments := make([]map[string]any, 0, len(children))
		for _, c := range children {
			cp := project(c)
			cp.str("comment_id", "Id")
			cp.str("comment_body", "CommentBody")
			cp.datetime("created_date", "CreatedDate")
			cp.str("created_by_id", "CreatedBy.Id")
			cp.str("created_by_name", "CreatedBy.Name")
			cp.boolean("is_published", "IsPublished")
			comments = append(comments, cp.out)
		}
		p.set("comments", comments)
		p.set("comment_count", len(comments))

		caseAges(p, created, hasCreated, closedAt, hasClosedAt, closed, extractedAt)
		p.set("extracted_at", extractedAt.UTC().Format(time.RFC3339))
		p.set("source", "salesforce_cases")
		return p.out, p.err
	},
}
