package crm

import (
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/soql"
)

var accountFields = []string{
	"Id", "Name", "Type", "Industry", "AnnualRevenue", "NumberOfEmployees",
	"BillingCity", "BillingState", "BillingCountry", "Owner.Name",
}

// AccountRequest fetches the account details attached to account buckets.
func AccountRequest() fetch.Request {
	return fetch.Request{
		Query: soql.Select("Account", accountFields...).OrderBy("Name"),
		Field: "Id",
	}
}

// AccountInfo projects an account record into bucket info.
func AccountInfo(r salesforce.Record) map[string]any {
	p := project(r)
	p.str("name", "Name")
	p.str("type", "Type")
	p.str("industry", "Industry")
	p.number("annual_revenue", "AnnualRevenue")
	p.integer("employees", "NumberOfEmployees")
	p.str("billing_city", "BillingCity")
	p.str("billing_state", "BillingState")
	p.str("billing_country", "BillingCountry")
	p.str("owner", "Owner.Name")
	return p.out
}
