package soql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectOnly(t *testing.T) {
	q := Select("Opportunity", "Id", "Name", "Account.Name")
	assert.Equal(t, "SELECT Id, Name, Account.Name FROM Opportunity", q.String())
}

func TestWhereComposesWithAnd(t *testing.T) {
	day := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	q := Select("Case", "Id").
		Where(
			In("AccountId", []string{"0015g00000XYZ12", "0015g00000XYZ13"}),
			Bool("IsClosed", false),
			Eq("Priority", "High"),
			nil,
			DateTimeFrom("CreatedDate", day),
			DateTimeTo("CreatedDate", day),
		).
		OrderBy("AccountId", "CreatedDate DESC").
		WithLimit(50)

	assert.Equal(t,
		"SELECT Id FROM Case WHERE AccountId IN ('0015g00000XYZ12', '0015g00000XYZ13') AND IsClosed = false"+
			" AND Priority = 'High' AND CreatedDate >= 2024-03-01T00:00:00Z AND CreatedDate <= 2024-03-01T23:59:59Z"+
			" ORDER BY AccountId, CreatedDate DESC LIMIT 50",
		q.String())
	assert.Equal(t, 50, q.Limit())
	assert.Equal(t, "Case", q.Object())
}

func TestDatePredicates(t *testing.T) {
	day := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "CloseDate >= 2023-12-31", DateFrom("CloseDate", day).Render())
	assert.Equal(t, "CloseDate <= 2023-12-31", DateTo("CloseDate", day).Render())
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `'O\'Brien'`, Quote("O'Brien"))
	assert.Equal(t, `'a\\b'`, Quote(`a\b`))
	assert.Equal(t, `'x\' OR Id != \'\\'`, Quote(`x' OR Id != '\`))
	assert.Equal(t, `'line one\nline two\r\ttab'`, Quote("line one\nline two\r\ttab"))
	assert.Equal(t, `'say \"hi\"\b\f'`, Quote("say \"hi\"\b\f"))
	assert.Equal(t, `Status = 'Closed\' OR IsDeleted = true'`, Eq("Status", "Closed' OR IsDeleted = true").Render())
}

func TestQueryIsCopiedOnWrite(t *testing.T) {
	base := Select("Opportunity", "Id").Where(Bool("IsClosed", true))
	a := base.Where(In("Id", []string{"006A"}))
	b := base.Where(In("Id", []string{"006B"}))

	assert.Equal(t, "SELECT Id FROM Opportunity WHERE IsClosed = true", base.String())
	assert.Contains(t, a.String(), "'006A'")
	assert.NotContains(t, a.String(), "'006B'")
	assert.Contains(t, b.String(), "'006B'")
}
