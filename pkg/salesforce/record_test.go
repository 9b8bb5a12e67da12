package salesforce

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{
		"Id": "5005g00000QwErTy",
		"Subject": "Printer on fire",
		"IsClosed": true,
		"Amount": 1250.5,
		"CreatedDate": "2024-01-15T10:30:00.000+0000",
		"ClosedDate": "2024-01-20T08:00:00.000+0000",
		"CloseDate": "2024-02-01",
		"Priority": null,
		"Account": {"Name": "Acme", "Owner": {"Name": "Jane"}},
		"Contact": null
	}`), &r))
	return r
}

func TestRecordStrings(t *testing.T) {
	r := sampleRecord(t)

	assert.Equal(t, "5005g00000QwErTy", r.ID())

	s, err := r.String("Account.Owner.Name")
	require.NoError(t, err)
	assert.Equal(t, "Jane", s)

	_, err = r.String("Priority")
	assert.ErrorIs(t, err, ErrMissingField)

	var missing *MissingFieldError
	_, err = r.String("Contact.Email")
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Contact.Email", missing.Field)

	_, ok := r.OptionalString("Account.Missing")
	assert.False(t, ok)

	_, err = r.String("IsClosed")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingField)
}

func TestRecordScalars(t *testing.T) {
	r := sampleRecord(t)

	closed, err := r.Bool("IsClosed")
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = r.Bool("IsWon")
	assert.ErrorIs(t, err, ErrMissingField)

	amount, err := r.Float("Amount")
	require.NoError(t, err)
	assert.InDelta(t, 1250.5, amount, 0.0001)

	_, ok := r.OptionalFloat("TCV__c")
	assert.False(t, ok)
}

func TestRecordTimes(t *testing.T) {
	r := sampleRecord(t)

	created, err := r.Time("CreatedDate")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), created)

	closeDate, ok := r.OptionalTime("CloseDate")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), closeDate)

	_, err = r.Time("Subject")
	assert.ErrorContains(t, err, "unrecognized time")
}
