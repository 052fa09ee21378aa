package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadMergeFromLatestWins(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &Lead{
		ID:          "lead-1",
		WorkspaceID: "ws-1",
		Email:       "a@x.com",
		FirstName:   "Ann",
		City:        "Fresno",
		CreatedAt:   created,
		Source:      SourcePixel,
	}
	newer := &Lead{
		Email:     "A@X.com",
		FirstName: "Anna",
		State:     "CA",
		Source:    SourceMailer,
		RawExtras: map[string]any{"utm": "x"},
		UpdatedAt: created.Add(time.Hour),
	}

	existing.MergeFrom(newer)

	assert.Equal(t, "lead-1", existing.ID)
	assert.Equal(t, "a@x.com", existing.Email)
	assert.Equal(t, "Anna", existing.FirstName)
	assert.Equal(t, "Fresno", existing.City, "empty fields in the newer record do not erase")
	assert.Equal(t, "CA", existing.State)
	assert.Equal(t, SourceMailer, existing.Source)
	assert.Equal(t, created, existing.CreatedAt)
	assert.Equal(t, "x", existing.RawExtras["utm"])
	assert.True(t, existing.Eligible)
}

func TestLeadMergeFromKeepsFirstPartner(t *testing.T) {
	first, second := "partner-a", "partner-b"

	attributed := &Lead{Email: "a@x.com", PartnerID: &first}
	attributed.MergeFrom(&Lead{Email: "a@x.com", PartnerID: &second})
	assert.Equal(t, "partner-a", *attributed.PartnerID)

	attributed.MergeFrom(&Lead{Email: "a@x.com"})
	assert.Equal(t, "partner-a", *attributed.PartnerID)

	organic := &Lead{Email: "b@x.com"}
	organic.MergeFrom(&Lead{Email: "b@x.com", PartnerID: &second})
	assert.Equal(t, "partner-b", *organic.PartnerID)
}

func TestLeadHasIdentity(t *testing.T) {
	assert.False(t, (&Lead{FirstName: "x"}).HasIdentity())
	assert.True(t, (&Lead{Phone: "+15555550100"}).HasIdentity())
	assert.True(t, (&Lead{CompanyDomain: "acme.com"}).HasIdentity())
	assert.Equal(t, "a@x.com", (&Lead{Email: " A@X.com "}).IdentityKey())
}

func TestCapWindows(t *testing.T) {
	five, ten := 5, 10
	rule := &TargetingRule{DailyCap: &five, MonthlyCap: &ten}

	windows := rule.CapWindows()
	assert.Len(t, windows, 2)
	assert.Equal(t, "daily", windows[0].Name)
	assert.Equal(t, 24*time.Hour, windows[0].Period)
	assert.Equal(t, 5, windows[0].Limit)
	assert.Equal(t, 30*24*time.Hour, windows[1].Period)

	assert.Empty(t, (&TargetingRule{}).CapWindows())
}

func TestSourceValid(t *testing.T) {
	assert.True(t, SourcePixel.Valid())
	assert.True(t, SourcePixel.IsWebhook())
	assert.False(t, SourcePartner.IsWebhook())
	assert.False(t, Source("other").Valid())
}
