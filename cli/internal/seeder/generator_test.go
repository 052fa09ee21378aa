package seeder

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLead_HasEveryColumn(t *testing.T) {
	lead := New(Options{Seed: 7}).Lead()
	for _, col := range Columns {
		assert.NotEmpty(t, lead[col], col)
	}
	assert.Contains(t, lead["email"], "@")
	assert.True(t, strings.HasPrefix(lead["website"], "https://"))
}

func TestLead_RespectsOptions(t *testing.T) {
	g := New(Options{Seed: 3, Industries: []string{"Solar"}, States: []string{"CA", "TX"}})
	for range 20 {
		lead := g.Lead()
		assert.Equal(t, "Solar", lead["industry"])
		assert.Contains(t, []string{"CA", "TX"}, lead["state"])
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	sum, err := New(Options{Count: 25, Seed: 1}).WriteCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, Summary{Rows: 25}, sum)

	r := csv.NewReader(&buf)
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 26)
	assert.Equal(t, Columns, records[0])
}

func TestWriteCSV_Malformed(t *testing.T) {
	var buf bytes.Buffer
	sum, err := New(Options{Count: 50, Seed: 1, MalformedRate: 1}).WriteCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 50, sum.Malformed)

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	for _, rec := range records[1:] {
		assert.Len(t, rec, len(Columns)-1)
	}
}

func TestWriteCSV_Reproducible(t *testing.T) {
	var a, b bytes.Buffer
	_, err := New(Options{Count: 5, Seed: 42}).WriteCSV(&a)
	require.NoError(t, err)
	_, err = New(Options{Count: 5, Seed: 42}).WriteCSV(&b)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	sum, err := New(Options{Count: 3, Seed: 9}).WriteJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Rows)

	var leads []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &leads))
	require.Len(t, leads, 3)
	assert.NotEmpty(t, leads[0]["email"])
}
