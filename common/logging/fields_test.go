package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name     string
		attr     slog.Attr
		key      string
		expected string
	}{
		{"Service", Service("ingest"), FieldService, "ingest"},
		{"WorkspaceID", WorkspaceID("ws-1"), FieldWorkspaceID, "ws-1"},
		{"LeadID", LeadID("lead-1"), FieldLeadID, "lead-1"},
		{"RecipientID", RecipientID("user-1"), FieldRecipientID, "user-1"},
		{"EventID", EventID("abc"), FieldEventID, "abc"},
		{"JobID", JobID("job-1"), FieldJobID, "job-1"},
		{"PartnerID", PartnerID("p-1"), FieldPartnerID, "p-1"},
		{"Source", Source("pixel"), FieldSource, "pixel"},
		{"IP", IP("10.0.0.1"), FieldIP, "10.0.0.1"},
		{"Error", Error(errors.New("boom")), FieldError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.expected, tt.attr.Value.String())
		})
	}
}

func TestNumericFields(t *testing.T) {
	assert.Equal(t, int64(413), Status(413).Value.Int64())
	assert.Equal(t, int64(25), Duration(25).Value.Int64())
}

func TestError_Nil(t *testing.T) {
	assert.Equal(t, "", Error(nil).Value.String())
}
