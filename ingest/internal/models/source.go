package models

// Source identifies where an inbound event came from.
type Source string

const (
	SourcePixel       Source = "pixel"
	SourceMailer      Source = "mailer"
	SourceBatchExport Source = "batch-export"
	SourceManualAPI   Source = "manual-api"
	SourcePartner     Source = "partner"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePixel, SourceMailer, SourceBatchExport, SourceManualAPI, SourcePartner:
		return true
	}
	return false
}

// IsWebhook reports whether s is delivered through POST /webhooks/{source}.
func (s Source) IsWebhook() bool {
	return s == SourcePixel || s == SourceMailer
}
