package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldWorkspaceID = "workspace_id"
	FieldLeadID      = "lead_id"
	FieldRecipientID = "recipient_id"
	FieldEventID     = "event_id"
	FieldJobID       = "job_id"
	FieldPartnerID   = "partner_id"
	FieldSource      = "source"
	FieldIP          = "ip"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// WorkspaceID returns a slog attribute for the tenant workspace.
func WorkspaceID(id string) slog.Attr {
	return slog.String(FieldWorkspaceID, id)
}

// LeadID returns a slog attribute for a lead.
func LeadID(id string) slog.Attr {
	return slog.String(FieldLeadID, id)
}

// RecipientID returns a slog attribute for a routing recipient.
func RecipientID(id string) slog.Attr {
	return slog.String(FieldRecipientID, id)
}

// EventID returns a slog attribute for an idempotency event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// JobID returns a slog attribute for an import job.
func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

// PartnerID returns a slog attribute for a partner.
func PartnerID(id string) slog.Attr {
	return slog.String(FieldPartnerID, id)
}

// Source returns a slog attribute for the ingestion source.
func Source(source string) slog.Attr {
	return slog.String(FieldSource, source)
}

// IP returns a slog attribute for the client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
