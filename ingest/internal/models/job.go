package models

import "time"

type ImportStatus string

const (
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// ImportJob tracks one batch file import.
// At most one processing job exists per IdempotencyHash.
type ImportJob struct {
	ID              string       `json:"id"`
	WorkspaceID     string       `json:"workspace_id"`
	IdempotencyHash string       `json:"idempotency_hash"`
	FileURL         string       `json:"file_url"`
	AudienceID      string       `json:"audience_id,omitempty"`
	Status          ImportStatus `json:"status"`
	TotalRows       int          `json:"total_rows"`
	ProcessedRows   int          `json:"processed_rows"`
	FailedRows      int          `json:"failed_rows"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Stored is the number of rows persisted as leads.
func (j *ImportJob) Stored() int {
	return j.ProcessedRows - j.FailedRows
}
