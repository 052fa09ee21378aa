package models

import "time"

// Partner is an external lead supplier paid on commission.
type Partner struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	Name           string    `json:"name"`
	APIKeyHash     string    `json:"-"`
	CommissionRate float64   `json:"commission_rate"`
	LeadsUploaded  int       `json:"leads_uploaded"`
	LeadsDelivered int       `json:"leads_delivered"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommissionRecord is one immutable ledger line. Corrections are new records
// with CorrectsID set and amounts equal to the difference from the original.
type CommissionRecord struct {
	ID               string    `json:"id"`
	LeadID           string    `json:"lead_id"`
	PartnerID        string    `json:"partner_id"`
	WorkspaceID      string    `json:"workspace_id"`
	BillingEventID   string    `json:"billing_event_id,omitempty"`
	SaleAmount       int64     `json:"sale_amount_cents"`
	CommissionRate   float64   `json:"commission_rate"`
	CommissionAmount int64     `json:"commission_amount_cents"`
	CorrectsID       *string   `json:"corrects_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
}
