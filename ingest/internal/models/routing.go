package models

import (
	"time"
)

// RecipientKind distinguishes the two routing tables.
type RecipientKind string

const (
	RecipientClientProfile RecipientKind = "client_profile"
	RecipientUser          RecipientKind = "user"
)

func (k RecipientKind) Valid() bool {
	return k == RecipientClientProfile || k == RecipientUser
}

// TargetingRule holds a recipient's industry, geography and cap preferences.
type TargetingRule struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspace_id"`
	RecipientID   string        `json:"recipient_id"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	Industries    []string      `json:"industries"`
	States        []string      `json:"states"`
	Cities        []string      `json:"cities"`
	PostalCodes   []string      `json:"postal_codes"`
	DailyCap      *int          `json:"daily_cap,omitempty"`
	WeeklyCap     *int          `json:"weekly_cap,omitempty"`
	MonthlyCap    *int          `json:"monthly_cap,omitempty"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// CapWindow is one rolling window a cap is counted over.
type CapWindow struct {
	Name   string
	Period time.Duration
	Limit  int
}

// CapWindows lists the configured caps of r.
func (r *TargetingRule) CapWindows() []CapWindow {
	var out []CapWindow
	add := func(name string, period time.Duration, limit *int) {
		if limit != nil {
			out = append(out, CapWindow{Name: name, Period: period, Limit: *limit})
		}
	}
	add("daily", 24*time.Hour, r.DailyCap)
	add("weekly", 7*24*time.Hour, r.WeeklyCap)
	add("monthly", 30*24*time.Hour, r.MonthlyCap)
	return out
}

// RoutingAssignment records that a lead was routed to a recipient.
// Unique per (lead, recipient).
type RoutingAssignment struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspace_id"`
	LeadID        string        `json:"lead_id"`
	RecipientID   string        `json:"recipient_id"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	MatchedAt     time.Time     `json:"matched_at"`
}

// AssignOutcome is the result of trying to assign a lead to one recipient.
type AssignOutcome string

const (
	OutcomeAssigned        AssignOutcome = "assigned"
	OutcomeCapped          AssignOutcome = "capped"
	OutcomeAlreadyAssigned AssignOutcome = "already_assigned"
)
