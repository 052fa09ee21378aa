package models

import (
	"strings"
	"time"
)

type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentCompleted EnrichmentStatus = "completed"
	EnrichmentFailed    EnrichmentStatus = "failed"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Lead is the canonical record produced by normalization.
// Leads are unique per workspace by lower-cased email and are never deleted.
type Lead struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`

	CompanyName     string `json:"company_name,omitempty"`
	CompanyDomain   string `json:"company_domain,omitempty"`
	CompanyIndustry string `json:"company_industry,omitempty"`
	CompanySize     string `json:"company_size,omitempty"`

	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`

	Source           Source           `json:"source"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	DeliveryStatus   DeliveryStatus   `json:"delivery_status"`
	PartnerID        *string          `json:"partner_id,omitempty"`
	RawExtras        map[string]any   `json:"raw_extras,omitempty"`
	Eligible         bool             `json:"eligible"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// HasIdentity reports whether the lead can be matched to a person or company.
func (l *Lead) HasIdentity() bool {
	return l.Email != "" || l.Phone != "" || l.CompanyDomain != ""
}

// IdentityKey is the per-workspace dedup key, empty when the lead has no email.
func (l *Lead) IdentityKey() string {
	return strings.ToLower(strings.TrimSpace(l.Email))
}

// MergeFrom overwrites non-identity fields with the non-empty values of newer.
// Identity (id, workspace, email, created_at), delivery state and an existing
// partner attribution are kept.
func (l *Lead) MergeFrom(newer *Lead) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&l.FirstName, newer.FirstName)
	set(&l.LastName, newer.LastName)
	set(&l.FullName, newer.FullName)
	set(&l.Phone, newer.Phone)
	set(&l.LinkedInURL, newer.LinkedInURL)
	set(&l.CompanyName, newer.CompanyName)
	set(&l.CompanyDomain, newer.CompanyDomain)
	set(&l.CompanyIndustry, newer.CompanyIndustry)
	set(&l.CompanySize, newer.CompanySize)
	set(&l.City, newer.City)
	set(&l.State, newer.State)
	set(&l.PostalCode, newer.PostalCode)
	set(&l.Country, newer.Country)

	l.Source = newer.Source
	if l.PartnerID == nil && newer.PartnerID != nil {
		l.PartnerID = newer.PartnerID
	}
	if len(newer.RawExtras) > 0 {
		if l.RawExtras == nil {
			l.RawExtras = make(map[string]any, len(newer.RawExtras))
		}
		for k, v := range newer.RawExtras {
			l.RawExtras[k] = v
		}
	}
	l.Eligible = l.HasIdentity()
	l.UpdatedAt = newer.UpdatedAt
}
