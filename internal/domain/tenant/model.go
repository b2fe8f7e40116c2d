package tenant

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Tenant is one community installation; members are isolated per tenant.
type Tenant struct {
	ID           string    `json:"tenant_id"`
	DisplayName  string    `json:"display_name"`
	Slug         string    `json:"slug,omitempty"`
	Status       Status    `json:"status"`
	InstalledAt  time.Time `json:"installed_at"`
	LastActivity time.Time `json:"last_activity"`
}

// TouchInput records activity for a tenant, creating it on first sight.
type TouchInput struct {
	ID          string
	DisplayName string
	Slug        string
	At          time.Time
}
