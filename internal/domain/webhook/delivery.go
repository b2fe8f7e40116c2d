package webhook

import "time"

// Delivery outcomes recorded in addition to the member outcomes.
const (
	OutcomeRejected    = "rejected"
	OutcomeInstalled   = "installed"
	OutcomeUninstalled = "uninstalled"
)

// Delivery is one received webhook as recorded in the delivery log.
type Delivery struct {
	ID             string    `json:"id"`
	DeliveryID     string    `json:"delivery_id,omitempty"`
	EventKind      string    `json:"event_kind"`
	TenantID       string    `json:"tenant_id,omitempty"`
	MemberID       string    `json:"member_id,omitempty"`
	MembershipID   string    `json:"membership_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	PayloadSHA256  string    `json:"payload_sha256"`
	SignatureValid bool      `json:"signature_valid"`
	Attempts       int       `json:"attempts"`
	ReceivedAt     time.Time `json:"received_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeliveryFilter narrows a delivery log listing.
type DeliveryFilter struct {
	TenantID string
	Limit    int
}
