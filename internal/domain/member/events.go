package member

import "time"

// ChangeEvent is forwarded downstream whenever a webhook changes a member row.
type ChangeEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	TenantID     string    `json:"tenant_id"`
	Action       Outcome   `json:"action"`
	MemberID     string    `json:"member_id"`
	MembershipID string    `json:"membership_id,omitempty"`
	EventKind    string    `json:"event"`
	DeliveryID   string    `json:"delivery_id,omitempty"`
}

// Changed reports whether an outcome altered stored state.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeDeactivated:
		return true
	default:
		return false
	}
}
