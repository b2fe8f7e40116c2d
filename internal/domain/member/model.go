package member

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus accepts the directory query values; empty means "no filter".
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case "":
		return "", true
	case StatusActive, StatusInactive:
		return Status(raw), true
	default:
		return "", false
	}
}

// Transition is the canonical effect an event kind has on a membership.
type Transition string

const (
	TransitionNone        Transition = ""
	TransitionValid       Transition = "valid"
	TransitionInvalid     Transition = "invalid"
	TransitionUpdated     Transition = "updated"
	TransitionInstalled   Transition = "installed"
	TransitionUninstalled Transition = "uninstalled"
)

// Outcome reports what an applied event did to the stored member row.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeUpdated     Outcome = "updated"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeIgnored     Outcome = "ignored"
)

// ConflictTarget selects the unique key an upsert resolves against.
type ConflictTarget int

const (
	ConflictOnMember ConflictTarget = iota
	ConflictOnMembership
)

// Member is one end-user's relationship to a tenant.
type Member struct {
	TenantID     string         `json:"tenant_id"`
	MemberID     string         `json:"member_id"`
	MembershipID *string        `json:"membership_id"`
	Email        *string        `json:"email"`
	DisplayName  *string        `json:"display_name"`
	Username     *string        `json:"username"`
	AvatarURL    *string        `json:"avatar_url"`
	CustomFields map[string]any `json:"custom_fields"`
	Status       Status         `json:"status"`
	JoinedAt     time.Time      `json:"joined_at"`
	LastEventMs  int64          `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// UpsertInput carries a normalized member plus the write-only hints the store needs.
type UpsertInput struct {
	Member Member
	// ExplicitJoinedAt is set only when the payload carried a plausible join time;
	// refreshes keep the stored value otherwise.
	ExplicitJoinedAt *time.Time
	Target           ConflictTarget
}

// DeactivateInput identifies the row to flip to inactive.
type DeactivateInput struct {
	TenantID string
	MemberID string
	EventMs  int64
	At       time.Time
}

// Stats aggregates directory counts for one tenant.
type Stats struct {
	TenantID string `json:"tenant_id"`
	Total    int    `json:"total"`
	Active   int    `json:"active"`
	Inactive int    `json:"inactive"`
}

// StringPtr returns nil for empty strings so optional columns stay NULL.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Deref returns the pointed-to value or "".
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
