package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/faeln1/membersync/internal/domain/tenant"
	"github.com/faeln1/membersync/internal/domain/webhook"
	"github.com/faeln1/membersync/internal/metrics"
	"github.com/faeln1/membersync/internal/rules"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const defaultEnrichTimeout = 3 * time.Second

// Enricher fetches the platform's own record for a member. Any error means
// "no enrichment available".
type Enricher interface {
	Membership(ctx context.Context, membershipID string) (map[string]any, error)
	Member(ctx context.Context, memberID string) (map[string]any, error)
}

// ApplyResult describes what one event did.
type ApplyResult struct {
	Transition   member.Transition
	Outcome      member.Outcome
	MemberID     string
	MembershipID string
	// Stale is set when a newer event was already applied to the row.
	Stale bool
}

// MembershipEngine turns loosely shaped membership events into idempotent
// member writes.
type MembershipEngine struct {
	members       repositories.MemberRepository
	tenants       repositories.TenantRepository
	rules         rules.Provider
	enricher      Enricher
	enrichTimeout time.Duration
	now           func() time.Time
	log           waLog.Logger
}

type EngineOption func(*MembershipEngine)

// WithEnricher adds a secondary platform lookup awaited before each write.
func WithEnricher(e Enricher, timeout time.Duration) EngineOption {
	return func(m *MembershipEngine) {
		m.enricher = e
		if timeout > 0 {
			m.enrichTimeout = timeout
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(m *MembershipEngine) { m.now = now }
}

func NewMembershipEngine(members repositories.MemberRepository, tenants repositories.TenantRepository, provider rules.Provider, log waLog.Logger, opts ...EngineOption) *MembershipEngine {
	if log == nil {
		log = waLog.Noop
	}
	e := &MembershipEngine{
		members:       members,
		tenants:       tenants,
		rules:         provider,
		enrichTimeout: defaultEnrichTimeout,
		now:           time.Now,
		log:           log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyMembershipEvent applies one event for tenantID and reports its outcome.
func (e *MembershipEngine) ApplyMembershipEvent(ctx context.Context, tenantID, eventKind string, env *webhook.Envelope) (member.Outcome, error) {
	res, err := e.Apply(ctx, tenantID, eventKind, env)
	return res.Outcome, err
}

// Apply is ApplyMembershipEvent with the extracted identity attached.
func (e *MembershipEngine) Apply(ctx context.Context, tenantID, eventKind string, env *webhook.Envelope) (ApplyResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ApplyResult{}, ErrTenantUnresolved
	}
	if env == nil || env.Data == nil {
		return ApplyResult{}, ErrMalformedPayload
	}

	set := e.rules.Rules()
	transition := set.Transition(eventKind)

	var (
		res ApplyResult
		err error
	)
	switch transition {
	case member.TransitionValid, member.TransitionUpdated:
		res, err = e.upsert(ctx, set, tenantID, transition, env)
	case member.TransitionInvalid:
		res, err = e.deactivate(ctx, set, tenantID, env)
	default:
		e.log.Infof("Ignoring event kind %q for tenant %s", eventKind, tenantID)
		res = ApplyResult{Outcome: member.OutcomeIgnored}
	}
	res.Transition = transition
	if err == nil {
		label := string(transition)
		if label == "" {
			label = "none"
		}
		metrics.MembershipOutcomes.WithLabelValues(label, string(res.Outcome)).Inc()
	}
	return res, err
}

func (e *MembershipEngine) upsert(ctx context.Context, set *rules.Set, tenantID string, transition member.Transition, env *webhook.Envelope) (ApplyResult, error) {
	now := e.now().UTC()
	ext := extractMember(set, env.Data)
	res := ApplyResult{MemberID: ext.MemberID, MembershipID: ext.MembershipID}
	if ext.MemberID == "" {
		e.log.Warnf("Dropping %s event for tenant %s: no member id in payload", transition, tenantID)
		return res, fmt.Errorf("%w: member id", ErrMissingIdentity)
	}
	eventMs := eventTime(set, env, now).UnixMilli()

	existing, err := e.findExisting(ctx, tenantID, &ext)
	if err != nil {
		return res, err
	}
	res.MembershipID = ext.MembershipID
	if existing == nil && transition == member.TransitionUpdated {
		e.log.Infof("Ignoring update for unknown member %s in tenant %s", ext.MemberID, tenantID)
		res.Outcome = member.OutcomeIgnored
		return res, nil
	}
	if existing != nil && existing.LastEventMs > eventMs {
		e.log.Infof("Skipping stale %s event for member %s in tenant %s", transition, ext.MemberID, tenantID)
		res.Outcome, res.Stale = member.OutcomeIgnored, true
		return res, nil
	}

	e.enrich(ctx, set, &ext)

	status := member.StatusActive
	customFields := ext.CustomFields
	joinedAt := now
	target := member.ConflictOnMember
	if existing != nil {
		if transition == member.TransitionUpdated {
			status = existing.Status
		}
		customFields = mergeFields(existing.CustomFields, ext.CustomFields)
		joinedAt = existing.JoinedAt
		if ext.MembershipID != "" && member.Deref(existing.MembershipID) == ext.MembershipID {
			target = member.ConflictOnMembership
		}
	}
	if ext.JoinedAt != nil {
		joinedAt = *ext.JoinedAt
	}

	if err := e.touchTenant(ctx, set, tenantID, env, now); err != nil {
		return res, err
	}

	row := member.Member{
		TenantID:     tenantID,
		MemberID:     ext.MemberID,
		MembershipID: member.StringPtr(ext.MembershipID),
		Email:        member.StringPtr(ext.Email),
		DisplayName:  member.StringPtr(ext.DisplayName),
		Username:     member.StringPtr(ext.Username),
		AvatarURL:    member.StringPtr(ext.AvatarURL),
		CustomFields: customFields,
		Status:       status,
		JoinedAt:     joinedAt,
		LastEventMs:  eventMs,
		UpdatedAt:    now,
	}
	if existing != nil {
		// Membership-keyed rows keep their stored member id.
		row.MemberID = existing.MemberID
	}
	applied, err := e.members.Upsert(ctx, member.UpsertInput{Member: row, ExplicitJoinedAt: ext.JoinedAt, Target: target})
	if err != nil {
		return res, fmt.Errorf("upsert member %s: %w", ext.MemberID, err)
	}
	switch {
	case !applied:
		res.Outcome, res.Stale = member.OutcomeIgnored, true
	case existing == nil:
		res.Outcome = member.OutcomeCreated
	default:
		res.Outcome = member.OutcomeUpdated
	}
	return res, nil
}

func (e *MembershipEngine) deactivate(ctx context.Context, set *rules.Set, tenantID string, env *webhook.Envelope) (ApplyResult, error) {
	now := e.now().UTC()
	ext := extractedMember{
		MemberID:     firstString(env.Data, set.Candidates(rules.FieldMemberID)),
		MembershipID: firstString(env.Data, set.Candidates(rules.FieldMembershipID)),
	}
	res := ApplyResult{MemberID: ext.MemberID, MembershipID: ext.MembershipID}
	if ext.MemberID == "" && ext.MembershipID == "" {
		e.log.Warnf("Dropping invalidation for tenant %s: no member or membership id", tenantID)
		return res, fmt.Errorf("%w: member id or membership id", ErrMissingIdentity)
	}
	eventMs := eventTime(set, env, now).UnixMilli()

	existing, err := e.findExisting(ctx, tenantID, &ext)
	if err != nil {
		return res, err
	}
	if existing == nil {
		e.log.Infof("Ignoring invalidation for unknown member %s/%s in tenant %s", ext.MemberID, ext.MembershipID, tenantID)
		res.Outcome = member.OutcomeIgnored
		return res, nil
	}
	res.MemberID, res.MembershipID = existing.MemberID, member.Deref(existing.MembershipID)
	if existing.LastEventMs > eventMs {
		e.log.Infof("Skipping stale invalidation for member %s in tenant %s", existing.MemberID, tenantID)
		res.Outcome, res.Stale = member.OutcomeIgnored, true
		return res, nil
	}

	if err := e.touchTenant(ctx, set, tenantID, env, now); err != nil {
		return res, err
	}
	applied, err := e.members.Deactivate(ctx, member.DeactivateInput{
		TenantID: existing.TenantID,
		MemberID: existing.MemberID,
		EventMs:  eventMs,
		At:       now,
	})
	if err != nil {
		return res, fmt.Errorf("deactivate member %s: %w", existing.MemberID, err)
	}
	if !applied {
		res.Outcome, res.Stale = member.OutcomeIgnored, true
		return res, nil
	}
	res.Outcome = member.OutcomeDeactivated
	return res, nil
}

// findExisting looks the member up by membership id first, then by
// (tenant, member). A membership id already owned by another tenant is
// dropped from ext so the write cannot touch that tenant's row.
func (e *MembershipEngine) findExisting(ctx context.Context, tenantID string, ext *extractedMember) (*member.Member, error) {
	if ext.MembershipID != "" {
		m, err := e.members.FindByMembership(ctx, ext.MembershipID)
		switch {
		case err == nil && m.TenantID == tenantID:
			return m, nil
		case err == nil:
			e.log.Warnf("Membership %s belongs to tenant %s, not %s; ignoring it", ext.MembershipID, m.TenantID, tenantID)
			ext.MembershipID = ""
		case !errors.Is(err, repositories.ErrMemberNotFound):
			return nil, fmt.Errorf("find membership %s: %w", ext.MembershipID, err)
		}
	}
	if ext.MemberID == "" {
		return nil, nil
	}
	m, err := e.members.FindByMember(ctx, tenantID, ext.MemberID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find member %s: %w", ext.MemberID, err)
	}
	return m, nil
}

// enrich fills gaps from the platform API. Failures only cost the extra data.
func (e *MembershipEngine) enrich(ctx context.Context, set *rules.Set, ext *extractedMember) {
	if e.enricher == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, e.enrichTimeout)
	defer cancel()

	var (
		detail map[string]any
		err    error
	)
	if ext.MembershipID != "" {
		detail, err = e.enricher.Membership(cctx, ext.MembershipID)
	} else {
		detail, err = e.enricher.Member(cctx, ext.MemberID)
	}
	if err != nil {
		metrics.EnrichmentRequests.WithLabelValues("error").Inc()
		e.log.Warnf("Enrichment unavailable for member %s: %v", ext.MemberID, err)
		return
	}
	if len(detail) == 0 {
		metrics.EnrichmentRequests.WithLabelValues("empty").Inc()
		return
	}
	metrics.EnrichmentRequests.WithLabelValues("ok").Inc()
	ext.fillFrom(extractMember(set, detail))
}

func (e *MembershipEngine) touchTenant(ctx context.Context, set *rules.Set, tenantID string, env *webhook.Envelope, at time.Time) error {
	if e.tenants == nil {
		return nil
	}
	name, slug := tenantDetails(set, env)
	if err := e.tenants.Touch(ctx, tenant.TouchInput{ID: tenantID, DisplayName: name, Slug: slug, At: at}); err != nil {
		return fmt.Errorf("touch tenant %s: %w", tenantID, err)
	}
	return nil
}
