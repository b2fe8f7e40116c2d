package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/faeln1/membersync/internal/domain/tenant"
	"github.com/faeln1/membersync/internal/domain/webhook"
	"github.com/faeln1/membersync/internal/metrics"
	"github.com/faeln1/membersync/internal/rules"
	"github.com/faeln1/membersync/pkg/eventlog"
	"github.com/faeln1/membersync/pkg/storage"
	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ErrSignature wraps every signature verification failure.
var ErrSignature = errors.New("webhook signature rejected")

// Result statuses returned to the sender.
const (
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
)

var deliveryIDHeaders = []string{"webhook-id", "X-Webhook-Id", "X-Delivery-Id"}

// SignatureVerifier checks a raw body against its signature headers.
type SignatureVerifier interface {
	Verify(h http.Header, body []byte) error
}

// WebhookRequest is an inbound delivery as the transport saw it.
type WebhookRequest struct {
	Body       []byte
	Header     http.Header
	Query      url.Values
	Referer    string
	// PathKind is the event kind named in the request path, used when the
	// body carries none.
	PathKind   string
	ReceivedAt time.Time
}

// WebhookResult is reported back to the sender.
type WebhookResult struct {
	Status       string `json:"status"`
	Outcome      string `json:"outcome"`
	EventKind    string `json:"event,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	MemberID     string `json:"member_id,omitempty"`
	MembershipID string `json:"membership_id,omitempty"`
	DeliveryID   string `json:"delivery_id,omitempty"`
}

// WebhookService runs one delivery through signature check, parsing, tenant
// resolution and the membership engine, then records it.
type WebhookService struct {
	verifier   SignatureVerifier
	rules      rules.Provider
	resolver   *TenantResolver
	engine     *MembershipEngine
	tenants    repositories.TenantRepository
	deliveries repositories.DeliveryRepository
	events     *eventlog.Writer
	archive    storage.Service
	forwarder  MemberEventsDispatcher
	log        waLog.Logger
}

// WebhookDeps groups the collaborators; only Rules, Resolver and Engine are required.
type WebhookDeps struct {
	Verifier   SignatureVerifier
	Rules      rules.Provider
	Resolver   *TenantResolver
	Engine     *MembershipEngine
	Tenants    repositories.TenantRepository
	Deliveries repositories.DeliveryRepository
	Events     *eventlog.Writer
	Archive    storage.Service
	Forwarder  MemberEventsDispatcher
}

func NewWebhookService(deps WebhookDeps, log waLog.Logger) *WebhookService {
	if log == nil {
		log = waLog.Noop
	}
	return &WebhookService{
		verifier:   deps.Verifier,
		rules:      deps.Rules,
		resolver:   deps.Resolver,
		engine:     deps.Engine,
		tenants:    deps.Tenants,
		deliveries: deps.Deliveries,
		events:     deps.Events,
		archive:    deps.Archive,
		forwarder:  deps.Forwarder,
		log:        log,
	}
}

func (s *WebhookService) Handle(ctx context.Context, req WebhookRequest) (result WebhookResult, err error) {
	started := time.Now()
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = started.UTC()
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	sum := sha256.Sum256(req.Body)
	delivery := &webhook.Delivery{
		ID:            uuid.NewString(),
		DeliveryID:    deliveryID(req.Header),
		PayloadSHA256: hex.EncodeToString(sum[:]),
		ReceivedAt:    req.ReceivedAt.UTC(),
		UpdatedAt:     req.ReceivedAt.UTC(),
	}
	result.DeliveryID = delivery.DeliveryID

	defer func() {
		metrics.WebhookDuration.Observe(float64(time.Since(started).Microseconds()) / 1000)
		s.record(ctx, delivery, result, err)
	}()

	if s.verifier != nil {
		if verr := s.verifier.Verify(req.Header, req.Body); verr != nil {
			metrics.SignatureFailures.Inc()
			s.log.Warnf("Rejecting webhook %s: %v", delivery.DeliveryID, verr)
			// An unverified id must not key the log, or it could overwrite a real delivery.
			delivery.DeliveryID = ""
			return result, fmt.Errorf("%w: %v", ErrSignature, verr)
		}
		delivery.SignatureValid = true
	}

	set := s.rules.Rules()
	env, perr := webhook.Parse(req.Body, set.KindFields)
	if perr != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformedPayload, perr)
	}
	if env.Kind == "" && req.PathKind != "" {
		env.Kind = req.PathKind
		if env.Shape == webhook.ShapeUnknown {
			env.Shape = webhook.ShapeFlat
		}
	}
	result.EventKind = env.Kind
	delivery.EventKind = env.Kind
	transition := set.Transition(env.Kind)

	res, rerr := s.resolver.Resolve(ctx, ResolveInput{
		Header:  req.Header,
		Query:   req.Query,
		Body:    env.Root,
		Referer: req.Referer,
	}, ResolveForWrite)
	if rerr == nil {
		result.TenantID = res.TenantID
		delivery.TenantID = res.TenantID
	}
	s.archiveBody(ctx, env.Kind, result.TenantID, delivery.DeliveryID, req)

	if transition == member.TransitionNone {
		s.log.Infof("Ignoring unrecognised event kind %q (%s payload)", env.Kind, env.Shape)
		result.Status, result.Outcome = StatusIgnored, string(member.OutcomeIgnored)
		return result, nil
	}
	if rerr != nil {
		s.log.Warnf("Rejecting %s webhook: %v", env.Kind, rerr)
		return result, rerr
	}

	switch transition {
	case member.TransitionInstalled, member.TransitionUninstalled:
		outcome, lerr := s.applyLifecycle(ctx, set, res.TenantID, transition, env, req.ReceivedAt)
		if lerr != nil {
			return result, lerr
		}
		result.Status, result.Outcome = StatusProcessed, outcome
		return result, nil
	}

	applied, aerr := s.engine.Apply(ctx, res.TenantID, env.Kind, env)
	result.MemberID, result.MembershipID = applied.MemberID, applied.MembershipID
	if aerr != nil {
		return result, aerr
	}
	result.Outcome = string(applied.Outcome)
	result.Status = StatusProcessed
	if applied.Outcome == member.OutcomeIgnored {
		result.Status = StatusIgnored
	}
	if applied.Outcome.Changed() {
		s.forward(ctx, result, req.ReceivedAt)
	}
	return result, nil
}

// forward notifies the downstream webhook; failures are logged only.
func (s *WebhookService) forward(ctx context.Context, result WebhookResult, at time.Time) {
	if s.forwarder == nil {
		return
	}
	event := member.ChangeEvent{
		Timestamp:    at.UTC(),
		TenantID:     result.TenantID,
		Action:       member.Outcome(result.Outcome),
		MemberID:     result.MemberID,
		MembershipID: result.MembershipID,
		EventKind:    result.EventKind,
		DeliveryID:   result.DeliveryID,
	}
	if err := s.forwarder.Dispatch(ctx, []member.ChangeEvent{event}); err != nil {
		s.log.Warnf("Member events webhook failed for %s/%s: %v", result.TenantID, result.MemberID, err)
	}
}

// applyLifecycle handles app install and uninstall events on the tenant row.
func (s *WebhookService) applyLifecycle(ctx context.Context, set *rules.Set, tenantID string, transition member.Transition, env *webhook.Envelope, at time.Time) (string, error) {
	if s.tenants == nil {
		return string(member.OutcomeIgnored), nil
	}
	name, slug := tenantDetails(set, env)
	if err := s.tenants.Touch(ctx, tenant.TouchInput{ID: tenantID, DisplayName: name, Slug: slug, At: at}); err != nil {
		return "", fmt.Errorf("touch tenant %s: %w", tenantID, err)
	}
	if transition == member.TransitionInstalled {
		s.log.Infof("Tenant %s installed", tenantID)
		return webhook.OutcomeInstalled, nil
	}
	if err := s.tenants.SetStatus(ctx, tenantID, tenant.StatusInactive, at); err != nil {
		return "", fmt.Errorf("deactivate tenant %s: %w", tenantID, err)
	}
	s.log.Infof("Tenant %s uninstalled", tenantID)
	return webhook.OutcomeUninstalled, nil
}

// Deliveries lists the delivery log.
func (s *WebhookService) Deliveries(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	if s.deliveries == nil {
		return []webhook.Delivery{}, nil
	}
	return s.deliveries.List(ctx, filter)
}

func (s *WebhookService) record(ctx context.Context, d *webhook.Delivery, result WebhookResult, err error) {
	d.MemberID, d.MembershipID = result.MemberID, result.MembershipID
	d.Outcome = result.Outcome
	if err != nil {
		d.Outcome = webhook.OutcomeRejected
		d.Error = err.Error()
	}
	if s.deliveries == nil {
		return
	}
	// The request context may already be cancelled by the time we get here.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if rerr := s.deliveries.Record(rctx, d); rerr != nil {
		s.log.Warnf("Failed to record webhook delivery %s: %v", d.ID, rerr)
	}
}

func (s *WebhookService) archiveBody(ctx context.Context, kind, tenantID, deliveryID string, req WebhookRequest) {
	if s.events.Enabled() {
		if _, err := s.events.Write(eventlog.Entry{
			EventKind:  kind,
			TenantID:   tenantID,
			DeliveryID: deliveryID,
			ReceivedAt: req.ReceivedAt,
			Body:       req.Body,
		}); err != nil {
			s.log.Warnf("Failed to write event log: %v", err)
		}
	}
	if s.archive == nil {
		return
	}
	key := storage.WebhookKey(tenantID, deliveryID, req.ReceivedAt)
	if _, err := s.archive.PutObject(ctx, storage.UploadInput{
		Key:         key,
		ContentType: "application/json",
		Body:        bytes.NewReader(req.Body),
		Size:        int64(len(req.Body)),
	}); err != nil {
		s.log.Warnf("Failed to archive webhook %s: %v", key, err)
	}
}

func deliveryID(h http.Header) string {
	for _, name := range deliveryIDHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
