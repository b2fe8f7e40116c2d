package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/metrics"
	"github.com/faeln1/membersync/internal/rules"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ResolveMode separates read paths, which may fall back to a guess, from
// write paths, which never do.
type ResolveMode int

const (
	ResolveForWrite ResolveMode = iota
	ResolveForRead
)

// Resolution sources, in priority order.
const (
	SourceHeader   = "header"
	SourceQuery    = "query"
	SourceBody     = "body"
	SourceReferer  = "referer"
	SourceFallback = "fallback"
)

// ResolveInput is everything the resolver may look at. Body is the decoded
// webhook root and may be nil.
type ResolveInput struct {
	Header  http.Header
	Query   url.Values
	Body    map[string]any
	Referer string
}

// Resolution is a resolved tenant plus the source that produced it.
type Resolution struct {
	TenantID string
	Source   string
}

// ResolveInputFromRequest collects headers, query and referer from r.
func ResolveInputFromRequest(r *http.Request, body map[string]any) ResolveInput {
	return ResolveInput{
		Header:  r.Header,
		Query:   r.URL.Query(),
		Body:    body,
		Referer: r.Referer(),
	}
}

// TenantResolver finds the tenant a request belongs to.
type TenantResolver struct {
	rules   rules.Provider
	tenants repositories.TenantRepository
	log     waLog.Logger
}

func NewTenantResolver(provider rules.Provider, tenants repositories.TenantRepository, log waLog.Logger) *TenantResolver {
	if log == nil {
		log = waLog.Noop
	}
	return &TenantResolver{rules: provider, tenants: tenants, log: log}
}

// Resolve walks headers, query, body and referer in that order. Read mode
// finally falls back to the most recently active tenant; write mode returns
// ErrTenantUnresolved instead.
func (r *TenantResolver) Resolve(ctx context.Context, in ResolveInput, mode ResolveMode) (Resolution, error) {
	set := r.rules.Rules()

	if candidate, source := r.candidate(set, in); candidate != "" {
		res := Resolution{TenantID: r.canonical(ctx, candidate), Source: source}
		metrics.TenantResolutions.WithLabelValues(res.Source).Inc()
		return res, nil
	}

	if mode == ResolveForRead && r.tenants != nil {
		t, err := r.tenants.MostRecentlyActive(ctx)
		switch {
		case err == nil:
			metrics.TenantResolutions.WithLabelValues(SourceFallback).Inc()
			return Resolution{TenantID: t.ID, Source: SourceFallback}, nil
		case !errors.Is(err, repositories.ErrTenantNotFound):
			return Resolution{}, err
		}
	}
	metrics.TenantResolutions.WithLabelValues("unresolved").Inc()
	return Resolution{}, ErrTenantUnresolved
}

func (r *TenantResolver) candidate(set *rules.Set, in ResolveInput) (string, string) {
	for _, name := range set.TenantHeaders {
		if v := strings.TrimSpace(in.Header.Get(name)); v != "" {
			return v, SourceHeader
		}
	}
	for _, name := range set.TenantQuery {
		if v := strings.TrimSpace(in.Query.Get(name)); v != "" {
			return v, SourceQuery
		}
	}
	if in.Body != nil {
		if v := firstString(in.Body, set.TenantBodyPaths); v != "" {
			return v, SourceBody
		}
	}
	if v := fromReferer(set, in.Referer); v != "" {
		return v, SourceReferer
	}
	return "", ""
}

// fromReferer tries each URL pattern in order and returns the first capture
// that is not a generic host segment.
func fromReferer(set *rules.Set, referer string) string {
	referer = strings.TrimSpace(referer)
	if referer == "" {
		return ""
	}
	for _, p := range set.RefererPatterns {
		for _, match := range p.Re.FindAllStringSubmatch(referer, -1) {
			if len(match) < 2 {
				continue
			}
			v := strings.TrimSpace(match[1])
			if v == "" || set.IsPlaceholder(v) {
				continue
			}
			return v
		}
	}
	return ""
}

// canonical maps a slug-form candidate to the stored tenant id when a tenant
// with that slug is known.
func (r *TenantResolver) canonical(ctx context.Context, candidate string) string {
	if r.tenants == nil {
		return candidate
	}
	t, err := r.tenants.FindBySlug(ctx, candidate)
	switch {
	case err == nil && t.ID != "":
		return t.ID
	case err != nil && !errors.Is(err, repositories.ErrTenantNotFound):
		r.log.Warnf("Slug lookup for %q failed, using it verbatim: %v", candidate, err)
	}
	return candidate
}
