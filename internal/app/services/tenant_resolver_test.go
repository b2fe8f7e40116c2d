package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/domain/tenant"
	"github.com/faeln1/membersync/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slugFailingTenants struct {
	repositories.TenantRepository
}

func (slugFailingTenants) FindBySlug(context.Context, string) (*tenant.Tenant, error) {
	return nil, errors.New("connection reset")
}

func newResolver(t *testing.T) (*TenantResolver, repositories.TenantRepository) {
	t.Helper()
	tenants := repositories.NewInMemoryTenantRepo()
	return NewTenantResolver(rules.Static(rules.MustDefault()), tenants, nil), tenants
}

func TestResolvePriority(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	h := http.Header{}
	h.Set("X-Tenant-ID", "biz_header")
	in := ResolveInput{
		Header:  h,
		Query:   url.Values{"tenant_id": {"biz_query"}},
		Body:    map[string]any{"company_id": "biz_body"},
		Referer: "https://acme.whop.com/",
	}

	res, err := r.Resolve(ctx, in, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "biz_header", Source: SourceHeader}, res)

	in.Header = http.Header{}
	res, err = r.Resolve(ctx, in, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "biz_query", Source: SourceQuery}, res)

	in.Query = nil
	res, err = r.Resolve(ctx, in, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "biz_body", Source: SourceBody}, res)

	in.Body = nil
	res, err = r.Resolve(ctx, in, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "acme", Source: SourceReferer}, res)
}

func TestResolveBodyContainersOutermostFirst(t *testing.T) {
	r, _ := newResolver(t)
	body := map[string]any{
		"data": map[string]any{
			"company_id": "biz_data",
			"product":    map[string]any{"company_id": "biz_product"},
		},
	}
	res, err := r.Resolve(context.Background(), ResolveInput{Body: body}, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, "biz_data", res.TenantID)

	body = map[string]any{"data": map[string]any{"page": map[string]any{"company": map[string]any{"id": "biz_nested"}}}}
	res, err = r.Resolve(context.Background(), ResolveInput{Body: body}, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, "biz_nested", res.TenantID)
}

func TestFromReferer(t *testing.T) {
	set := rules.MustDefault()
	cases := map[string]string{
		"https://acme.whop.com/hub":                   "acme",
		"https://www.whop.com/hub/biz_42/app":         "biz_42",
		"https://whop.com/dashboard?company_id=b_7":   "b_7",
		"https://example.com/x/biz_abc123/y":          "biz_abc123",
		"https://localhost:3000/members/auto":         "",
		"https://app.example.com/directory/dashboard": "",
		"":                                            "",
	}
	for referer, want := range cases {
		assert.Equal(t, want, fromReferer(set, referer), referer)
	}
}

func TestResolveMapsSlugToStoredTenant(t *testing.T) {
	r, tenants := newResolver(t)
	ctx := context.Background()
	require.NoError(t, tenants.Touch(ctx, tenant.TouchInput{ID: "biz_1", Slug: "acme", At: time.Now()}))

	res, err := r.Resolve(ctx, ResolveInput{Referer: "https://acme.whop.com/"}, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "biz_1", Source: SourceReferer}, res)
}

func TestResolveSlugLookupFailureUsesCandidate(t *testing.T) {
	tenants := slugFailingTenants{repositories.NewInMemoryTenantRepo()}
	r := NewTenantResolver(rules.Static(rules.MustDefault()), tenants, nil)

	res, err := r.Resolve(context.Background(), ResolveInput{Query: url.Values{"company": {"acme"}}}, ResolveForWrite)
	require.NoError(t, err)
	assert.Equal(t, "acme", res.TenantID)
}

func TestResolveWriteModeNeverGuesses(t *testing.T) {
	r, tenants := newResolver(t)
	ctx := context.Background()
	require.NoError(t, tenants.Touch(ctx, tenant.TouchInput{ID: "biz_1", At: time.Now()}))

	_, err := r.Resolve(ctx, ResolveInput{Referer: "https://localhost:3000/members/auto"}, ResolveForWrite)
	assert.ErrorIs(t, err, ErrTenantUnresolved)
}

func TestResolveReadModeFallsBackToMostRecentActive(t *testing.T) {
	r, tenants := newResolver(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tenants.Touch(ctx, tenant.TouchInput{ID: "biz_old", At: base}))
	require.NoError(t, tenants.Touch(ctx, tenant.TouchInput{ID: "biz_new", At: base.Add(time.Hour)}))
	require.NoError(t, tenants.Touch(ctx, tenant.TouchInput{ID: "biz_gone", At: base.Add(2 * time.Hour)}))
	require.NoError(t, tenants.SetStatus(ctx, "biz_gone", tenant.StatusInactive, base.Add(3*time.Hour)))

	res, err := r.Resolve(ctx, ResolveInput{}, ResolveForRead)
	require.NoError(t, err)
	assert.Equal(t, Resolution{TenantID: "biz_new", Source: SourceFallback}, res)
}

func TestResolveReadModeWithoutTenants(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), ResolveInput{}, ResolveForRead)
	assert.ErrorIs(t, err, ErrTenantUnresolved)
}

func TestResolveInputFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/members/auto?company_id=biz_q", nil)
	req.Header.Set("Referer", "https://acme.whop.com/")
	in := ResolveInputFromRequest(req, nil)
	assert.Equal(t, "biz_q", in.Query.Get("company_id"))
	assert.Equal(t, "https://acme.whop.com/", in.Referer)
}
