package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/faeln1/membersync/internal/domain/tenant"
)

var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository stores tenant installations.
type TenantRepository interface {
	// Touch creates the tenant on first sight and otherwise refreshes
	// last_activity, marking it active. Empty labels never overwrite stored ones.
	Touch(ctx context.Context, in tenant.TouchInput) error
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	MostRecentlyActive(ctx context.Context) (*tenant.Tenant, error)
	SetStatus(ctx context.Context, id string, status tenant.Status, at time.Time) error
	Ping(ctx context.Context) error
}

type memoryTenantRepo struct {
	mu      sync.RWMutex
	tenants map[string]*tenant.Tenant
}

// NewInMemoryTenantRepo returns a TenantRepository kept in process memory.
func NewInMemoryTenantRepo() TenantRepository {
	return &memoryTenantRepo{tenants: make(map[string]*tenant.Tenant)}
}

func (r *memoryTenantRepo) Touch(ctx context.Context, in tenant.TouchInput) error {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return errors.New("tenant id is required")
	}
	at := in.At.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		r.tenants[id] = &tenant.Tenant{
			ID:           id,
			DisplayName:  in.DisplayName,
			Slug:         in.Slug,
			Status:       tenant.StatusActive,
			InstalledAt:  at,
			LastActivity: at,
		}
		return nil
	}
	if in.DisplayName != "" {
		t.DisplayName = in.DisplayName
	}
	if in.Slug != "" {
		t.Slug = in.Slug
	}
	t.Status = tenant.StatusActive
	t.LastActivity = at
	return nil
}

func (r *memoryTenantRepo) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (r *memoryTenantRepo) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *tenant.Tenant
	for _, t := range r.tenants {
		if t.Slug == "" || !strings.EqualFold(t.Slug, slug) {
			continue
		}
		if best == nil || t.LastActivity.After(best.LastActivity) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrTenantNotFound
	}
	c := *best
	return &c, nil
}

func (r *memoryTenantRepo) MostRecentlyActive(ctx context.Context) (*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *tenant.Tenant
	for _, t := range r.tenants {
		if t.Status != tenant.StatusActive {
			continue
		}
		if best == nil || t.LastActivity.After(best.LastActivity) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrTenantNotFound
	}
	c := *best
	return &c, nil
}

func (r *memoryTenantRepo) SetStatus(ctx context.Context, id string, status tenant.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Status = status
	t.LastActivity = at.UTC()
	return nil
}

func (r *memoryTenantRepo) Ping(ctx context.Context) error { return nil }
