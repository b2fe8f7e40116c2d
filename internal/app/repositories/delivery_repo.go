package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/faeln1/membersync/internal/domain/webhook"
)

const defaultDeliveryLimit = 50

// DeliveryRepository is the append-mostly webhook delivery log. Recording a
// delivery whose DeliveryID is already known updates that entry and bumps
// its attempt counter.
type DeliveryRepository interface {
	Record(ctx context.Context, d *webhook.Delivery) error
	List(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error)
}

type memoryDeliveryRepo struct {
	mu    sync.Mutex
	items []*webhook.Delivery
}

// NewInMemoryDeliveryRepo returns a DeliveryRepository kept in process memory.
func NewInMemoryDeliveryRepo() DeliveryRepository {
	return &memoryDeliveryRepo{}
}

func (r *memoryDeliveryRepo) Record(ctx context.Context, d *webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.DeliveryID != "" {
		for _, existing := range r.items {
			if existing.DeliveryID != d.DeliveryID {
				continue
			}
			attempts := existing.Attempts + 1
			id, received := existing.ID, existing.ReceivedAt
			*existing = *d
			existing.ID, existing.ReceivedAt, existing.Attempts = id, received, attempts
			d.ID, d.ReceivedAt, d.Attempts = id, received, attempts
			return nil
		}
	}
	if d.Attempts == 0 {
		d.Attempts = 1
	}
	c := *d
	r.items = append(r.items, &c)
	return nil
}

func (r *memoryDeliveryRepo) List(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webhook.Delivery, 0)
	for _, d := range r.items {
		if filter.TenantID != "" && d.TenantID != filter.TenantID {
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
