package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	hooks      map[int64]Webhook
	deliveries []Delivery
	nextID     int64
	listActive int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{hooks: map[int64]Webhook{}}
}

func (r *memoryRepo) List(ctx context.Context) ([]Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Webhook
	for _, h := range r.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListActive(ctx context.Context, eventType inventory.EventType) ([]Webhook, error) {
	r.mu.Lock()
	r.listActive++
	r.mu.Unlock()
	all, _ := r.List(ctx)
	var out []Webhook
	for _, h := range all {
		if h.IsActive && h.WebhookType == eventType {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return Webhook{}, shared.ErrNotFound
	}
	return h, nil
}

func (r *memoryRepo) Create(ctx context.Context, hook Webhook) (Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	hook.ID = r.nextID
	hook.CreatedAt = time.Now()
	hook.UpdatedAt = hook.CreatedAt
	r.hooks[hook.ID] = hook
	return hook, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, hook Webhook) (Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.hooks[id]
	if !ok {
		return Webhook{}, shared.ErrNotFound
	}
	hook.ID = id
	hook.CreatedAt = current.CreatedAt
	hook.UpdatedAt = time.Now()
	r.hooks[id] = hook
	return hook, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.hooks, id)
	return nil
}

func (r *memoryRepo) InsertDelivery(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	d.CreatedAt = time.Now()
	r.deliveries = append(r.deliveries, *d)
	return nil
}

func (r *memoryRepo) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.deliveries {
		if filter.WebhookID > 0 && d.WebhookID != filter.WebhookID {
			continue
		}
		if filter.EventType != "" && d.EventType != filter.EventType {
			continue
		}
		if filter.Success != nil && d.Success != *filter.Success {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (r *memoryRepo) recorded() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}
