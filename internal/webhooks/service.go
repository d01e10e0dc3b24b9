package webhooks

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
)

// Service manages subscriptions.
type Service struct {
	repo   Repository
	cache  *SubscriptionCache
	logger *slog.Logger
}

// NewService constructs the service. cache may be nil.
func NewService(repo Repository, cache *SubscriptionCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Webhook, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Webhook, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, form WebhookForm) (Webhook, error) {
	hook, err := form.toWebhook()
	if err != nil {
		return Webhook{}, err
	}
	created, err := s.repo.Create(ctx, hook)
	if err != nil {
		return Webhook{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, form WebhookForm) (Webhook, error) {
	hook, err := form.toWebhook()
	if err != nil {
		return Webhook{}, err
	}
	updated, err := s.repo.Update(ctx, id, hook)
	if err != nil {
		return Webhook{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ActiveSubscriptions returns active webhooks for eventType.
func (s *Service) ActiveSubscriptions(ctx context.Context, eventType inventory.EventType) ([]Webhook, error) {
	return s.cache.Active(ctx, eventType, func(ctx context.Context) ([]Webhook, error) {
		return s.repo.ListActive(ctx, eventType)
	})
}

// ListDeliveries returns the delivery log.
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int, error) {
	return s.repo.ListDeliveries(ctx, filter)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("webhook cache invalidation failed", slog.Any("error", err))
	}
}
