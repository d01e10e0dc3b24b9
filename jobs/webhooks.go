package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
	"github.com/odyssey-erp/odyssey-wms/internal/webhooks"
)

// SubscriptionSource resolves active subscriptions for an event type.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context, eventType inventory.EventType) ([]webhooks.Webhook, error)
	Get(ctx context.Context, id int64) (webhooks.Webhook, error)
}

// DeliveryClient performs one delivery attempt.
type DeliveryClient interface {
	Deliver(ctx context.Context, hook webhooks.Webhook, env webhooks.Envelope, attempt int) (webhooks.Delivery, error)
}

// WebhookFanoutJob expands one envelope into one delivery task per active subscription.
type WebhookFanoutJob struct {
	Subscriptions SubscriptionSource
	Enqueuer      webhooks.Enqueuer
	MaxRetry      int
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// Handle processes webhooks.TaskFanout tasks.
func (j *WebhookFanoutJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Subscriptions == nil || j.Enqueuer == nil {
		return errors.New("webhook fanout: handler not configured")
	}
	var payload webhooks.FanoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("webhook fanout: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(webhooks.TaskFanout)
	defer func() { err = tracker.End(err) }()

	eventType := payload.Envelope.EventType
	logger := loggerOrDefault(j.Logger).With(slog.String("event_type", string(eventType)))
	hooks, err := j.Subscriptions.ActiveSubscriptions(ctx, eventType)
	if err != nil {
		logger.Error("load subscriptions", slog.Any("error", err))
		return err
	}
	for _, hook := range hooks {
		task, err := webhooks.NewDeliverTask(hook.ID, payload.Envelope, j.MaxRetry)
		if err != nil {
			return err
		}
		if _, err := j.Enqueuer.EnqueueContext(ctx, task); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				logger.Debug("delivery already queued", slog.Int64("webhook_id", hook.ID))
				continue
			}
			logger.Error("enqueue delivery", slog.Int64("webhook_id", hook.ID), slog.Any("error", err))
			return err
		}
	}
	logger.Debug("webhook fanout", slog.Int("subscriptions", len(hooks)), slog.String("event_id", payload.Envelope.ID))
	return nil
}

// WebhookDeliveryJob delivers one envelope to one subscription.
type WebhookDeliveryJob struct {
	Subscriptions SubscriptionSource
	Deliverer     DeliveryClient
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// Handle processes webhooks.TaskDeliver tasks. A failed attempt is returned as an
// error only while retries remain, so asynq reschedules it with backoff.
func (j *WebhookDeliveryJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Subscriptions == nil || j.Deliverer == nil {
		return errors.New("webhook delivery: handler not configured")
	}
	var payload webhooks.DeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("webhook delivery: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(webhooks.TaskDeliver)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.Int64("webhook_id", payload.WebhookID))
	hook, err := j.Subscriptions.Get(ctx, payload.WebhookID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Info("webhook removed before delivery")
			return nil
		}
		return err
	}
	if !hook.IsActive {
		logger.Info("webhook disabled before delivery")
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	delivery, err := j.Deliverer.Deliver(ctx, hook, payload.Envelope, retried+1)
	var deliveryErr *webhooks.DeliveryError
	switch {
	case err == nil:
		j.Metrics.RecordDelivery(string(payload.Envelope.EventType), true)
		return nil
	case errors.Is(err, webhooks.ErrInactive):
		return nil
	case errors.As(err, &deliveryErr):
		j.Metrics.RecordDelivery(string(payload.Envelope.EventType), false)
		if retried < maxRetry {
			return err
		}
		logger.Warn("webhook delivery exhausted", slog.Int("attempt", delivery.Attempt), slog.String("error", delivery.ErrorMessage))
		return nil
	default:
		return err
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
