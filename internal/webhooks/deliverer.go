package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	headerSignature = "X-WMS-Signature"
	headerDelivery  = "X-WMS-Delivery"
	headerEvent     = "X-WMS-Event"
	maxBodyLength   = 10000
)

// ErrInactive is returned when delivery targets a disabled subscription.
var ErrInactive = errors.New("webhooks: subscription inactive")

// DeliveryError describes a failed attempt. The attempt is already recorded.
type DeliveryError struct {
	WebhookID int64
	Status    int
	Message   string
}

func (e *DeliveryError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("webhooks: delivery to %d failed with status %d", e.WebhookID, e.Status)
	}
	return fmt.Sprintf("webhooks: delivery to %d failed: %s", e.WebhookID, e.Message)
}

// DeliveryRecorder persists delivery attempts.
type DeliveryRecorder interface {
	InsertDelivery(ctx context.Context, delivery *Delivery) error
}

// DelivererConfig tunes outbound HTTP calls.
type DelivererConfig struct {
	Timeout          time.Duration
	UserAgent        string
	BreakerFailures  uint32
	BreakerCooldown  time.Duration
	BreakerHalfOpens uint32
}

// Deliverer POSTs envelopes to subscribers and records every attempt.
type Deliverer struct {
	client   *resty.Client
	recorder DeliveryRecorder
	cfg      DelivererConfig
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// NewDeliverer constructs a Deliverer.
func NewDeliverer(recorder DeliveryRecorder, cfg DelivererConfig, logger *slog.Logger) *Deliverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "WMS-Webhook/1.0"
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if cfg.BreakerHalfOpens == 0 {
		cfg.BreakerHalfOpens = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)
	return &Deliverer{
		client:   client,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		breakers: map[int64]*gobreaker.CircuitBreaker{},
	}
}

// Deliver performs one attempt and records it. A non-nil *DeliveryError means the attempt
// failed; any other error means the attempt could not be made or recorded.
func (d *Deliverer) Deliver(ctx context.Context, hook Webhook, env Envelope, attempt int) (Delivery, error) {
	if !hook.IsActive {
		return Delivery{}, ErrInactive
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Delivery{}, fmt.Errorf("webhooks: encode envelope: %w", err)
	}
	if attempt < 1 {
		attempt = 1
	}
	delivery := Delivery{
		WebhookID: hook.ID,
		EventType: env.EventType,
		Payload:   payload,
		Attempt:   attempt,
	}
	deliveryID := uuid.NewString()

	result, err := d.breaker(hook).Execute(func() (interface{}, error) {
		req := d.client.R().
			SetContext(ctx).
			SetHeader(headerDelivery, deliveryID).
			SetBody(payload)
		if env.ID != "" {
			req.SetHeader(headerEvent, env.ID)
		}
		if hook.SecretKey != "" {
			req.SetHeader(headerSignature, hook.SecretKey)
		}
		for name, value := range hook.Headers {
			req.SetHeader(name, value)
		}
		resp, err := req.Post(hook.URL)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			return resp, &DeliveryError{WebhookID: hook.ID, Status: resp.StatusCode()}
		}
		return resp, nil
	})

	if resp, ok := result.(*resty.Response); ok && resp != nil {
		status := resp.StatusCode()
		delivery.ResponseStatus = &status
		delivery.ResponseBody = truncate(resp.String(), maxBodyLength)
	}
	var deliveryErr *DeliveryError
	switch {
	case err == nil:
		delivery.Success = true
	case errors.As(err, &deliveryErr):
		delivery.ErrorMessage = "HTTP " + strconv.Itoa(deliveryErr.Status)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		delivery.ErrorMessage = "circuit breaker open"
		deliveryErr = &DeliveryError{WebhookID: hook.ID, Message: delivery.ErrorMessage}
	default:
		delivery.ErrorMessage = err.Error()
		deliveryErr = &DeliveryError{WebhookID: hook.ID, Message: err.Error()}
	}

	if recErr := d.recorder.InsertDelivery(context.WithoutCancel(ctx), &delivery); recErr != nil {
		d.logger.Error("record webhook delivery", slog.Int64("webhook_id", hook.ID), slog.Any("error", recErr))
		return delivery, recErr
	}

	logger := d.logger.With(
		slog.Int64("webhook_id", hook.ID),
		slog.String("event_type", string(env.EventType)),
		slog.String("delivery_id", deliveryID),
		slog.Int("attempt", attempt))
	if delivery.Success {
		logger.Info("webhook delivered", slog.Int("status", *delivery.ResponseStatus))
		return delivery, nil
	}
	logger.Warn("webhook delivery failed", slog.String("error", delivery.ErrorMessage))
	return delivery, deliveryErr
}

func (d *Deliverer) breaker(hook Webhook) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[hook.ID]; ok {
		return cb
	}
	threshold := d.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-" + strconv.FormatInt(hook.ID, 10),
		MaxRequests: d.cfg.BreakerHalfOpens,
		Timeout:     d.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("webhook circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	d.breakers[hook.ID] = cb
	return cb
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
