// Package webhooks manages webhook subscriptions and delivers domain events to them.
package webhooks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Webhook is a subscription of one URL to one event type.
type Webhook struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	URL         string              `json:"url"`
	WebhookType inventory.EventType `json:"webhook_type"`
	IsActive    bool                `json:"is_active"`
	SecretKey   string              `json:"secret_key,omitempty"`
	Headers     map[string]string   `json:"headers"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// WebhookForm is the create and update payload.
type WebhookForm struct {
	Name        string            `json:"name" validate:"required,max=100"`
	URL         string            `json:"url" validate:"required,url,max=500"`
	WebhookType string            `json:"webhook_type" validate:"required"`
	IsActive    *bool             `json:"is_active"`
	SecretKey   string            `json:"secret_key" validate:"max=255"`
	Headers     map[string]string `json:"headers"`
}

func (f WebhookForm) toWebhook() (Webhook, error) {
	eventType, err := inventory.ParseEventType(f.WebhookType)
	if err != nil {
		return Webhook{}, err
	}
	active := true
	if f.IsActive != nil {
		active = *f.IsActive
	}
	headers := make(map[string]string, len(f.Headers))
	for k, v := range f.Headers {
		name := strings.TrimSpace(k)
		if name == "" {
			return Webhook{}, shared.NewValidationError("headers", "header names must not be empty")
		}
		headers[name] = v
	}
	return Webhook{
		Name:        strings.TrimSpace(f.Name),
		URL:         strings.TrimSpace(f.URL),
		WebhookType: eventType,
		IsActive:    active,
		SecretKey:   f.SecretKey,
		Headers:     headers,
	}, nil
}

// Delivery records one attempt to deliver an envelope to a webhook.
type Delivery struct {
	ID             int64               `json:"id"`
	WebhookID      int64               `json:"webhook_id"`
	EventType      inventory.EventType `json:"event_type"`
	Payload        json.RawMessage     `json:"payload"`
	ResponseStatus *int                `json:"response_status,omitempty"`
	ResponseBody   string              `json:"response_body"`
	Success        bool                `json:"success"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	Attempt        int                 `json:"attempt"`
	CreatedAt      time.Time           `json:"created_at"`
}

// DeliveryFilter narrows the delivery log.
type DeliveryFilter struct {
	WebhookID int64
	EventType inventory.EventType
	Success   *bool
	Limit     int
	Offset    int
}

// EnvelopeUser identifies the actor behind an event.
type EnvelopeUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Envelope is the JSON body POSTed to subscribers. ID is shared by every delivery
// of the same event.
type Envelope struct {
	ID        string              `json:"id,omitempty"`
	EventType inventory.EventType `json:"event_type"`
	Timestamp string              `json:"timestamp"`
	Data      map[string]any      `json:"data"`
	User      *EnvelopeUser       `json:"user,omitempty"`
}

// NewEnvelope wraps an event for delivery.
func NewEnvelope(event inventory.Event) Envelope {
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	env := Envelope{
		ID:        uuid.NewString(),
		EventType: event.Type,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	}
	if event.Actor != nil {
		env.User = &EnvelopeUser{ID: event.Actor.ID, Username: event.Actor.Username, Role: event.Actor.Role}
	}
	return env
}
