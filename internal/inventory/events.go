package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// EventType identifies a notification category.
type EventType string

const (
	EventInventoryThreshold EventType = "inventory_threshold"
	EventInboundCreated     EventType = "inbound_created"
	EventOutboundCreated    EventType = "outbound_created"
	EventBulkUpload         EventType = "bulk_upload"
	EventBatchExpiring      EventType = "batch_expiring"
	EventBatchExpired       EventType = "batch_expired"
)

var eventTypes = []EventType{
	EventInventoryThreshold,
	EventInboundCreated,
	EventOutboundCreated,
	EventBulkUpload,
	EventBatchExpiring,
	EventBatchExpired,
}

// EventTypes lists every supported event type.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// ParseEventType validates raw against the closed set of event types.
func ParseEventType(raw string) (EventType, error) {
	candidate := EventType(strings.TrimSpace(strings.ToLower(raw)))
	for _, t := range eventTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", shared.NewValidationError("event_type", fmt.Sprintf("unknown event type %q", raw))
}

// Event is a domain fact produced by a committed ledger change.
type Event struct {
	Type       EventType
	Data       map[string]any
	Actor      *shared.Principal
	OccurredAt time.Time
}

// EventPublisher receives events after commit. Implementations must not block.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...Event) {}

// crossedThreshold reports a downward crossing that still leaves stock on hand.
func crossedThreshold(before, after, threshold int) bool {
	return before > threshold && after <= threshold && after > 0
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(DateLayout)
}

func optionalName(name string) any {
	if name == "" {
		return nil
	}
	return name
}

func inboundCreatedEvent(in Inbound, product products.Product, supplier string, actor *shared.Principal, at time.Time) Event {
	var batchID any
	if in.BatchID != "" {
		batchID = in.BatchID
	}
	return Event{
		Type: EventInboundCreated,
		Data: map[string]any{
			"inbound_id":     in.ID,
			"product_id":     product.ID,
			"product_name":   product.Name,
			"product_sku":    product.SKU,
			"quantity":       in.Quantity,
			"batch_id":       batchID,
			"expiry_date":    formatDate(in.ExpiryDate),
			"supplier":       optionalName(supplier),
			"invoice_number": in.InvoiceNumber,
			"received_date":  in.ReceivedDate.Format(DateLayout),
		},
		Actor:      actor,
		OccurredAt: at,
	}
}

func outboundCreatedEvent(out Outbound, product products.Product, customer string, shortfall int, actor *shared.Principal, at time.Time) Event {
	trace := make([]map[string]any, 0, len(out.Allocations))
	for _, a := range out.Allocations {
		trace = append(trace, map[string]any{
			"batch_id":    a.BatchID,
			"quantity":    a.Quantity,
			"expiry_date": a.ExpiryDate.Format(DateLayout),
		})
	}
	return Event{
		Type: EventOutboundCreated,
		Data: map[string]any{
			"outbound_id":   out.ID,
			"product_id":    product.ID,
			"product_name":  product.Name,
			"product_sku":   product.SKU,
			"quantity":      out.Quantity,
			"customer":      optionalName(customer),
			"so_reference":  out.SOReference,
			"dispatch_date": out.DispatchDate.Format(DateLayout),
			"batches":       trace,
			"shortfall":     shortfall,
		},
		Actor:      actor,
		OccurredAt: at,
	}
}

func thresholdEvent(product products.Product, actor *shared.Principal, at time.Time) Event {
	return Event{
		Type: EventInventoryThreshold,
		Data: map[string]any{
			"product_id":       product.ID,
			"product_name":     product.Name,
			"product_sku":      product.SKU,
			"current_quantity": product.Quantity,
			"threshold":        product.LowStockThreshold,
			"breach_type":      "low_stock",
		},
		Actor:      actor,
		OccurredAt: at,
	}
}

func expiryEvent(notice ExpiryNotice, today, at time.Time) Event {
	data := map[string]any{
		"batch_id":     notice.Batch.ID,
		"product_id":   notice.Batch.ProductID,
		"product_name": notice.ProductName,
		"product_sku":  notice.ProductSKU,
		"batch_number": notice.Batch.BatchID,
		"quantity":     notice.Batch.Quantity,
		"expiry_date":  notice.Batch.ExpiryDate.Format(DateLayout),
	}
	eventType := EventBatchExpired
	if notice.Kind == NoticeExpiring {
		eventType = EventBatchExpiring
		data["days_until_expiry"] = notice.Batch.DaysUntilExpiry(today)
	}
	return Event{Type: eventType, Data: data, OccurredAt: at}
}

// BulkUploadEvent describes a completed bulk movement import.
func BulkUploadEvent(fileName string, records int, uploadType string, actor *shared.Principal, at time.Time) Event {
	return Event{
		Type: EventBulkUpload,
		Data: map[string]any{
			"file_name":     fileName,
			"records_count": records,
			"upload_type":   uploadType,
		},
		Actor:      actor,
		OccurredAt: at,
	}
}
