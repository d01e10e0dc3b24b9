package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

const (
	// TaskFanout resolves subscriptions for one envelope.
	TaskFanout = "webhook:fanout"
	// TaskDeliver POSTs one envelope to one subscription.
	TaskDeliver = "webhook:deliver"
	// QueueWebhooks carries fan-out and delivery tasks.
	QueueWebhooks = "webhooks"
)

// FanoutPayload is the body of a TaskFanout task.
type FanoutPayload struct {
	Envelope Envelope `json:"envelope"`
}

// DeliverPayload is the body of a TaskDeliver task.
type DeliverPayload struct {
	WebhookID int64    `json:"webhook_id"`
	Envelope  Envelope `json:"envelope"`
}

// NewFanoutTask builds a fan-out task for env.
func NewFanoutTask(env Envelope) (*asynq.Task, error) {
	body, err := json.Marshal(FanoutPayload{Envelope: env})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueWebhooks), asynq.MaxRetry(3)}
	if env.ID != "" {
		opts = append(opts, asynq.TaskID("fanout:"+env.ID))
	}
	return asynq.NewTask(TaskFanout, body, opts...), nil
}

// NewDeliverTask builds a delivery task. maxRetry of zero makes the first attempt final.
// Envelopes with an ID get a task ID per (event, subscription), so re-running a
// fan-out cannot queue the same delivery twice.
func NewDeliverTask(webhookID int64, env Envelope, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(DeliverPayload{WebhookID: webhookID, Envelope: env})
	if err != nil {
		return nil, err
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	opts := []asynq.Option{asynq.Queue(QueueWebhooks), asynq.MaxRetry(maxRetry)}
	if env.ID != "" {
		opts = append(opts, asynq.TaskID(DeliveryTaskID(env.ID, webhookID)))
	}
	return asynq.NewTask(TaskDeliver, body, opts...), nil
}

// DeliveryTaskID names the delivery task of one event for one subscription.
func DeliveryTaskID(eventID string, webhookID int64) string {
	return fmt.Sprintf("%s:%d", eventID, webhookID)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher turns committed domain events into queued fan-out tasks.
//
// After Start, Publish only hands events to a bounded buffer drained by one
// goroutine, so a stalled Redis never holds up the caller. Without Start, events
// are enqueued inline.
type Dispatcher struct {
	enqueuer Enqueuer
	logger   *slog.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	events chan Envelope
	done   chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(enqueuer Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{enqueuer: enqueuer, logger: logger, timeout: 2 * time.Second}
}

// Start launches the background sender with room for buffer pending events.
func (d *Dispatcher) Start(buffer int) {
	if d == nil {
		return
	}
	if buffer < 1 {
		buffer = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events != nil {
		return
	}
	d.events = make(chan Envelope, buffer)
	d.done = make(chan struct{})
	go d.run(d.events, d.done)
}

// Close stops accepting buffered events and waits for the buffer to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	events, done := d.events, d.done
	d.events, d.done = nil, nil
	d.mu.Unlock()
	if events == nil {
		return
	}
	close(events)
	<-done
}

func (d *Dispatcher) run(events <-chan Envelope, done chan<- struct{}) {
	defer close(done)
	for env := range events {
		d.send(context.Background(), env)
	}
}

// Publish queues one fan-out task per event. Failures are logged and never reach the caller.
func (d *Dispatcher) Publish(ctx context.Context, events ...inventory.Event) {
	if d == nil || d.enqueuer == nil || len(events) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, event := range events {
		env := NewEnvelope(event)
		if d.events == nil {
			d.send(ctx, env)
			continue
		}
		select {
		case d.events <- env:
		default:
			d.logger.Error("webhook event buffer full, dropping event",
				slog.String("event_type", string(env.EventType)), slog.String("event_id", env.ID))
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	logger := d.logger.With(slog.String("event_type", string(env.EventType)), slog.String("event_id", env.ID))
	task, err := NewFanoutTask(env)
	if err != nil {
		logger.Error("build webhook fanout task", slog.Any("error", err))
		return
	}
	if _, err := d.enqueuer.EnqueueContext(ctx, task); err != nil {
		logger.Error("enqueue webhook fanout", slog.Any("error", err))
		return
	}
	logger.Debug("webhook event queued")
}

// Dispatch publishes an ad-hoc event.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType inventory.EventType, data map[string]any, actor *shared.Principal) {
	d.Publish(ctx, inventory.Event{Type: eventType, Data: data, Actor: actor, OccurredAt: time.Now()})
}
