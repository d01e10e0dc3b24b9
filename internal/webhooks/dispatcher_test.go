package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t", Queue: QueueWebhooks}, nil
}

func TestDispatcherPublishQueuesFanout(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewDispatcher(enq, testLogger())

	d.Publish(context.Background(),
		inventory.Event{Type: inventory.EventOutboundCreated, Data: map[string]any{"outbound_id": 3}},
		inventory.Event{Type: inventory.EventInventoryThreshold, Data: map[string]any{"threshold": 10}},
	)
	require.Len(t, enq.tasks, 2)
	require.Equal(t, TaskFanout, enq.tasks[0].Type())

	var payload FanoutPayload
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &payload))
	require.Equal(t, inventory.EventInventoryThreshold, payload.Envelope.EventType)
	require.EqualValues(t, 10, payload.Envelope.Data["threshold"])
	require.Nil(t, payload.Envelope.User)
}

func TestDispatcherDispatchCarriesActor(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewDispatcher(enq, testLogger())
	d.Dispatch(context.Background(), inventory.EventBulkUpload, map[string]any{"records_count": 2},
		&shared.Principal{ID: 5, Username: "ops", Role: "admin"})

	require.Len(t, enq.tasks, 1)
	var payload FanoutPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, &EnvelopeUser{ID: 5, Username: "ops", Role: "admin"}, payload.Envelope.User)
	require.NotEmpty(t, payload.Envelope.Timestamp)
}

func TestDispatcherSwallowsEnqueueErrors(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	d := NewDispatcher(enq, testLogger())
	require.NotPanics(t, func() {
		d.Publish(context.Background(), inventory.Event{Type: inventory.EventInboundCreated})
	})

	var nilDispatcher *Dispatcher
	require.NotPanics(t, func() {
		nilDispatcher.Publish(context.Background(), inventory.Event{Type: inventory.EventInboundCreated})
	})
}

func TestNewDeliverTaskClampsRetry(t *testing.T) {
	task, err := NewDeliverTask(3, Envelope{EventType: inventory.EventBatchExpired}, -2)
	require.NoError(t, err)
	require.Equal(t, TaskDeliver, task.Type())

	var payload DeliverPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(3), payload.WebhookID)
}

func TestDeliverTaskIDIsStablePerEventAndSubscription(t *testing.T) {
	env := NewEnvelope(inventory.Event{Type: inventory.EventInboundCreated})
	require.NotEmpty(t, env.ID)

	first, err := NewDeliverTask(7, env, 1)
	require.NoError(t, err)
	again, err := NewDeliverTask(7, env, 1)
	require.NoError(t, err)
	require.Equal(t, first.Payload(), again.Payload())
	require.Equal(t, env.ID+":7", DeliveryTaskID(env.ID, 7))
	require.NotEqual(t, NewEnvelope(inventory.Event{Type: inventory.EventInboundCreated}).ID, env.ID)
}

func TestDispatcherBackgroundSenderDrainsOnClose(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewDispatcher(enq, testLogger())
	d.Start(8)
	d.Publish(context.Background(),
		inventory.Event{Type: inventory.EventInboundCreated},
		inventory.Event{Type: inventory.EventOutboundCreated},
	)
	d.Close()

	enq.mu.Lock()
	defer enq.mu.Unlock()
	require.Len(t, enq.tasks, 2)
	require.Equal(t, TaskFanout, enq.tasks[0].Type())

	require.NotPanics(t, func() { d.Close() })
}

type blockingEnqueuer struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	b.mu.Lock()
	b.count++
	first := b.count == 1
	b.mu.Unlock()
	if first {
		close(b.started)
		<-b.release
	}
	return &asynq.TaskInfo{}, nil
}

func TestDispatcherPublishDoesNotWaitForStalledQueue(t *testing.T) {
	enq := &blockingEnqueuer{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(enq, testLogger())
	d.Start(1)

	d.Publish(context.Background(), inventory.Event{Type: inventory.EventInboundCreated})
	<-enq.started

	returned := make(chan struct{})
	go func() {
		d.Publish(context.Background(),
			inventory.Event{Type: inventory.EventOutboundCreated},
			inventory.Event{Type: inventory.EventBulkUpload},
		)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled enqueue")
	}

	close(enq.release)
	d.Close()
	enq.mu.Lock()
	defer enq.mu.Unlock()
	require.Equal(t, 2, enq.count)
}
