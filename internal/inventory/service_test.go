package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

var testNow = time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time { return &t }

func newTestService(store *memoryStore, opts ...Option) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(store, pub, logger, ServiceConfig{ExpiryWindowDays: 30}, opts...), pub
}

var operator = &shared.Principal{ID: 7, Username: "op", Role: "operator"}

func TestApplyInboundCreatesBatch(t *testing.T) {
	store := newMemoryStore()
	supplier := store.addPartner("Acme Supply", "supplier")
	pid := store.addProduct("SKU-1", 0, 10)
	svc, pub := newTestService(store)

	res, err := svc.ApplyInbound(context.Background(), InboundInput{
		ProductID:     pid,
		SupplierID:    &supplier,
		Quantity:      50,
		BatchID:       "L1",
		ExpiryDate:    datePtr(day(2024, 6, 1)),
		InvoiceNumber: "INV-1",
		Actor:         operator,
	})
	require.NoError(t, err)
	require.Equal(t, 50, res.Product.Quantity)
	require.NotNil(t, res.Batch)
	require.Equal(t, 50, res.Batch.Quantity)
	require.Equal(t, 50, res.Batch.InitialQuantity)
	require.Equal(t, day(2024, 1, 10), res.Inbound.ReceivedDate)
	require.Equal(t, int64(7), res.Inbound.CreatedBy)
	require.Equal(t, 50, store.product(pid).Quantity)

	require.Equal(t, []EventType{EventInboundCreated}, pub.types())
	data := pub.events[0].Data
	require.Equal(t, "Acme Supply", data["supplier"])
	require.Equal(t, "L1", data["batch_id"])
	require.Equal(t, "2024-06-01", data["expiry_date"])
	require.Equal(t, operator, pub.events[0].Actor)
}

func TestApplyInboundMergesExistingBatch(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store)
	ctx := context.Background()
	expiry := datePtr(day(2024, 6, 1))

	_, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 50, BatchID: "L1", ExpiryDate: expiry})
	require.NoError(t, err)
	res, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 25, BatchID: "L1", ExpiryDate: expiry})
	require.NoError(t, err)

	require.Equal(t, 75, res.Batch.Quantity)
	require.Equal(t, 75, res.Batch.InitialQuantity)
	b, ok := store.batch(pid, "L1")
	require.True(t, ok)
	require.Equal(t, 75, b.Quantity)
	require.Len(t, store.batches, 1)
	require.Equal(t, 75, store.product(pid).Quantity)
}

func TestApplyInboundRejectsConflictingExpiry(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, pub := newTestService(store)
	ctx := context.Background()

	_, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 5, BatchID: "L1", ExpiryDate: datePtr(day(2024, 6, 1))})
	require.NoError(t, err)
	pub.reset()

	_, err = svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 5, BatchID: "L1", ExpiryDate: datePtr(day(2024, 7, 1))})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 5, store.product(pid).Quantity)
	require.Len(t, store.inbounds, 1)
	require.Empty(t, pub.types())
}

func TestApplyInboundValidation(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	archived := store.addProduct("SKU-2", 0, 10)
	store.archive(archived)
	svc, pub := newTestService(store)

	cases := map[string]InboundInput{
		"zero quantity":       {ProductID: pid, Quantity: 0},
		"negative quantity":   {ProductID: pid, Quantity: -1},
		"batch without date":  {ProductID: pid, Quantity: 1, BatchID: "L1"},
		"date without batch":  {ProductID: pid, Quantity: 1, ExpiryDate: datePtr(day(2024, 6, 1))},
		"missing product":     {ProductID: 999, Quantity: 1},
		"archived product":    {ProductID: archived, Quantity: 1},
		"unknown supplier":    {ProductID: pid, Quantity: 1, SupplierID: func() *int64 { v := int64(555); return &v }()},
		"product id required": {Quantity: 1},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ApplyInbound(context.Background(), input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Equal(t, 0, store.product(pid).Quantity)
	require.Empty(t, store.inbounds)
	require.Empty(t, pub.types())
}

func TestApplyOutboundInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 5, 10)
	svc, pub := newTestService(store)

	_, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: 6})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, 6, stockErr.Requested)
	require.Equal(t, 5, stockErr.Available)

	require.Equal(t, 5, store.product(pid).Quantity)
	require.Empty(t, store.outbounds)
	require.Empty(t, pub.types())
}

func TestApplyOutboundConsumesBatchesFIFO(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 20, 2)
	customer := store.addPartner("Retail Co", "customer")
	store.addBatch(pid, "B2", 10, day(2024, 2, 1))
	store.addBatch(pid, "B1", 10, day(2024, 1, 20))
	svc, pub := newTestService(store)

	res, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, CustomerID: &customer, Quantity: 15, SOReference: "SO-9"})
	require.NoError(t, err)
	require.Equal(t, 5, res.Product.Quantity)
	require.Zero(t, res.Shortfall)
	require.Len(t, res.Consumption, 2)
	require.Equal(t, "B1", res.Consumption[0].BatchID)
	require.Equal(t, 10, res.Consumption[0].Quantity)
	require.Equal(t, "B2", res.Consumption[1].BatchID)
	require.Equal(t, 5, res.Consumption[1].Quantity)

	b1, _ := store.batch(pid, "B1")
	b2, _ := store.batch(pid, "B2")
	require.Equal(t, 0, b1.Quantity)
	require.Equal(t, 5, b2.Quantity)
	require.Equal(t, day(2024, 1, 10), res.Outbound.DispatchDate)
	require.Len(t, store.allocations[res.Outbound.ID], 2)

	require.Equal(t, []EventType{EventOutboundCreated}, pub.types())
	require.Equal(t, "Retail Co", pub.events[0].Data["customer"])
}

func TestApplyOutboundThresholdCrossing(t *testing.T) {
	cases := []struct {
		name     string
		start    int
		take     int
		expected []EventType
	}{
		{name: "crosses to at threshold", start: 15, take: 5, expected: []EventType{EventOutboundCreated, EventInventoryThreshold}},
		{name: "crosses below threshold", start: 15, take: 6, expected: []EventType{EventOutboundCreated, EventInventoryThreshold}},
		{name: "stays above", start: 15, take: 4, expected: []EventType{EventOutboundCreated}},
		{name: "already below", start: 8, take: 1, expected: []EventType{EventOutboundCreated}},
		{name: "drops to zero", start: 15, take: 15, expected: []EventType{EventOutboundCreated}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore()
			pid := store.addProduct("SKU-1", tc.start, 10)
			svc, pub := newTestService(store)
			_, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: tc.take})
			require.NoError(t, err)
			require.Equal(t, tc.expected, pub.types())
		})
	}
}

func TestApplyOutboundShortfall(t *testing.T) {
	t.Run("batch tracked product", func(t *testing.T) {
		store := newMemoryStore()
		pid := store.addProduct("SKU-1", 20, 0)
		store.addBatch(pid, "B1", 5, day(2024, 3, 1))
		svc, _ := newTestService(store)

		res, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: 8})
		require.NoError(t, err)
		require.Equal(t, 3, res.Shortfall)
		require.Equal(t, 12, res.Product.Quantity)
		require.Len(t, res.Consumption, 1)
	})

	t.Run("depleted batches still count as tracked", func(t *testing.T) {
		store := newMemoryStore()
		pid := store.addProduct("SKU-1", 20, 0)
		store.addBatch(pid, "B1", 0, day(2024, 3, 1))
		svc, _ := newTestService(store)

		res, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: 4})
		require.NoError(t, err)
		require.Equal(t, 4, res.Shortfall)
		require.Empty(t, res.Consumption)
	})

	t.Run("product without batches", func(t *testing.T) {
		store := newMemoryStore()
		pid := store.addProduct("SKU-1", 20, 0)
		svc, _ := newTestService(store)

		res, err := svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: 8})
		require.NoError(t, err)
		require.Zero(t, res.Shortfall)
		require.NotNil(t, res.Consumption)
		require.Empty(t, res.Consumption)
	})
}

func TestLedgerIdentity(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store)
	ctx := context.Background()

	moves := []struct {
		inbound bool
		qty     int
	}{
		{true, 30}, {false, 10}, {true, 5}, {false, 50}, {false, 25}, {true, 12}, {false, 12},
	}
	in, out := 0, 0
	for _, m := range moves {
		if m.inbound {
			_, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: m.qty})
			require.NoError(t, err)
			in += m.qty
			continue
		}
		_, err := svc.ApplyOutbound(ctx, OutboundInput{ProductID: pid, Quantity: m.qty})
		if err != nil {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			continue
		}
		out += m.qty
	}
	require.Equal(t, in-out, store.product(pid).Quantity)
	require.Equal(t, 0, store.product(pid).Quantity)
}

func TestConcurrentOutboundsNeverOversell(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 5, 0)
	svc, _ := newTestService(store)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyOutbound(context.Background(), OutboundInput{ProductID: pid, Quantity: 1})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
		rejected++
	}
	require.Equal(t, 5, succeeded)
	require.Equal(t, 5, rejected)
	require.Equal(t, 0, store.product(pid).Quantity)
}

func TestReconcile(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 20, 10)
	store.addBatch(pid, "B1", 20, day(2024, 3, 1))
	svc, pub := newTestService(store)
	ctx := context.Background()

	res, err := svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: 17, Reason: "cycle count", Actor: operator})
	require.NoError(t, err)
	require.Equal(t, -3, res.Reconciliation.Discrepancy)
	require.Equal(t, 20, res.Reconciliation.PreviousQuantity)
	require.Equal(t, StatusShortage, res.Status)
	require.Equal(t, 17, store.product(pid).Quantity)
	require.Empty(t, pub.types())

	res, err = svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: 17})
	require.NoError(t, err)
	require.Zero(t, res.Reconciliation.Discrepancy)
	require.Equal(t, StatusBalanced, res.Status)

	res, err = svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: 4})
	require.NoError(t, err)
	require.Equal(t, []EventType{EventInventoryThreshold}, pub.types())

	res, err = svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: 40})
	require.NoError(t, err)
	require.Equal(t, StatusSurplus, res.Status)

	b, _ := store.batch(pid, "B1")
	require.Equal(t, 20, b.Quantity)
	require.Len(t, store.recs, 4)
}

func TestReconcileErrors(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 20, 10)
	svc, _ := newTestService(store)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reconcile(ctx, ReconcileInput{ProductID: 404, CountedQuantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.recs)
}

func TestInboundThenReconcileSameIsBalanced(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store)
	ctx := context.Background()

	_, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 42})
	require.NoError(t, err)
	res, err := svc.Reconcile(ctx, ReconcileInput{ProductID: pid, CountedQuantity: 42})
	require.NoError(t, err)
	require.Equal(t, StatusBalanced, res.Status)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 5, 0)
	keys := &memoryIdempotency{}
	svc, _ := newTestService(store, WithIdempotency(keys))
	ctx := context.Background()

	_, err := svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 1, IdempotencyKey: "abc"})
	require.NoError(t, err)
	_, err = svc.ApplyInbound(ctx, InboundInput{ProductID: pid, Quantity: 1, IdempotencyKey: "abc"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 6, store.product(pid).Quantity)

	_, err = svc.ApplyOutbound(ctx, OutboundInput{ProductID: pid, Quantity: 100, IdempotencyKey: "out-1"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	_, err = svc.ApplyOutbound(ctx, OutboundInput{ProductID: pid, Quantity: 1, IdempotencyKey: "out-1"})
	require.NoError(t, err, "failed attempts release their key")
}

func TestNotifyBatchExpiryEmitsOnce(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 30, 0)
	store.addBatch(pid, "OLD", 5, day(2024, 1, 5))
	store.addBatch(pid, "SOON", 5, day(2024, 1, 20))
	store.addBatch(pid, "LATER", 5, day(2024, 6, 1))
	store.addBatch(pid, "EMPTY", 0, day(2024, 1, 2))
	svc, pub := newTestService(store)
	ctx := context.Background()

	res, err := svc.NotifyBatchExpiry(ctx)
	require.NoError(t, err)
	require.Equal(t, ExpiryScanResult{Expiring: 1, Expired: 1}, res)
	require.ElementsMatch(t, []EventType{EventBatchExpired, EventBatchExpiring}, pub.types())
	for _, e := range pub.events {
		if e.Type == EventBatchExpiring {
			require.Equal(t, 10, e.Data["days_until_expiry"])
			require.Equal(t, "SOON", e.Data["batch_number"])
		}
	}

	pub.reset()
	res, err = svc.NotifyBatchExpiry(ctx)
	require.NoError(t, err)
	require.Equal(t, ExpiryScanResult{}, res)
	require.Empty(t, pub.types())
}

func TestApplyBulk(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 0)
	store.addProduct("SKU-2", 1, 0)
	svc, pub := newTestService(store)

	res, err := svc.ApplyBulk(context.Background(), BulkInput{
		FileName: "march.csv",
		Actor:    operator,
		Rows: []BulkRow{
			{Type: MovementInbound, SKU: "SKU-1", Quantity: 10, BatchID: "B1", ExpiryDate: datePtr(day(2024, 5, 1))},
			{Type: MovementOutbound, ProductID: pid, Quantity: 4},
			{Type: MovementOutbound, SKU: "SKU-2", Quantity: 3},
			{Type: MovementInbound, SKU: "MISSING", Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Applied)
	require.Len(t, res.Failures, 2)
	require.Equal(t, 2, res.Failures[0].Row)
	require.Equal(t, 3, res.Failures[1].Row)
	require.Equal(t, 6, store.product(pid).Quantity)

	types := pub.types()
	require.Equal(t, EventBulkUpload, types[len(types)-1])
	last := pub.events[len(pub.events)-1]
	require.Equal(t, 2, last.Data["records_count"])
	require.Equal(t, "mixed", last.Data["upload_type"])
	require.Equal(t, "march.csv", last.Data["file_name"])

	_, err = svc.ApplyBulk(context.Background(), BulkInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
}
