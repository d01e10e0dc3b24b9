package inventory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryPartner struct {
	name string
	kind string
}

type memoryStore struct {
	mu          sync.Mutex
	products    map[int64]products.Product
	partners    map[int64]memoryPartner
	batches     map[int64]Batch
	inbounds    []Inbound
	outbounds   []Outbound
	allocations map[int64][]BatchConsumption
	recs        []Reconciliation
	notified    map[int64]map[ExpiryNoticeKind]time.Time
	nextID      int64
	tick        time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products:    map[int64]products.Product{},
		partners:    map[int64]memoryPartner{},
		batches:     map[int64]Batch{},
		allocations: map[int64][]BatchConsumption{},
		notified:    map[int64]map[ExpiryNoticeKind]time.Time{},
		tick:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) stamp() time.Time {
	s.tick = s.tick.Add(time.Second)
	return s.tick
}

func (s *memoryStore) addProduct(sku string, qty, threshold int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.products[id] = products.Product{ID: id, SKU: sku, Name: "Product " + sku, Quantity: qty, LowStockThreshold: threshold}
	return id
}

func (s *memoryStore) addPartner(name, kind string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.partners[id] = memoryPartner{name: name, kind: kind}
	return id
}

func (s *memoryStore) addBatch(productID int64, batchID string, qty int, expiry time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	at := s.stamp()
	s.batches[id] = Batch{ID: id, ProductID: productID, BatchID: batchID, Quantity: qty, InitialQuantity: qty, ExpiryDate: expiry, CreatedAt: at, UpdatedAt: at}
	return id
}

func (s *memoryStore) archive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.IsArchived = true
	s.products[id] = p
}

func (s *memoryStore) product(id int64) products.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memoryStore) batch(productID int64, batchID string) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.ProductID == productID && b.BatchID == batchID {
			return b, true
		}
	}
	return Batch{}, false
}

type memorySnapshot struct {
	products    map[int64]products.Product
	batches     map[int64]Batch
	inbounds    []Inbound
	outbounds   []Outbound
	allocations map[int64][]BatchConsumption
	recs        []Reconciliation
	nextID      int64
}

func (s *memoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		products:    make(map[int64]products.Product, len(s.products)),
		batches:     make(map[int64]Batch, len(s.batches)),
		inbounds:    append([]Inbound(nil), s.inbounds...),
		outbounds:   append([]Outbound(nil), s.outbounds...),
		allocations: make(map[int64][]BatchConsumption, len(s.allocations)),
		recs:        append([]Reconciliation(nil), s.recs...),
		nextID:      s.nextID,
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.batches {
		snap.batches[k] = v
	}
	for k, v := range s.allocations {
		snap.allocations[k] = v
	}
	return snap
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.products = snap.products
	s.batches = snap.batches
	s.inbounds = snap.inbounds
	s.outbounds = snap.outbounds
	s.allocations = snap.allocations
	s.recs = snap.recs
	s.nextID = snap.nextID
}

// WithTx holds the store mutex for the whole callback, standing in for the product row lock,
// and rolls every change back when fn fails.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memoryStore) FindProductIDBySKU(ctx context.Context, sku string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.SKU == sku {
			return p.ID, nil
		}
	}
	return 0, shared.ErrNotFound
}

func filterByProduct[T any](items []T, productID int64, get func(T) int64) []T {
	var out []T
	for i := len(items) - 1; i >= 0; i-- {
		if productID == 0 || get(items[i]) == productID {
			out = append(out, items[i])
		}
	}
	return out
}

func (s *memoryStore) ListInbounds(ctx context.Context, filter MovementFilter) ([]Inbound, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := filterByProduct(s.inbounds, filter.ProductID, func(in Inbound) int64 { return in.ProductID })
	return out, len(out), nil
}

func (s *memoryStore) ListOutbounds(ctx context.Context, filter MovementFilter) ([]Outbound, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := filterByProduct(s.outbounds, filter.ProductID, func(o Outbound) int64 { return o.ProductID })
	for i := range out {
		out[i].Allocations = s.allocations[out[i].ID]
	}
	return out, len(out), nil
}

func (s *memoryStore) ListReconciliations(ctx context.Context, filter MovementFilter) ([]Reconciliation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := filterByProduct(s.recs, filter.ProductID, func(r Reconciliation) int64 { return r.ProductID })
	return out, len(out), nil
}

func (s *memoryStore) sortedBatches(productID int64, availableOnly bool) []Batch {
	var out []Batch
	for _, b := range s.batches {
		if productID != 0 && b.ProductID != productID {
			continue
		}
		if availableOnly && b.Quantity <= 0 {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryStore) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedBatches(filter.ProductID, filter.AvailableOnly), nil
}

func (s *memoryStore) ListPendingExpiryNotices(ctx context.Context, today, horizon time.Time) ([]ExpiryNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ExpiryNotice
	for _, b := range s.sortedBatches(0, true) {
		kind := NoticeExpiring
		switch {
		case b.ExpiryDate.Before(today):
			kind = NoticeExpired
		case b.ExpiryDate.After(horizon):
			continue
		}
		if _, done := s.notified[b.ID][kind]; done {
			continue
		}
		p := s.products[b.ProductID]
		out = append(out, ExpiryNotice{Batch: b, ProductName: p.Name, ProductSKU: p.SKU, Kind: kind})
	}
	return out, nil
}

func (s *memoryStore) MarkExpiryNotified(ctx context.Context, batchID int64, kind ExpiryNoticeKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified[batchID] == nil {
		s.notified[batchID] = map[ExpiryNoticeKind]time.Time{}
	}
	s.notified[batchID][kind] = at
	return nil
}

type memoryTx struct {
	store *memoryStore
}

func (t *memoryTx) GetProductForUpdate(ctx context.Context, productID int64) (products.Product, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return products.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *memoryTx) UpdateProductQuantity(ctx context.Context, productID int64, quantity int) error {
	p := t.store.products[productID]
	p.Quantity = quantity
	t.store.products[productID] = p
	return nil
}

func (t *memoryTx) PartnerName(ctx context.Context, partnerID int64, kind string) (string, error) {
	p, ok := t.store.partners[partnerID]
	if !ok || p.kind != kind {
		return "", shared.ErrNotFound
	}
	return p.name, nil
}

func (t *memoryTx) InsertInbound(ctx context.Context, in *Inbound) error {
	in.ID = t.store.id()
	in.CreatedAt = t.store.stamp()
	t.store.inbounds = append(t.store.inbounds, *in)
	return nil
}

func (t *memoryTx) GetBatchForUpdate(ctx context.Context, productID int64, batchID string) (Batch, error) {
	for _, b := range t.store.batches {
		if b.ProductID == productID && b.BatchID == batchID {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (t *memoryTx) InsertBatch(ctx context.Context, batch *Batch) error {
	batch.ID = t.store.id()
	batch.CreatedAt = t.store.stamp()
	batch.UpdatedAt = batch.CreatedAt
	t.store.batches[batch.ID] = *batch
	return nil
}

func (t *memoryTx) AddToBatch(ctx context.Context, batchRowID int64, quantity int) (Batch, error) {
	b, ok := t.store.batches[batchRowID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	b.Quantity += quantity
	b.InitialQuantity += quantity
	t.store.batches[batchRowID] = b
	return b, nil
}

func (t *memoryTx) ListAvailableBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	return t.store.sortedBatches(productID, true), nil
}

func (t *memoryTx) HasBatches(ctx context.Context, productID int64) (bool, error) {
	return len(t.store.sortedBatches(productID, false)) > 0, nil
}

func (t *memoryTx) ConsumeBatch(ctx context.Context, batchRowID int64, quantity int) error {
	b, ok := t.store.batches[batchRowID]
	if !ok || b.Quantity < quantity {
		return ErrBatchNotFound
	}
	b.Quantity -= quantity
	t.store.batches[batchRowID] = b
	return nil
}

func (t *memoryTx) InsertOutbound(ctx context.Context, out *Outbound) error {
	out.ID = t.store.id()
	out.CreatedAt = t.store.stamp()
	t.store.outbounds = append(t.store.outbounds, *out)
	return nil
}

func (t *memoryTx) InsertAllocations(ctx context.Context, outboundID int64, allocations []BatchConsumption) error {
	if len(allocations) > 0 {
		t.store.allocations[outboundID] = append([]BatchConsumption(nil), allocations...)
	}
	return nil
}

func (t *memoryTx) InsertReconciliation(ctx context.Context, rec *Reconciliation) error {
	rec.ID = t.store.id()
	rec.CreatedAt = t.store.stamp()
	t.store.recs = append(t.store.recs, *rec)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
