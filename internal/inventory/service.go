package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// IdempotencyPort guards movement creation against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	ExpiryWindowDays int
}

// Service orchestrates stock movements.
type Service struct {
	repo        RepositoryPort
	publisher   EventPublisher
	idempotency IdempotencyPort
	metrics     *Metrics
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithIdempotency enables Idempotency-Key handling.
func WithIdempotency(store IdempotencyPort) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithMetrics attaches ledger counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds inventory service.
func NewService(repo RepositoryPort, publisher EventPublisher, logger *slog.Logger, cfg ServiceConfig, opts ...Option) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = ExpiringSoonDays
	}
	s := &Service{repo: repo, publisher: publisher, logger: logger, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyInbound receives stock and optionally merges it into a batch.
func (s *Service) ApplyInbound(ctx context.Context, input InboundInput) (InboundResult, error) {
	if err := validateInbound(input); err != nil {
		return InboundResult{}, err
	}
	release, err := s.claim(ctx, input.IdempotencyKey, "inventory.inbound")
	if err != nil {
		return InboundResult{}, err
	}

	now := s.now()
	var result InboundResult
	var supplier string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := s.lockMovableProduct(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if input.SupplierID != nil {
			supplier, err = tx.PartnerName(ctx, *input.SupplierID, "supplier")
			if err != nil {
				return partnerError("supplier_id", err)
			}
		}

		in := Inbound{
			ProductID:     product.ID,
			SupplierID:    input.SupplierID,
			Quantity:      input.Quantity,
			BatchID:       input.BatchID,
			InvoiceNumber: input.InvoiceNumber,
			InvoiceFile:   input.InvoiceFile,
			ReceivedDate:  truncateDay(now),
			CreatedBy:     actorID(input.Actor),
		}
		if input.ExpiryDate != nil {
			expiry := truncateDay(*input.ExpiryDate)
			in.ExpiryDate = &expiry
		}

		var batch *Batch
		if in.BatchID != "" {
			merged, err := s.upsertBatch(ctx, tx, product.ID, in.BatchID, *in.ExpiryDate, in.Quantity)
			if err != nil {
				return err
			}
			batch = &merged
		}
		if err := tx.InsertInbound(ctx, &in); err != nil {
			return err
		}
		product.Quantity += in.Quantity
		if err := tx.UpdateProductQuantity(ctx, product.ID, product.Quantity); err != nil {
			return err
		}
		result = InboundResult{Inbound: in, Product: product, Batch: batch}
		return nil
	})
	if err != nil {
		release()
		return InboundResult{}, err
	}

	result.Events = []Event{inboundCreatedEvent(result.Inbound, result.Product, supplier, input.Actor, now)}
	s.metrics.movement("inbound")
	s.logger.Info("inbound applied",
		slog.Int64("product_id", result.Product.ID),
		slog.Int("quantity", result.Inbound.Quantity),
		slog.String("batch_id", result.Inbound.BatchID))
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

func (s *Service) upsertBatch(ctx context.Context, tx TxRepository, productID int64, batchID string, expiry time.Time, qty int) (Batch, error) {
	existing, err := tx.GetBatchForUpdate(ctx, productID, batchID)
	switch {
	case err == nil:
		if !truncateDay(existing.ExpiryDate).Equal(expiry) {
			return Batch{}, shared.NewValidationError("expiry_date",
				fmt.Sprintf("batch %s already exists with expiry %s", batchID, existing.ExpiryDate.Format(DateLayout)))
		}
		return tx.AddToBatch(ctx, existing.ID, qty)
	case errors.Is(err, ErrBatchNotFound):
		batch := Batch{ProductID: productID, BatchID: batchID, Quantity: qty, InitialQuantity: qty, ExpiryDate: expiry}
		if err := tx.InsertBatch(ctx, &batch); err != nil {
			return Batch{}, err
		}
		return batch, nil
	default:
		return Batch{}, err
	}
}

// ApplyOutbound dispatches stock, drawing batches down first-expiry-first-out.
func (s *Service) ApplyOutbound(ctx context.Context, input OutboundInput) (OutboundResult, error) {
	if err := validateOutbound(input); err != nil {
		return OutboundResult{}, err
	}
	release, err := s.claim(ctx, input.IdempotencyKey, "inventory.outbound")
	if err != nil {
		return OutboundResult{}, err
	}

	now := s.now()
	var result OutboundResult
	var customer string
	var before int
	var batchTracked bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := s.lockMovableProduct(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if input.CustomerID != nil {
			customer, err = tx.PartnerName(ctx, *input.CustomerID, "customer")
			if err != nil {
				return partnerError("customer_id", err)
			}
		}
		if input.Quantity > product.Quantity {
			return &InsufficientStockError{ProductID: product.ID, Requested: input.Quantity, Available: product.Quantity}
		}

		out := Outbound{
			ProductID:        product.ID,
			CustomerID:       input.CustomerID,
			Quantity:         input.Quantity,
			SOReference:      input.SOReference,
			DispatchDate:     truncateDay(now),
			DeliveryNoteFile: input.DeliveryNoteFile,
			CreatedBy:        actorID(input.Actor),
		}
		if input.DispatchDate != nil {
			out.DispatchDate = truncateDay(*input.DispatchDate)
		}
		if err := tx.InsertOutbound(ctx, &out); err != nil {
			return err
		}

		before = product.Quantity
		product.Quantity -= out.Quantity
		if err := tx.UpdateProductQuantity(ctx, product.ID, product.Quantity); err != nil {
			return err
		}

		batches, err := tx.ListAvailableBatchesForUpdate(ctx, product.ID)
		if err != nil {
			return err
		}
		plan := PlanFIFO(batches, out.Quantity)
		for _, a := range plan.Allocations {
			if err := tx.ConsumeBatch(ctx, a.BatchRowID, a.Quantity); err != nil {
				return err
			}
		}
		if err := tx.InsertAllocations(ctx, out.ID, plan.Allocations); err != nil {
			return err
		}
		if plan.Shortfall > 0 {
			batchTracked = len(batches) > 0
			if !batchTracked {
				if batchTracked, err = tx.HasBatches(ctx, product.ID); err != nil {
					return err
				}
			}
		}
		out.Allocations = plan.Allocations
		result = OutboundResult{Outbound: out, Product: product, Consumption: plan.Allocations, Shortfall: plan.Shortfall}
		return nil
	})
	if err != nil {
		release()
		return OutboundResult{}, err
	}
	if result.Consumption == nil {
		result.Consumption = []BatchConsumption{}
	}
	if !batchTracked {
		result.Shortfall = 0
	}
	if result.Shortfall > 0 {
		s.logger.Warn("fifo shortfall",
			slog.Int64("product_id", result.Product.ID),
			slog.Int64("outbound_id", result.Outbound.ID),
			slog.Int("requested", result.Outbound.Quantity),
			slog.Int("shortfall", result.Shortfall))
		s.metrics.shortfall(result.Shortfall)
	}

	result.Events = []Event{outboundCreatedEvent(result.Outbound, result.Product, customer, result.Shortfall, input.Actor, now)}
	if crossedThreshold(before, result.Product.Quantity, result.Product.LowStockThreshold) {
		result.Events = append(result.Events, thresholdEvent(result.Product, input.Actor, now))
	}
	s.metrics.movement("outbound")
	s.logger.Info("outbound applied",
		slog.Int64("product_id", result.Product.ID),
		slog.Int("quantity", result.Outbound.Quantity),
		slog.Int("batches", len(result.Consumption)))
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

// Reconcile overwrites the recorded quantity with a physical count. Batches are left as-is.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (ReconcileResult, error) {
	if input.ProductID <= 0 {
		return ReconcileResult{}, shared.NewValidationError("product_id", "is required")
	}
	if input.CountedQuantity < 0 {
		return ReconcileResult{}, shared.NewValidationError("counted_quantity", "must be zero or greater")
	}

	now := s.now()
	var result ReconcileResult
	var before int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		before = product.Quantity
		rec := Reconciliation{
			ProductID:        product.ID,
			PreviousQuantity: product.Quantity,
			CountedQuantity:  input.CountedQuantity,
			Discrepancy:      input.CountedQuantity - product.Quantity,
			Reason:           strings.TrimSpace(input.Reason),
			ActorID:          actorID(input.Actor),
		}
		if err := tx.InsertReconciliation(ctx, &rec); err != nil {
			return err
		}
		product.Quantity = input.CountedQuantity
		if err := tx.UpdateProductQuantity(ctx, product.ID, product.Quantity); err != nil {
			return err
		}
		result = ReconcileResult{Reconciliation: rec, Product: product, Status: rec.Status()}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if crossedThreshold(before, result.Product.Quantity, result.Product.LowStockThreshold) {
		result.Events = append(result.Events, thresholdEvent(result.Product, input.Actor, now))
	}
	s.metrics.movement("reconciliation")
	s.logger.Info("stock reconciled",
		slog.Int64("product_id", result.Product.ID),
		slog.Int("discrepancy", result.Reconciliation.Discrepancy),
		slog.String("status", string(result.Status)))
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

// ListInbounds returns receipts.
func (s *Service) ListInbounds(ctx context.Context, filter MovementFilter) ([]Inbound, int, error) {
	return s.repo.ListInbounds(ctx, filter)
}

// ListOutbounds returns dispatches with their batch trace.
func (s *Service) ListOutbounds(ctx context.Context, filter MovementFilter) ([]Outbound, int, error) {
	return s.repo.ListOutbounds(ctx, filter)
}

// ListReconciliations returns recorded counts.
func (s *Service) ListReconciliations(ctx context.Context, filter MovementFilter) ([]Reconciliation, int, error) {
	return s.repo.ListReconciliations(ctx, filter)
}

// ListBatches returns batches with derived fields for today.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]BatchView, error) {
	batches, err := s.repo.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	today := s.now()
	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, b.View(today))
	}
	return views, nil
}

// ExpiryScanResult summarises a batch expiry scan.
type ExpiryScanResult struct {
	Expiring int
	Expired  int
}

// NotifyBatchExpiry announces batches entering the expiry window or past expiry, once each.
func (s *Service) NotifyBatchExpiry(ctx context.Context) (ExpiryScanResult, error) {
	now := s.now()
	today := truncateDay(now)
	notices, err := s.repo.ListPendingExpiryNotices(ctx, today, today.AddDate(0, 0, s.cfg.ExpiryWindowDays))
	if err != nil {
		return ExpiryScanResult{}, err
	}
	var result ExpiryScanResult
	events := make([]Event, 0, len(notices))
	for _, notice := range notices {
		if err := s.repo.MarkExpiryNotified(ctx, notice.Batch.ID, notice.Kind, now); err != nil {
			return result, err
		}
		if notice.Kind == NoticeExpired {
			result.Expired++
		} else {
			result.Expiring++
		}
		events = append(events, expiryEvent(notice, today, now))
	}
	s.publisher.Publish(ctx, events...)
	if len(events) > 0 {
		s.logger.Info("batch expiry notices", slog.Int("expiring", result.Expiring), slog.Int("expired", result.Expired))
	}
	return result, nil
}

func (s *Service) lockMovableProduct(ctx context.Context, tx TxRepository, productID int64) (products.Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return products.Product{}, shared.NewValidationError("product_id", "does not exist")
		}
		return products.Product{}, err
	}
	if product.IsArchived {
		return products.Product{}, shared.NewValidationError("product_id", "is archived")
	}
	return product, nil
}

func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func validateInbound(input InboundInput) error {
	if input.ProductID <= 0 {
		return shared.NewValidationError("product_id", "is required")
	}
	if input.Quantity <= 0 {
		return shared.NewValidationError("quantity", "must be greater than zero")
	}
	batchID := strings.TrimSpace(input.BatchID)
	if batchID != input.BatchID {
		return shared.NewValidationError("batch_id", "must not have surrounding spaces")
	}
	if (batchID == "") != (input.ExpiryDate == nil) {
		return shared.NewValidationError("batch_id", "batch_id and expiry_date must be supplied together")
	}
	return nil
}

func validateOutbound(input OutboundInput) error {
	if input.ProductID <= 0 {
		return shared.NewValidationError("product_id", "is required")
	}
	if input.Quantity <= 0 {
		return shared.NewValidationError("quantity", "must be greater than zero")
	}
	return nil
}

func partnerError(field string, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewValidationError(field, "does not exist")
	}
	return err
}

func actorID(p *shared.Principal) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}
