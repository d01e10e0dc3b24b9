package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// ExpiringSoonDays is the window in which a batch counts as expiring soon.
const ExpiringSoonDays = 30

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Batch is a per-product pool of stock sharing one expiry date.
type Batch struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	BatchID         string    `json:"batch_id"`
	Quantity        int       `json:"quantity"`
	InitialQuantity int       `json:"initial_quantity"`
	ExpiryDate      time.Time `json:"expiry_date"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsExpired reports whether the batch expired before today.
func (b Batch) IsExpired(today time.Time) bool {
	return b.ExpiryDate.Before(truncateDay(today))
}

// IsExpiringSoon reports whether the batch expires within ExpiringSoonDays and is not yet expired.
func (b Batch) IsExpiringSoon(today time.Time) bool {
	day := truncateDay(today)
	return !b.IsExpired(day) && !b.ExpiryDate.After(day.AddDate(0, 0, ExpiringSoonDays))
}

// DaysUntilExpiry returns whole days left, zero once expired.
func (b Batch) DaysUntilExpiry(today time.Time) int {
	day := truncateDay(today)
	if b.IsExpired(day) {
		return 0
	}
	return int(truncateDay(b.ExpiryDate).Sub(day).Hours() / 24)
}

// UtilizationPercentage is the consumed share of the initial quantity.
func (b Batch) UtilizationPercentage() float64 {
	if b.InitialQuantity == 0 {
		return 0
	}
	return float64(b.InitialQuantity-b.Quantity) / float64(b.InitialQuantity) * 100
}

// BatchView is a batch with its derived fields evaluated for a given day.
type BatchView struct {
	Batch
	IsExpired             bool    `json:"is_expired"`
	IsExpiringSoon        bool    `json:"is_expiring_soon"`
	DaysUntilExpiry       int     `json:"days_until_expiry"`
	UtilizationPercentage float64 `json:"utilization_percentage"`
}

// View evaluates derived fields.
func (b Batch) View(today time.Time) BatchView {
	return BatchView{
		Batch:                 b,
		IsExpired:             b.IsExpired(today),
		IsExpiringSoon:        b.IsExpiringSoon(today),
		DaysUntilExpiry:       b.DaysUntilExpiry(today),
		UtilizationPercentage: b.UtilizationPercentage(),
	}
}

// BatchConsumption is one step of a FIFO draw-down.
type BatchConsumption struct {
	BatchRowID int64     `json:"batch_row_id"`
	BatchID    string    `json:"batch_id"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// Inbound is an append-only receipt of stock.
type Inbound struct {
	ID            int64      `json:"id"`
	ProductID     int64      `json:"product_id"`
	SupplierID    *int64     `json:"supplier_id,omitempty"`
	Quantity      int        `json:"quantity"`
	BatchID       string     `json:"batch_id,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceFile   string     `json:"invoice_file,omitempty"`
	ReceivedDate  time.Time  `json:"received_date"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Outbound is an append-only dispatch of stock.
type Outbound struct {
	ID               int64              `json:"id"`
	ProductID        int64              `json:"product_id"`
	CustomerID       *int64             `json:"customer_id,omitempty"`
	Quantity         int                `json:"quantity"`
	SOReference      string             `json:"so_reference"`
	DispatchDate     time.Time          `json:"dispatch_date"`
	DeliveryNoteFile string             `json:"delivery_note_file,omitempty"`
	CreatedBy        int64              `json:"created_by"`
	CreatedAt        time.Time          `json:"created_at"`
	Allocations      []BatchConsumption `json:"allocations,omitempty"`
}

// Reconciliation records a physical count against the ledger.
type Reconciliation struct {
	ID               int64     `json:"id"`
	ProductID        int64     `json:"product_id"`
	PreviousQuantity int       `json:"previous_quantity"`
	CountedQuantity  int       `json:"counted_quantity"`
	Discrepancy      int       `json:"discrepancy"`
	Reason           string    `json:"reason"`
	ActorID          int64     `json:"actor_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReconciliationStatus classifies a discrepancy.
type ReconciliationStatus string

const (
	StatusBalanced ReconciliationStatus = "balanced"
	StatusSurplus  ReconciliationStatus = "surplus"
	StatusShortage ReconciliationStatus = "shortage"
)

// Status classifies the discrepancy sign.
func (r Reconciliation) Status() ReconciliationStatus {
	switch {
	case r.Discrepancy > 0:
		return StatusSurplus
	case r.Discrepancy < 0:
		return StatusShortage
	default:
		return StatusBalanced
	}
}

// InboundInput is used to receive stock.
type InboundInput struct {
	ProductID      int64
	SupplierID     *int64
	Quantity       int
	BatchID        string
	ExpiryDate     *time.Time
	InvoiceNumber  string
	InvoiceFile    string
	Actor          *shared.Principal
	IdempotencyKey string
}

// OutboundInput is used to dispatch stock.
type OutboundInput struct {
	ProductID        int64
	CustomerID       *int64
	Quantity         int
	SOReference      string
	DispatchDate     *time.Time
	DeliveryNoteFile string
	Actor            *shared.Principal
	IdempotencyKey   string
}

// ReconcileInput is a physical count for one product.
type ReconcileInput struct {
	ProductID       int64
	CountedQuantity int
	Reason          string
	Actor           *shared.Principal
}

// InboundResult is returned by ApplyInbound.
type InboundResult struct {
	Inbound Inbound          `json:"inbound"`
	Product products.Product `json:"product"`
	Batch   *Batch           `json:"batch,omitempty"`
	Events  []Event          `json:"-"`
}

// OutboundResult is returned by ApplyOutbound.
type OutboundResult struct {
	Outbound    Outbound           `json:"outbound"`
	Product     products.Product   `json:"product"`
	Consumption []BatchConsumption `json:"consumption"`
	Shortfall   int                `json:"shortfall"`
	Events      []Event            `json:"-"`
}

// ReconcileResult is returned by Reconcile.
type ReconcileResult struct {
	Reconciliation Reconciliation       `json:"reconciliation"`
	Product        products.Product     `json:"product"`
	Status         ReconciliationStatus `json:"status"`
	Events         []Event              `json:"-"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID int64
	Limit     int
	Offset    int
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID     int64
	AvailableOnly bool
}

// ExpiryNoticeKind distinguishes the two batch expiry notifications.
type ExpiryNoticeKind string

const (
	NoticeExpiring ExpiryNoticeKind = "expiring"
	NoticeExpired  ExpiryNoticeKind = "expired"
)

// ExpiryNotice is a batch that has not yet been announced for its expiry state.
type ExpiryNotice struct {
	Batch       Batch
	ProductName string
	ProductSKU  string
	Kind        ExpiryNoticeKind
}

// InsufficientStockError reports an outbound larger than the on-hand quantity.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Unwrap allows errors.Is(err, shared.ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// ErrBatchNotFound indicates missing batch row.
var ErrBatchNotFound = errors.New("inventory: batch not found")

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
