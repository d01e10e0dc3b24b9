package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindProductIDBySKU(ctx context.Context, sku string) (int64, error)
	ListInbounds(ctx context.Context, filter MovementFilter) ([]Inbound, int, error)
	ListOutbounds(ctx context.Context, filter MovementFilter) ([]Outbound, int, error)
	ListReconciliations(ctx context.Context, filter MovementFilter) ([]Reconciliation, int, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListPendingExpiryNotices(ctx context.Context, today, horizon time.Time) ([]ExpiryNotice, error)
	MarkExpiryNotified(ctx context.Context, batchID int64, kind ExpiryNoticeKind, at time.Time) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (products.Product, error)
	UpdateProductQuantity(ctx context.Context, productID int64, quantity int) error
	PartnerName(ctx context.Context, partnerID int64, kind string) (string, error)
	InsertInbound(ctx context.Context, in *Inbound) error
	GetBatchForUpdate(ctx context.Context, productID int64, batchID string) (Batch, error)
	InsertBatch(ctx context.Context, batch *Batch) error
	AddToBatch(ctx context.Context, batchRowID int64, quantity int) (Batch, error)
	ListAvailableBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error)
	HasBatches(ctx context.Context, productID int64) (bool, error)
	ConsumeBatch(ctx context.Context, batchRowID int64, quantity int) error
	InsertOutbound(ctx context.Context, out *Outbound) error
	InsertAllocations(ctx context.Context, outboundID int64, allocations []BatchConsumption) error
	InsertReconciliation(ctx context.Context, rec *Reconciliation) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Row locks taken with
// FOR UPDATE serialise writers per product; a stricter level would abort the waiting writer.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const batchColumns = "id, product_id, batch_id, quantity, initial_quantity, expiry_date, created_at, updated_at"

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.BatchID, &b.Quantity, &b.InitialQuantity, &b.ExpiryDate, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (products.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE id = $1 FOR UPDATE`, products.Columns())
	product, err := products.ScanProduct(r.tx.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return products.Product{}, shared.ErrNotFound
		}
		return products.Product{}, fmt.Errorf("inventory: lock product: %w", err)
	}
	return product, nil
}

func (r *txRepository) UpdateProductQuantity(ctx context.Context, productID int64, quantity int) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET quantity = $2, updated_at = NOW() WHERE id = $1`, productID, quantity)
	if err != nil {
		return fmt.Errorf("inventory: update product quantity: %w", err)
	}
	return nil
}

func (r *txRepository) PartnerName(ctx context.Context, partnerID int64, kind string) (string, error) {
	var name string
	err := r.tx.QueryRow(ctx, `SELECT name FROM partners WHERE id = $1 AND kind = $2`, partnerID, kind).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("inventory: partner name: %w", err)
	}
	return name, nil
}

func (r *txRepository) InsertInbound(ctx context.Context, in *Inbound) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO inbounds (product_id, supplier_id, quantity, batch_id, expiry_date, invoice_number, invoice_file, received_date, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		in.ProductID, in.SupplierID, in.Quantity, nullString(in.BatchID), in.ExpiryDate, in.InvoiceNumber, in.InvoiceFile, in.ReceivedDate, nullInt(in.CreatedBy)).
		Scan(&in.ID, &in.CreatedAt)
	if err != nil {
		return fmt.Errorf("inventory: insert inbound: %w", err)
	}
	return nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, productID int64, batchID string) (Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE product_id = $1 AND batch_id = $2 FOR UPDATE`, batchColumns)
	b, err := scanBatch(r.tx.QueryRow(ctx, query, productID, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, fmt.Errorf("inventory: lock batch: %w", err)
	}
	return b, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch *Batch) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (product_id, batch_id, quantity, initial_quantity, expiry_date)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		batch.ProductID, batch.BatchID, batch.Quantity, batch.InitialQuantity, batch.ExpiryDate).
		Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("inventory: insert batch: %w", shared.ErrDuplicate)
		}
		return fmt.Errorf("inventory: insert batch: %w", err)
	}
	return nil
}

func (r *txRepository) AddToBatch(ctx context.Context, batchRowID int64, quantity int) (Batch, error) {
	query := fmt.Sprintf(`UPDATE batches SET quantity = quantity + $2, initial_quantity = initial_quantity + $2, updated_at = NOW()
WHERE id = $1 RETURNING %s`, batchColumns)
	b, err := scanBatch(r.tx.QueryRow(ctx, query, batchRowID, quantity))
	if err != nil {
		return Batch{}, fmt.Errorf("inventory: merge batch: %w", err)
	}
	return b, nil
}

func (r *txRepository) ListAvailableBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE product_id = $1 AND quantity > 0
ORDER BY expiry_date ASC, created_at ASC, id ASC FOR UPDATE`, batchColumns)
	rows, err := r.tx.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock batches: %w", err)
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) HasBatches(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE product_id = $1)`, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: batch presence: %w", err)
	}
	return exists, nil
}

func (r *txRepository) ConsumeBatch(ctx context.Context, batchRowID int64, quantity int) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET quantity = quantity - $2, updated_at = NOW() WHERE id = $1 AND quantity >= $2`, batchRowID, quantity)
	if err != nil {
		return fmt.Errorf("inventory: consume batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: consume batch %d: %w", batchRowID, ErrBatchNotFound)
	}
	return nil
}

func (r *txRepository) InsertOutbound(ctx context.Context, out *Outbound) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO outbounds (product_id, customer_id, quantity, so_reference, dispatch_date, delivery_note_file, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		out.ProductID, out.CustomerID, out.Quantity, out.SOReference, out.DispatchDate, out.DeliveryNoteFile, nullInt(out.CreatedBy)).
		Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return fmt.Errorf("inventory: insert outbound: %w", err)
	}
	return nil
}

func (r *txRepository) InsertAllocations(ctx context.Context, outboundID int64, allocations []BatchConsumption) error {
	if len(allocations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`INSERT INTO outbound_batch_allocations (outbound_id, batch_row_id, batch_id, quantity, expiry_date) VALUES ($1,$2,$3,$4,$5)`,
			outboundID, a.BatchRowID, a.BatchID, a.Quantity, a.ExpiryDate)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range allocations {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("inventory: insert allocation: %w", err)
		}
	}
	return results.Close()
}

func (r *txRepository) InsertReconciliation(ctx context.Context, rec *Reconciliation) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reconciliations (product_id, previous_quantity, counted_quantity, discrepancy, reason, actor_id)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		rec.ProductID, rec.PreviousQuantity, rec.CountedQuantity, rec.Discrepancy, rec.Reason, nullInt(rec.ActorID)).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inventory: insert reconciliation: %w", err)
	}
	return nil
}

// FindProductIDBySKU resolves a SKU to its product id.
func (r *Repository) FindProductIDBySKU(ctx context.Context, sku string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM products WHERE sku = $1`, sku).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, fmt.Errorf("inventory: product by sku: %w", err)
	}
	return id, nil
}

func movementWhere(filter MovementFilter) (string, []any) {
	if filter.ProductID > 0 {
		return " WHERE product_id = $1", []any{filter.ProductID}
	}
	return "", nil
}

func pageArgs(filter MovementFilter, args []any) (string, []any) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	clause := fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	return clause, append(args, limit, filter.Offset)
}

func (r *Repository) count(ctx context.Context, table, where string, args []any) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total)
	return total, err
}

// ListInbounds returns receipts newest first.
func (r *Repository) ListInbounds(ctx context.Context, filter MovementFilter) ([]Inbound, int, error) {
	where, args := movementWhere(filter)
	total, err := r.count(ctx, "inbounds", where, args)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: count inbounds: %w", err)
	}
	page, args := pageArgs(filter, args)
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, supplier_id, quantity, COALESCE(batch_id, ''), expiry_date, invoice_number, invoice_file, received_date, COALESCE(created_by, 0), created_at
FROM inbounds`+where+page, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list inbounds: %w", err)
	}
	defer rows.Close()
	var out []Inbound
	for rows.Next() {
		var in Inbound
		if err := rows.Scan(&in.ID, &in.ProductID, &in.SupplierID, &in.Quantity, &in.BatchID, &in.ExpiryDate, &in.InvoiceNumber, &in.InvoiceFile, &in.ReceivedDate, &in.CreatedBy, &in.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, in)
	}
	return out, total, rows.Err()
}

// ListOutbounds returns dispatches newest first with their allocations.
func (r *Repository) ListOutbounds(ctx context.Context, filter MovementFilter) ([]Outbound, int, error) {
	where, args := movementWhere(filter)
	total, err := r.count(ctx, "outbounds", where, args)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: count outbounds: %w", err)
	}
	page, args := pageArgs(filter, args)
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, customer_id, quantity, so_reference, dispatch_date, delivery_note_file, COALESCE(created_by, 0), created_at
FROM outbounds`+where+page, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list outbounds: %w", err)
	}
	var out []Outbound
	index := map[int64]int{}
	var ids []int64
	for rows.Next() {
		var o Outbound
		if err := rows.Scan(&o.ID, &o.ProductID, &o.CustomerID, &o.Quantity, &o.SOReference, &o.DispatchDate, &o.DeliveryNoteFile, &o.CreatedBy, &o.CreatedAt); err != nil {
			rows.Close()
			return nil, 0, err
		}
		index[o.ID] = len(out)
		ids = append(ids, o.ID)
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	allocRows, err := r.pool.Query(ctx, `SELECT outbound_id, batch_row_id, batch_id, quantity, expiry_date
FROM outbound_batch_allocations WHERE outbound_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list allocations: %w", err)
	}
	defer allocRows.Close()
	for allocRows.Next() {
		var outboundID int64
		var a BatchConsumption
		if err := allocRows.Scan(&outboundID, &a.BatchRowID, &a.BatchID, &a.Quantity, &a.ExpiryDate); err != nil {
			return nil, 0, err
		}
		if i, ok := index[outboundID]; ok {
			out[i].Allocations = append(out[i].Allocations, a)
		}
	}
	return out, total, allocRows.Err()
}

// ListReconciliations returns counts newest first.
func (r *Repository) ListReconciliations(ctx context.Context, filter MovementFilter) ([]Reconciliation, int, error) {
	where, args := movementWhere(filter)
	total, err := r.count(ctx, "stock_reconciliations", where, args)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: count reconciliations: %w", err)
	}
	page, args := pageArgs(filter, args)
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, previous_quantity, counted_quantity, discrepancy, reason, COALESCE(actor_id, 0), created_at
FROM stock_reconciliations`+where+page, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list reconciliations: %w", err)
	}
	defer rows.Close()
	var out []Reconciliation
	for rows.Next() {
		var rec Reconciliation
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.PreviousQuantity, &rec.CountedQuantity, &rec.Discrepancy, &rec.Reason, &rec.ActorID, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// ListBatches returns batches in FIFO order.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE ($1 = 0 OR product_id = $1) AND (NOT $2 OR quantity > 0)
ORDER BY expiry_date ASC, created_at ASC, id ASC`, batchColumns)
	rows, err := r.pool.Query(ctx, query, filter.ProductID, filter.AvailableOnly)
	if err != nil {
		return nil, fmt.Errorf("inventory: list batches: %w", err)
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListPendingExpiryNotices returns stocked batches that expired before today or expire by
// horizon and have not been announced in that state yet.
func (r *Repository) ListPendingExpiryNotices(ctx context.Context, today, horizon time.Time) ([]ExpiryNotice, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.product_id, b.batch_id, b.quantity, b.initial_quantity, b.expiry_date, b.created_at, b.updated_at,
	p.name, p.sku,
	CASE WHEN b.expiry_date < $1 THEN 'expired' ELSE 'expiring' END
FROM batches b JOIN products p ON p.id = b.product_id
WHERE b.quantity > 0 AND (
	(b.expiry_date < $1 AND b.expired_notified_at IS NULL) OR
	(b.expiry_date >= $1 AND b.expiry_date <= $2 AND b.expiring_notified_at IS NULL)
)
ORDER BY b.expiry_date ASC, b.id ASC`, today, horizon)
	if err != nil {
		return nil, fmt.Errorf("inventory: list expiry notices: %w", err)
	}
	defer rows.Close()
	var out []ExpiryNotice
	for rows.Next() {
		var n ExpiryNotice
		var kind string
		b := &n.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchID, &b.Quantity, &b.InitialQuantity, &b.ExpiryDate, &b.CreatedAt, &b.UpdatedAt, &n.ProductName, &n.ProductSKU, &kind); err != nil {
			return nil, err
		}
		n.Kind = ExpiryNoticeKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkExpiryNotified stamps the notified-at marker for kind.
func (r *Repository) MarkExpiryNotified(ctx context.Context, batchID int64, kind ExpiryNoticeKind, at time.Time) error {
	column := "expiring_notified_at"
	if kind == NoticeExpired {
		column = "expired_notified_at"
	}
	_, err := r.pool.Exec(ctx, "UPDATE batches SET "+column+" = $2 WHERE id = $1", batchID, at)
	if err != nil {
		return fmt.Errorf("inventory: mark expiry notified: %w", err)
	}
	return nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
