package products

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	SetArchived(ctx context.Context, id int64, archived bool) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, sku, name, description, category, tags, quantity, low_stock_threshold, is_archived, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if !filters.IncludeArchived {
		where += ` AND is_archived = FALSE`
	}
	if filters.LowStockOnly {
		where += ` AND quantity <= low_stock_threshold`
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, internalShared.ErrNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	query := `INSERT INTO products (sku, name, description, category, tags, quantity, low_stock_threshold, is_archived, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, 0, $6, FALSE, $7, $8) RETURNING id`
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, query, product.SKU, product.Name, product.Description, product.Category, product.Tags, product.LowStockThreshold, now, now).Scan(&product.ID)
	if err != nil {
		if internalShared.IsUniqueViolation(err) {
			return Product{}, internalShared.ErrDuplicate
		}
		return Product{}, err
	}
	product.Quantity = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	query := `UPDATE products SET sku = $1, name = $2, description = $3, category = $4, tags = $5, low_stock_threshold = $6, updated_at = $7 WHERE id = $8`
	tag, err := r.db.Exec(ctx, query, product.SKU, product.Name, product.Description, product.Category, product.Tags, product.LowStockThreshold, time.Now().UTC(), id)
	if err != nil {
		if internalShared.IsUniqueViolation(err) {
			return internalShared.ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return internalShared.ErrNotFound
	}
	return nil
}

func (r *repository) SetArchived(ctx context.Context, id int64, archived bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET is_archived = $1, updated_at = $2 WHERE id = $3`, archived, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return internalShared.ErrNotFound
	}
	return nil
}

// ScanProduct reads a row selected with the canonical column order.
func ScanProduct(row pgx.Row) (Product, error) {
	return scanProduct(row)
}

// Columns returns the canonical product column list.
func Columns() string {
	return productColumns
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Category, &p.Tags, &p.Quantity, &p.LowStockThreshold, &p.IsArchived, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "sku":
		return "sku " + dir
	case "quantity":
		return "quantity " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
