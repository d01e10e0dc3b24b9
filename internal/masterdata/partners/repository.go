package partners

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Partner, int, error)
	Get(ctx context.Context, id int64) (Partner, error)
	Create(ctx context.Context, partner Partner) (Partner, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Partner, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM partners WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR name ILIKE '%' || $2 || '%')`, filters.Kind, filters.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = shared.DefaultLimit
	}
	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `SELECT id, kind, name, email, phone, created_at FROM partners
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name ASC LIMIT $3 OFFSET $4`, filters.Kind, filters.Search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var partners []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Kind, &p.Name, &p.Email, &p.Phone, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		partners = append(partners, p)
	}
	return partners, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Partner, error) {
	var p Partner
	err := r.db.QueryRow(ctx, `SELECT id, kind, name, email, phone, created_at FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Kind, &p.Name, &p.Email, &p.Phone, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Partner{}, internalShared.ErrNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, partner Partner) (Partner, error) {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `INSERT INTO partners (kind, name, email, phone, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		partner.Kind, partner.Name, partner.Email, partner.Phone, now).Scan(&partner.ID)
	if err != nil {
		return Partner{}, err
	}
	partner.CreatedAt = now
	return partner, nil
}
