package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Repository persists subscriptions and the delivery log.
type Repository interface {
	List(ctx context.Context) ([]Webhook, error)
	ListActive(ctx context.Context, eventType inventory.EventType) ([]Webhook, error)
	Get(ctx context.Context, id int64) (Webhook, error)
	Create(ctx context.Context, hook Webhook) (Webhook, error)
	Update(ctx context.Context, id int64, hook Webhook) (Webhook, error)
	Delete(ctx context.Context, id int64) error
	InsertDelivery(ctx context.Context, delivery *Delivery) error
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const webhookColumns = "id, name, url, webhook_type, is_active, secret_key, headers, created_at, updated_at"

func scanWebhook(row pgx.Row) (Webhook, error) {
	var w Webhook
	var eventType string
	var headers []byte
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &eventType, &w.IsActive, &w.SecretKey, &headers, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Webhook{}, err
	}
	w.WebhookType = inventory.EventType(eventType)
	w.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return Webhook{}, fmt.Errorf("webhooks: decode headers: %w", err)
		}
	}
	return w, nil
}

func (r *repository) query(ctx context.Context, sql string, args ...any) ([]Webhook, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("webhooks: list: %w", err)
	}
	defer rows.Close()
	var out []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context) ([]Webhook, error) {
	return r.query(ctx, "SELECT "+webhookColumns+" FROM webhooks ORDER BY id")
}

func (r *repository) ListActive(ctx context.Context, eventType inventory.EventType) ([]Webhook, error) {
	return r.query(ctx, "SELECT "+webhookColumns+" FROM webhooks WHERE is_active AND webhook_type = $1 ORDER BY id", string(eventType))
}

func (r *repository) Get(ctx context.Context, id int64) (Webhook, error) {
	w, err := scanWebhook(r.db.QueryRow(ctx, "SELECT "+webhookColumns+" FROM webhooks WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Webhook{}, shared.ErrNotFound
		}
		return Webhook{}, fmt.Errorf("webhooks: get: %w", err)
	}
	return w, nil
}

func (r *repository) Create(ctx context.Context, hook Webhook) (Webhook, error) {
	headers, err := json.Marshal(hook.Headers)
	if err != nil {
		return Webhook{}, err
	}
	created, err := scanWebhook(r.db.QueryRow(ctx, `INSERT INTO webhooks (name, url, webhook_type, is_active, secret_key, headers)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+webhookColumns,
		hook.Name, hook.URL, string(hook.WebhookType), hook.IsActive, hook.SecretKey, headers))
	if err != nil {
		return Webhook{}, fmt.Errorf("webhooks: create: %w", err)
	}
	return created, nil
}

func (r *repository) Update(ctx context.Context, id int64, hook Webhook) (Webhook, error) {
	headers, err := json.Marshal(hook.Headers)
	if err != nil {
		return Webhook{}, err
	}
	updated, err := scanWebhook(r.db.QueryRow(ctx, `UPDATE webhooks SET name = $2, url = $3, webhook_type = $4, is_active = $5, secret_key = $6, headers = $7, updated_at = NOW()
WHERE id = $1 RETURNING `+webhookColumns,
		id, hook.Name, hook.URL, string(hook.WebhookType), hook.IsActive, hook.SecretKey, headers))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Webhook{}, shared.ErrNotFound
		}
		return Webhook{}, fmt.Errorf("webhooks: update: %w", err)
	}
	return updated, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("webhooks: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) InsertDelivery(ctx context.Context, d *Delivery) error {
	err := r.db.QueryRow(ctx, `INSERT INTO webhook_deliveries (webhook_id, event_type, payload, response_status, response_body, success, error_message, attempt)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		d.WebhookID, string(d.EventType), []byte(d.Payload), d.ResponseStatus, d.ResponseBody, d.Success, d.ErrorMessage, d.Attempt).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("webhooks: record delivery: %w", err)
	}
	return nil
}

func (r *repository) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, int, error) {
	var conditions []string
	var args []any
	if filter.WebhookID > 0 {
		args = append(args, filter.WebhookID)
		conditions = append(conditions, fmt.Sprintf("webhook_id = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.Success != nil {
		args = append(args, *filter.Success)
		conditions = append(conditions, fmt.Sprintf("success = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM webhook_deliveries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("webhooks: count deliveries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT id, webhook_id, event_type, payload, response_status, response_body, success, error_message, attempt, created_at
FROM webhook_deliveries%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("webhooks: list deliveries: %w", err)
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		var d Delivery
		var eventType string
		var payload []byte
		if err := rows.Scan(&d.ID, &d.WebhookID, &eventType, &payload, &d.ResponseStatus, &d.ResponseBody, &d.Success, &d.ErrorMessage, &d.Attempt, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		d.EventType = inventory.EventType(eventType)
		d.Payload = payload
		out = append(out, d)
	}
	return out, total, rows.Err()
}
