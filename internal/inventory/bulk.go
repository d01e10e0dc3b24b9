package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// MaxBulkRows caps a single bulk request.
const MaxBulkRows = 1000

// Movement kinds accepted by ApplyBulk.
const (
	MovementInbound  = "inbound"
	MovementOutbound = "outbound"
)

// BulkRow is one movement of a bulk import. Products resolve by id, or by SKU when id is zero.
type BulkRow struct {
	Type          string     `json:"type"`
	ProductID     int64      `json:"product_id"`
	SKU           string     `json:"sku"`
	Quantity      int        `json:"quantity"`
	BatchID       string     `json:"batch_id"`
	ExpiryDate    *time.Time `json:"-"`
	InvoiceNumber string     `json:"invoice_number"`
	SOReference   string     `json:"so_reference"`
}

// BulkInput groups rows from one upload.
type BulkInput struct {
	FileName string
	Rows     []BulkRow
	Actor    *shared.Principal
}

// BulkFailure reports a rejected row by its zero-based index.
type BulkFailure struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// BulkResult summarises a bulk import.
type BulkResult struct {
	Applied  int           `json:"applied"`
	Failures []BulkFailure `json:"failures"`
}

// ApplyBulk applies every row in its own transaction and reports per-row failures.
// A bulk_upload event follows when at least one row was applied.
func (s *Service) ApplyBulk(ctx context.Context, input BulkInput) (BulkResult, error) {
	if len(input.Rows) == 0 {
		return BulkResult{}, shared.NewValidationError("rows", "must not be empty")
	}
	if len(input.Rows) > MaxBulkRows {
		return BulkResult{}, shared.NewValidationError("rows", "too many rows")
	}
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		fileName = "bulk-movements.json"
	}

	result := BulkResult{Failures: []BulkFailure{}}
	kinds := map[string]struct{}{}
	for i, row := range input.Rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.applyBulkRow(ctx, row, input.Actor); err != nil {
			if !isRowError(err) {
				s.logger.Error("bulk row failed", slog.Int("row", i), slog.Any("error", err))
			}
			result.Failures = append(result.Failures, BulkFailure{Row: i, Error: err.Error()})
			continue
		}
		kinds[row.Type] = struct{}{}
		result.Applied++
	}

	if result.Applied > 0 {
		uploadType := "mixed"
		if len(kinds) == 1 {
			for k := range kinds {
				uploadType = k
			}
		}
		s.publisher.Publish(ctx, BulkUploadEvent(fileName, result.Applied, uploadType, input.Actor, s.now()))
	}
	s.logger.Info("bulk movements applied",
		slog.String("file_name", fileName),
		slog.Int("applied", result.Applied),
		slog.Int("failed", len(result.Failures)))
	return result, nil
}

func (s *Service) applyBulkRow(ctx context.Context, row BulkRow, actor *shared.Principal) error {
	productID := row.ProductID
	if productID == 0 {
		sku := strings.TrimSpace(row.SKU)
		if sku == "" {
			return shared.NewValidationError("sku", "or product_id is required")
		}
		id, err := s.repo.FindProductIDBySKU(ctx, sku)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewValidationError("sku", "does not exist")
			}
			return err
		}
		productID = id
	}

	switch row.Type {
	case MovementInbound:
		_, err := s.ApplyInbound(ctx, InboundInput{
			ProductID:     productID,
			Quantity:      row.Quantity,
			BatchID:       row.BatchID,
			ExpiryDate:    row.ExpiryDate,
			InvoiceNumber: row.InvoiceNumber,
			Actor:         actor,
		})
		return err
	case MovementOutbound:
		_, err := s.ApplyOutbound(ctx, OutboundInput{
			ProductID:   productID,
			Quantity:    row.Quantity,
			SOReference: row.SOReference,
			Actor:       actor,
		})
		return err
	default:
		return shared.NewValidationError("type", "must be inbound or outbound")
	}
}

func isRowError(err error) bool {
	return errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrInsufficientStock)
}
