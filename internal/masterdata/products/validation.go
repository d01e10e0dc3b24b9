package products

import (
	"strings"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return shared.NewValidationError("sku", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return shared.NewValidationError("name", "is required")
	}
	if p.LowStockThreshold < 0 {
		return shared.NewValidationError("low_stock_threshold", "must be >= 0")
	}
	return nil
}
