package products

import (
	"time"
)

// DefaultLowStockThreshold applies when a product is created without a threshold.
const DefaultLowStockThreshold = 10

// Product is the ledger row holding on-hand stock for one SKU.
type Product struct {
	ID                int64     `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	Tags              string    `json:"tags"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	IsArchived        bool      `json:"is_archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLowStock reports whether the on-hand quantity is at or below the threshold.
func (p Product) IsLowStock() bool {
	return p.Quantity <= p.LowStockThreshold
}
