package products

// ProductForm is the writable subset of a product. Quantity is owned by the
// inventory ledger and is not accepted here.
type ProductForm struct {
	SKU               string `json:"sku" validate:"required,max=50"`
	Name              string `json:"name" validate:"required,max=100"`
	Description       string `json:"description"`
	Category          string `json:"category" validate:"max=50"`
	Tags              string `json:"tags" validate:"max=100"`
	LowStockThreshold *int   `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

func (f ProductForm) toProduct() Product {
	p := Product{
		SKU:               f.SKU,
		Name:              f.Name,
		Description:       f.Description,
		Category:          f.Category,
		Tags:              f.Tags,
		LowStockThreshold: DefaultLowStockThreshold,
	}
	if f.LowStockThreshold != nil {
		p.LowStockThreshold = *f.LowStockThreshold
	}
	return p
}
