package products

import (
	"context"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, internalShared.NewValidationError("id", "is invalid")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, form ProductForm) (Product, error) {
	product := form.toProduct()
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, product)
}

// Update changes descriptive fields and the threshold; quantity is untouched.
func (s *Service) Update(ctx context.Context, id int64, form ProductForm) (Product, error) {
	if id <= 0 {
		return Product{}, internalShared.NewValidationError("id", "is invalid")
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	product := form.toProduct()
	if form.LowStockThreshold == nil {
		product.LowStockThreshold = current.LowStockThreshold
	}
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	if err := s.repo.Update(ctx, id, product); err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Archive(ctx context.Context, id int64, archived bool) error {
	if id <= 0 {
		return internalShared.NewValidationError("id", "is invalid")
	}
	return s.repo.SetArchived(ctx, id, archived)
}
