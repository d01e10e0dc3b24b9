package partners

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Partner, int, error) {
	if filters.Kind != "" && !Kind(filters.Kind).Valid() {
		return nil, 0, internalShared.NewValidationError("kind", "must be supplier or customer")
	}
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Partner, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, form PartnerForm) (Partner, error) {
	if !form.Kind.Valid() {
		return Partner{}, internalShared.NewValidationError("kind", "must be supplier or customer")
	}
	if strings.TrimSpace(form.Name) == "" {
		return Partner{}, internalShared.NewValidationError("name", "is required")
	}
	return s.repo.Create(ctx, Partner{Kind: form.Kind, Name: strings.TrimSpace(form.Name), Email: form.Email, Phone: form.Phone})
}
