package partners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryRepo struct {
	items []Partner
}

func (r *memoryRepo) List(ctx context.Context, filters shared.ListFilters) ([]Partner, int, error) {
	var out []Partner
	for _, p := range r.items {
		if filters.Kind == "" || string(p.Kind) == filters.Kind {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Partner, error) {
	for _, p := range r.items {
		if p.ID == id {
			return p, nil
		}
	}
	return Partner{}, internalShared.ErrNotFound
}

func (r *memoryRepo) Create(ctx context.Context, partner Partner) (Partner, error) {
	partner.ID = int64(len(r.items) + 1)
	r.items = append(r.items, partner)
	return partner, nil
}

func TestCreateAndFilterByKind(t *testing.T) {
	svc := NewService(&memoryRepo{})
	ctx := context.Background()

	_, err := svc.Create(ctx, PartnerForm{Kind: KindSupplier, Name: " PT Sumber Makmur "})
	require.NoError(t, err)
	_, err = svc.Create(ctx, PartnerForm{Kind: KindCustomer, Name: "Toko Jaya"})
	require.NoError(t, err)

	suppliers, total, err := svc.List(ctx, shared.ListFilters{Kind: "supplier"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "PT Sumber Makmur", suppliers[0].Name)

	_, _, err = svc.List(ctx, shared.ListFilters{Kind: "vendor"})
	require.ErrorIs(t, err, internalShared.ErrValidation)

	_, err = svc.Create(ctx, PartnerForm{Kind: "vendor", Name: "x"})
	require.ErrorIs(t, err, internalShared.ErrValidation)
}
