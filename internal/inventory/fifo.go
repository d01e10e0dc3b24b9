package inventory

import "sort"

// FIFOPlan is the outcome of a first-expiry-first-out draw-down.
type FIFOPlan struct {
	Allocations []BatchConsumption
	Taken       int
	Shortfall   int
}

// PlanFIFO allocates quantity across batches with stock, earliest expiry first.
// Ties break on creation time, then row id. Batches are not modified.
func PlanFIFO(batches []Batch, quantity int) FIFOPlan {
	plan := FIFOPlan{}
	if quantity <= 0 {
		return plan
	}
	candidates := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Quantity > 0 {
			candidates = append(candidates, b)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	remaining := quantity
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Quantity)
		plan.Allocations = append(plan.Allocations, BatchConsumption{
			BatchRowID: b.ID,
			BatchID:    b.BatchID,
			Quantity:   take,
			ExpiryDate: b.ExpiryDate,
		})
		plan.Taken += take
		remaining -= take
	}
	plan.Shortfall = remaining
	return plan
}
