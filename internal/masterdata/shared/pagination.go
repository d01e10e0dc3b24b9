package shared

// ListFilters represents standard list filters
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string

	// Entity specific filters
	IncludeArchived bool
	LowStockOnly    bool
	Kind            string
}
