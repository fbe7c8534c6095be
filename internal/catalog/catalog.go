package catalog

// Product is an authoritative catalog entry. ExternalID is the
// source-of-truth key (the retailer's product id) and, together with
// Category, determines the product's identity in the vector index.
type Product struct {
	Category   string  `json:"category"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Grammage   string  `json:"grammage,omitempty"`
	ExternalID string  `json:"external_id"`
}

// Source defines the interface for catalog access
type Source interface {
	// GetAllProducts returns every product in the catalog
	GetAllProducts() ([]Product, error)
}

// Categories returns the distinct categories of the given products,
// in first-seen order.
func Categories(products []Product) []string {
	seen := make(map[string]struct{}, len(products))
	var categories []string
	for _, p := range products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	return categories
}
