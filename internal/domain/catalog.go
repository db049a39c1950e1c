package domain

// CatalogItem is the catalog's view of a purchasable item. Price is in minor
// units (cents) and may change at any time; orders capture it at checkout.
type CatalogItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}
