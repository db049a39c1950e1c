// Package memory provides an in-process catalog for local development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/cartorder/internal/catalog"
	"github.com/utafrali/cartorder/internal/domain"
)

// Catalog is a concurrency-safe in-memory catalog.Lookup.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
}

// New creates a catalog seeded with items.
func New(items ...domain.CatalogItem) *Catalog {
	c := &Catalog{items: make(map[string]domain.CatalogItem, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// DefaultItems is the seed used when the service runs with the memory backend.
func DefaultItems() []domain.CatalogItem {
	return []domain.CatalogItem{
		{ID: "1", Name: "Ceramic Mug", Price: 1299},
		{ID: "2", Name: "Loose Leaf Tea, 100g", Price: 899},
		{ID: "3", Name: "Cast Iron Teapot", Price: 4550},
		{ID: "7", Name: "Desk Lamp", Price: 2499},
		{ID: "9", Name: "LED Bulb", Price: 350},
	}
}

var _ catalog.Lookup = (*Catalog)(nil)

// Get returns a copy of the item, or catalog.ErrNotFound.
func (c *Catalog) Get(_ context.Context, itemID string) (*domain.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[itemID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &item, nil
}

// Put adds or replaces an item.
func (c *Catalog) Put(item domain.CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// SetPrice changes the current price of an item. It reports false when the
// item is unknown.
func (c *Catalog) SetPrice(itemID string, price int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[itemID]
	if !ok {
		return false
	}
	item.Price = price
	c.items[itemID] = item
	return true
}

// Remove drops an item from the catalog.
func (c *Catalog) Remove(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, itemID)
}
