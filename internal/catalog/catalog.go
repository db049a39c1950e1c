// Package catalog resolves item ids to their name and current price. The
// catalog is owned by another service; this package only reads it.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/cartorder/internal/domain"
)

// ErrNotFound is returned by a Lookup when the catalog does not carry an item.
var ErrNotFound = errors.New("catalog: item not found")

// Lookup reads items from the catalog.
type Lookup interface {
	Get(ctx context.Context, itemID string) (*domain.CatalogItem, error)
}

// GetAll looks up every id and splits the result into found items and missing
// ids. Any error other than ErrNotFound aborts the lookup.
func GetAll(ctx context.Context, lookup Lookup, itemIDs []string) (map[string]*domain.CatalogItem, []string, error) {
	found := make(map[string]*domain.CatalogItem, len(itemIDs))
	var missing []string

	for _, id := range itemIDs {
		if _, seen := found[id]; seen {
			continue
		}
		item, err := lookup.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			return nil, nil, fmt.Errorf("lookup item %s: %w", id, err)
		}
		found[id] = item
	}

	return found, missing, nil
}
