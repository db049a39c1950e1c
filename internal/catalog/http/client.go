package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartorder/internal/catalog"
	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/pkg/httpclient"
)

const cacheKeyPrefix = "catalog:item:"

// productResponse is the subset of the product service envelope we read.
type productResponse struct {
	Data struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		BasePrice int64  `json:"base_price"`
	} `json:"data"`
}

// Client reads items from the product service. When a Redis client is set,
// found items are cached for cacheTTL; misses are never cached.
type Client struct {
	doer     httpclient.Doer
	baseURL  string
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewClient creates a product service backed catalog. cache may be nil.
func NewClient(doer httpclient.Doer, baseURL string, cache *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Client {
	return &Client{
		doer:     doer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

var _ catalog.Lookup = (*Client)(nil)

// Get returns the item with its current price.
func (c *Client) Get(ctx context.Context, itemID string) (*domain.CatalogItem, error) {
	if item, ok := c.fromCache(ctx, itemID); ok {
		return item, nil
	}

	item, err := c.fetch(ctx, itemID)
	if err != nil {
		return nil, err
	}

	c.toCache(ctx, item)
	return item, nil
}

func (c *Client) fetch(ctx context.Context, itemID string) (*domain.CatalogItem, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(itemID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call product service: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, catalog.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "product")
	}
	defer resp.Body.Close()

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if body.Data.ID == "" {
		return nil, catalog.ErrNotFound
	}

	return &domain.CatalogItem{
		ID:    body.Data.ID,
		Name:  body.Data.Name,
		Price: body.Data.BasePrice,
	}, nil
}

// fromCache treats every cache failure as a miss.
func (c *Client) fromCache(ctx context.Context, itemID string) (*domain.CatalogItem, bool) {
	if c.cache == nil {
		return nil, false
	}

	data, err := c.cache.Get(ctx, cacheKeyPrefix+itemID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "catalog cache read failed",
				slog.String("item_id", itemID),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var item domain.CatalogItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, false
	}
	return &item, true
}

func (c *Client) toCache(ctx context.Context, item *domain.CatalogItem) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKeyPrefix+item.ID, data, c.cacheTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "catalog cache write failed",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}
