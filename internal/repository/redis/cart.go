package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/repository"
	"github.com/utafrali/cartorder/pkg/database"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

const (
	keyPrefix   = "cart:"
	linesSuffix = ":lines"
)

// resolveScript creates the cart header if missing and refreshes the TTL of
// both keys. KEYS: header, lines. ARGV: cart id, now, ttl in ms.
var resolveScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'id', ARGV[1])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[2])
redis.call('HSETNX', KEYS[1], 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return redis.call('HGET', KEYS[1], 'id')
`)

// upsertScript applies a quantity to one line and returns the new quantity,
// deleting the field once it drops to zero or below. KEYS: header, lines.
// ARGV: item id, quantity, absolute flag, cart id, now, ttl in ms.
var upsertScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'id', ARGV[4])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[5])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[5])
local q
if ARGV[3] == '1' then
	q = tonumber(ARGV[2])
	if q > 0 then
		redis.call('HSET', KEYS[2], ARGV[1], q)
	end
else
	q = redis.call('HINCRBY', KEYS[2], ARGV[1], ARGV[2])
end
if q <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	q = 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
return q
`)

// SessionCartStore implements repository.CartStore on Redis. Each cart is a
// header hash plus a hash of item id to quantity; both expire after the
// configured TTL of inactivity.
type SessionCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCartStore creates a new Redis-backed cart store.
func NewSessionCartStore(client *redis.Client, ttl time.Duration) *SessionCartStore {
	return &SessionCartStore{
		client: client,
		ttl:    ttl,
	}
}

var _ repository.CartStore = (*SessionCartStore)(nil)

func headerKey(id domain.CartIdentity) string {
	return keyPrefix + id.Key()
}

func linesKey(id domain.CartIdentity) string {
	return keyPrefix + id.Key() + linesSuffix
}

func (s *SessionCartStore) ttlMillis() int64 {
	return s.ttl.Milliseconds()
}

// Resolve returns the cart of id, creating it if needed.
func (s *SessionCartStore) Resolve(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	keys := []string{headerKey(id), linesKey(id)}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := resolveScript.Run(ctx, s.client, keys, uuid.New().String(), now, s.ttlMillis()).Err(); err != nil {
		return nil, fmt.Errorf("redis resolve cart: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves the cart of id with its lines.
func (s *SessionCartStore) Get(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	pipe := s.client.Pipeline()
	headerCmd := pipe.HGetAll(ctx, headerKey(id))
	linesCmd := pipe.HGetAll(ctx, linesKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	header := headerCmd.Val()
	if len(header) == 0 {
		return nil, apperrors.NotFound("cart", id.Key())
	}

	cart := &domain.Cart{
		ID:       header["id"],
		Identity: id,
	}
	var err error
	if cart.CreatedAt, err = parseTime(header["created_at"]); err != nil {
		return nil, fmt.Errorf("parse cart created_at: %w", err)
	}
	if cart.UpdatedAt, err = parseTime(header["updated_at"]); err != nil {
		return nil, fmt.Errorf("parse cart updated_at: %w", err)
	}

	cart.Lines, err = toLines(cart.ID, linesCmd.Val())
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Lines returns the lines of the cart of id, sorted by item id.
func (s *SessionCartStore) Lines(ctx context.Context, id domain.CartIdentity) ([]domain.CartLine, error) {
	pipe := s.client.Pipeline()
	cartIDCmd := pipe.HGet(ctx, headerKey(id), "id")
	linesCmd := pipe.HGetAll(ctx, linesKey(id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis get cart lines: %w", err)
	}

	return toLines(cartIDCmd.Val(), linesCmd.Val())
}

// UpsertLine applies qty to a line inside a Lua script, so concurrent writers
// never lose an increment.
func (s *SessionCartStore) UpsertLine(ctx context.Context, id domain.CartIdentity, itemID string, qty int, mode domain.UpsertMode) (quantity int, err error) {
	ctx, end := database.TraceCommand(ctx, "UpsertSessionCartLine", "EVALSHA upsert_cart_line")
	defer func() { end(err) }()

	absolute := "0"
	if mode == domain.UpsertAbsolute {
		absolute = "1"
	}

	keys := []string{headerKey(id), linesKey(id)}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	quantity, err = upsertScript.Run(ctx, s.client, keys,
		itemID, qty, absolute, uuid.New().String(), now, s.ttlMillis(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis upsert cart line: %w", err)
	}
	return quantity, nil
}

// RemoveLine deletes a line and reports whether it existed.
func (s *SessionCartStore) RemoveLine(ctx context.Context, id domain.CartIdentity, itemID string) (bool, error) {
	pipe := s.client.TxPipeline()
	delCmd := pipe.HDel(ctx, linesKey(id), itemID)
	pipe.PExpire(ctx, headerKey(id), s.ttl)
	pipe.PExpire(ctx, linesKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis remove cart line: %w", err)
	}
	return delCmd.Val() > 0, nil
}

// Clear deletes every line; the cart header survives until it expires.
func (s *SessionCartStore) Clear(ctx context.Context, id domain.CartIdentity) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, linesKey(id))
	pipe.PExpire(ctx, headerKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear cart: %w", err)
	}
	return nil
}

func toLines(cartID string, fields map[string]string) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0, len(fields))
	for itemID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse quantity of item %s: %w", itemID, err)
		}
		if qty <= 0 {
			continue
		}
		lines = append(lines, domain.CartLine{CartID: cartID, ItemID: itemID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ItemID < lines[j].ItemID
	})
	return lines, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
