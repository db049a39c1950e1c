package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/cartorder/internal/catalog"
	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/event"
	"github.com/utafrali/cartorder/internal/lock"
	"github.com/utafrali/cartorder/internal/repository"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// CartService implements the business logic for cart operations. Every
// read-modify-write on a cart runs under the guard for its identity; catalog
// lookups happen outside the lock.
type CartService struct {
	stores   repository.CartStores
	guard    lock.Guard
	catalog  catalog.Lookup
	events   EventPublisher
	logger   *slog.Logger
	currency string
	lockWait time.Duration
}

// NewCartService creates a new cart service.
func NewCartService(
	stores repository.CartStores,
	guard lock.Guard,
	lookup catalog.Lookup,
	events EventPublisher,
	logger *slog.Logger,
	currency string,
	lockWait time.Duration,
) *CartService {
	return &CartService{
		stores:   stores,
		guard:    guard,
		catalog:  lookup,
		events:   events,
		logger:   logger,
		currency: currency,
		lockWait: lockWait,
	}
}

func (s *CartService) store(id domain.CartIdentity) (repository.CartStore, error) {
	if err := id.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	store, err := s.stores.For(id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return store, nil
}

// ResolveCart returns the cart of id, creating it on first use.
func (s *CartService) ResolveCart(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cart, err := store.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve cart: %w", err)
	}
	return cart, nil
}

// AddItem adds qty units of an item, creating the line if needed.
func (s *CartService) AddItem(ctx context.Context, id domain.CartIdentity, itemID string, qty int) (*domain.CartSnapshot, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, apperrors.InvalidInput("item id is required")
	}
	if qty < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}
	if qty > domain.MaxQuantityPerLine {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerLine))
	}

	if _, err := s.catalog.Get(ctx, itemID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, apperrors.ItemNotFound(itemID)
		}
		s.logger.ErrorContext(ctx, "catalog lookup failed",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return nil, catalogError(err)
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	lines, err := store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}

	if existing := findLine(lines, itemID); existing != nil {
		if existing.Quantity+qty > domain.MaxQuantityPerLine {
			return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", domain.MaxQuantityPerLine))
		}
	} else if len(lines) >= domain.MaxLinesPerCart {
		return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", domain.MaxLinesPerCart))
	}

	newQty, err := store.UpsertLine(ctx, id, itemID, qty, domain.UpsertDelta)
	if err != nil {
		return nil, fmt.Errorf("add cart line: %w", err)
	}

	lines, err = store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	release()

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("cart", id.Key()),
		slog.String("item_id", itemID),
		slog.Int("quantity", qty),
		slog.Int("line_quantity", newQty),
	)

	return s.afterMutation(ctx, id, lines, event.CartActionItemAdded, itemID, newQty)
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, id domain.CartIdentity, itemID string, qty int) (*domain.CartSnapshot, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, id, itemID)
	}

	store, err := s.store(id)
	if err != nil {
		return nil, err
	}
	if qty > domain.MaxQuantityPerLine {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerLine))
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	lines, err := store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	if findLine(lines, itemID) == nil {
		return nil, apperrors.NotFound("cart line", itemID)
	}

	if _, err := store.UpsertLine(ctx, id, itemID, qty, domain.UpsertAbsolute); err != nil {
		return nil, fmt.Errorf("update cart line: %w", err)
	}

	lines, err = store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	release()

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("cart", id.Key()),
		slog.String("item_id", itemID),
		slog.Int("quantity", qty),
	)

	return s.afterMutation(ctx, id, lines, event.CartActionItemUpdated, itemID, qty)
}

// RemoveItem deletes a line. Removing an absent line is a no-op.
func (s *CartService) RemoveItem(ctx context.Context, id domain.CartIdentity, itemID string) (*domain.CartSnapshot, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	removed, err := store.RemoveLine(ctx, id, itemID)
	if err != nil {
		return nil, fmt.Errorf("remove cart line: %w", err)
	}

	lines, err := store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	release()

	if !removed {
		return s.price(ctx, id, lines)
	}

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("cart", id.Key()),
		slog.String("item_id", itemID),
	)

	return s.afterMutation(ctx, id, lines, event.CartActionItemRemoved, itemID, 0)
}

// ClearCart removes every line from the cart of id.
func (s *CartService) ClearCart(ctx context.Context, id domain.CartIdentity) (*domain.CartSnapshot, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := store.Clear(ctx, id); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	release()

	s.logger.InfoContext(ctx, "cart cleared", slog.String("cart", id.Key()))

	return s.afterMutation(ctx, id, nil, event.CartActionCleared, "", 0)
}

// MergeGuestCartIntoUserCart moves every line of the guest cart into the user
// cart, summing quantities of items present in both. Every guest item is
// checked against the catalog and every summed quantity against the line
// limit first; if any check fails nothing changes.
func (s *CartService) MergeGuestCartIntoUserCart(ctx context.Context, guest, user domain.CartIdentity) (*domain.CartSnapshot, error) {
	if guest.Kind != domain.IdentitySession {
		return nil, apperrors.InvalidInput("merge source must be a session cart")
	}
	if user.Kind != domain.IdentityUser {
		return nil, apperrors.Unauthorized("sign in to merge a cart")
	}
	guestStore, err := s.store(guest)
	if err != nil {
		return nil, err
	}
	userStore, err := s.store(user)
	if err != nil {
		return nil, err
	}

	preview, err := guestStore.Lines(ctx, guest)
	if err != nil {
		return nil, fmt.Errorf("get guest cart lines: %w", err)
	}
	validated, err := s.validateItems(ctx, lineItemIDs(preview))
	if err != nil {
		return nil, err
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, guest, user)
	if err != nil {
		return nil, err
	}
	defer release()

	guestLines, err := guestStore.Lines(ctx, guest)
	if err != nil {
		return nil, fmt.Errorf("get guest cart lines: %w", err)
	}
	// Lines added between the preview and the lock.
	var unchecked []string
	for _, l := range guestLines {
		if !validated[l.ItemID] {
			unchecked = append(unchecked, l.ItemID)
		}
	}
	if _, err := s.validateItems(ctx, unchecked); err != nil {
		return nil, err
	}

	userLines, err := userStore.Lines(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("get user cart lines: %w", err)
	}

	newLines := 0
	var overLimit []string
	for _, l := range guestLines {
		existing := findLine(userLines, l.ItemID)
		if existing == nil {
			newLines++
			continue
		}
		if existing.Quantity+l.Quantity > domain.MaxQuantityPerLine {
			overLimit = append(overLimit, l.ItemID)
		}
	}
	if len(overLimit) > 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("merged quantity of items %s must not exceed %d",
			strings.Join(overLimit, ", "), domain.MaxQuantityPerLine))
	}
	if len(userLines)+newLines > domain.MaxLinesPerCart {
		return nil, apperrors.InvalidInput(fmt.Sprintf("merged cart must not contain more than %d items", domain.MaxLinesPerCart))
	}

	// Guest line out first; a failed add puts it back.
	for _, l := range guestLines {
		if _, err := guestStore.RemoveLine(ctx, guest, l.ItemID); err != nil {
			return nil, fmt.Errorf("remove merged line %s from guest cart: %w", l.ItemID, err)
		}
		if _, err := userStore.UpsertLine(ctx, user, l.ItemID, l.Quantity, domain.UpsertDelta); err != nil {
			if _, restoreErr := guestStore.UpsertLine(ctx, guest, l.ItemID, l.Quantity, domain.UpsertAbsolute); restoreErr != nil {
				s.logger.ErrorContext(ctx, "failed to restore guest cart line",
					slog.String("guest", guest.Key()),
					slog.String("item_id", l.ItemID),
					slog.Int("quantity", l.Quantity),
					slog.String("error", restoreErr.Error()),
				)
			}
			return nil, fmt.Errorf("merge line %s into user cart: %w", l.ItemID, err)
		}
	}

	if err := guestStore.Clear(ctx, guest); err != nil {
		return nil, fmt.Errorf("clear guest cart: %w", err)
	}

	merged, err := userStore.Lines(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("get user cart lines: %w", err)
	}
	release()

	s.logger.InfoContext(ctx, "guest cart merged into user cart",
		slog.String("guest", guest.Key()),
		slog.String("user", user.Key()),
		slog.Int("lines_merged", len(guestLines)),
	)

	return s.afterMutation(ctx, user, merged, event.CartActionMerged, "", 0)
}

// Snapshot prices the cart of id at current catalog prices. The result is for
// display only.
func (s *CartService) Snapshot(ctx context.Context, id domain.CartIdentity) (*domain.CartSnapshot, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}

	lines, err := store.Lines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	return s.price(ctx, id, lines)
}

func (s *CartService) afterMutation(ctx context.Context, id domain.CartIdentity, lines []domain.CartLine, action, itemID string, qty int) (*domain.CartSnapshot, error) {
	snapshot, err := s.price(ctx, id, lines)
	if err != nil {
		return nil, err
	}

	publishAsync(ctx, s.logger, event.TopicCartUpdated, func(ctx context.Context) error {
		return s.events.PublishCartUpdated(ctx, snapshot, action, itemID, qty)
	})

	return snapshot, nil
}

// price joins lines with the catalog. Items the catalog no longer carries are
// flagged unavailable and left out of the subtotal.
func (s *CartService) price(ctx context.Context, id domain.CartIdentity, lines []domain.CartLine) (*domain.CartSnapshot, error) {
	snapshot := &domain.CartSnapshot{
		Identity: id,
		Lines:    make([]domain.SnapshotLine, 0, len(lines)),
		Currency: s.currency,
	}

	for _, l := range lines {
		snapshot.CartID = l.CartID
		snapshot.ItemCount += l.Quantity

		line := domain.SnapshotLine{ItemID: l.ItemID, Quantity: l.Quantity}
		item, err := s.catalog.Get(ctx, l.ItemID)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			line.Unavailable = true
		case err != nil:
			s.logger.ErrorContext(ctx, "catalog lookup failed",
				slog.String("item_id", l.ItemID),
				slog.String("error", err.Error()),
			)
			return nil, catalogError(err)
		default:
			line.Name = item.Name
			line.UnitPrice = item.Price
			line.LineTotal = int64(l.Quantity) * item.Price
			snapshot.Subtotal += line.LineTotal
		}
		snapshot.Lines = append(snapshot.Lines, line)
	}

	return snapshot, nil
}

// validateItems returns the set of ids the catalog carries, or a MissingItem
// error listing every id it does not.
func (s *CartService) validateItems(ctx context.Context, itemIDs []string) (map[string]bool, error) {
	found, missing, err := catalog.GetAll(ctx, s.catalog, itemIDs)
	if err != nil {
		s.logger.ErrorContext(ctx, "catalog lookup failed", slog.String("error", err.Error()))
		return nil, catalogError(err)
	}
	if len(missing) > 0 {
		return nil, apperrors.MissingItem(missing)
	}

	ok := make(map[string]bool, len(found))
	for id := range found {
		ok[id] = true
	}
	return ok, nil
}

func findLine(lines []domain.CartLine, itemID string) *domain.CartLine {
	for i := range lines {
		if lines[i].ItemID == itemID {
			return &lines[i]
		}
	}
	return nil
}

func lineItemIDs(lines []domain.CartLine) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ItemID
	}
	return ids
}
