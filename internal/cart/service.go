package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/events"
	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrItemNotFound is returned when a product is not in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrAdjustmentNotFound is returned when no adjustment has the given name.
	ErrAdjustmentNotFound = errors.New("adjustment not found")
	// ErrProductNotFound is returned when adding a product the catalog does not know.
	ErrProductNotFound = errors.New("product not found")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// Store persists cart documents.
type Store interface {
	Get(ctx context.Context, code string) (*model.Cart, error)
	FindByOwner(ctx context.Context, owner model.Owner, now time.Time) (*model.Cart, error)
	Save(ctx context.Context, cart *model.Cart) error
	Delete(ctx context.Context, code string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Locker serialises work on one key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Catalog resolves the product snapshot copied onto new lines.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (model.Product, error)
}

// Recalculator reprices a cart in place.
type Recalculator interface {
	Recalculate(ctx context.Context, cart *model.Cart) (*model.Cart, error)
}

// Vouchers applies and removes voucher lines.
type Vouchers interface {
	Apply(ctx context.Context, code string, cart *model.Cart) (voucher.Result, error)
	Remove(ctx context.Context, code string, cart *model.Cart) (voucher.Result, error)
	Release(ctx context.Context, code string)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (model.DomainEvent, error)
}

// Service encapsulates cart domain operations. Every mutation runs under a
// per-cart lock and ends with a full recalculation and save.
type Service struct {
	Store    Store
	Locker   Locker
	Catalog  Catalog
	Pricing  Recalculator
	Vouchers Vouchers
	Events   Emitter
	Logger   *zerolog.Logger
	TTL      time.Duration
	LockTTL  time.Duration
	Now      func() time.Time
	NewCode  func() string
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newCode() string {
	if s.NewCode != nil {
		return s.NewCode()
	}
	return uuid.NewString()
}

func (s *Service) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil || s.Pricing == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Ensure returns the owner's live cart, creating an empty one when none exists.
func (s *Service) Ensure(ctx context.Context, owner model.Owner) (*model.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !owner.Valid() {
		return nil, fmt.Errorf("owner is required: %w", ErrInvalidInput)
	}
	now := s.now()
	cart, err := s.Store.FindByOwner(ctx, owner, now)
	if err == nil {
		if owner.IsGuest() {
			s.touch(cart, now)
			if err := s.Store.Save(ctx, cart); err != nil {
				return nil, fmt.Errorf("save cart: %w", err)
			}
		}
		return cart, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	cart = model.NewCart(s.newCode(), owner, now)
	s.touch(cart, now)
	if err := s.Store.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

// Get loads a cart owned by owner. Expired carts are reported as missing.
func (s *Service) Get(ctx context.Context, owner model.Owner, code string) (*model.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.load(ctx, owner, code)
}

// AddItem adds qty units of a product, snapshotting its catalog price on first add.
func (s *Service) AddItem(ctx context.Context, owner model.Owner, code, productID string, qty int) (*model.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || qty < 1 {
		return nil, fmt.Errorf("product and positive quantity required: %w", ErrInvalidInput)
	}
	return s.mutate(ctx, "add_item", owner, code, func(ctx context.Context, c *model.Cart) error {
		if idx := c.FindItem(productID); idx >= 0 {
			c.Items[idx].Quantity += qty
			return nil
		}
		if s.Catalog == nil {
			return errors.New("catalog not configured")
		}
		p, err := s.Catalog.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("%s: %w", productID, ErrProductNotFound)
			}
			return err
		}
		price := money.Round2(money.Finite(p.Price))
		c.Items = append(c.Items, model.LineItem{
			ProductID:  p.ID,
			Name:       p.Name,
			Image:      p.Image,
			Quantity:   qty,
			Price:      price,
			FinalPrice: price,
		})
		return nil
	})
}

// UpdateQty sets a line's quantity. Zero removes the line.
func (s *Service) UpdateQty(ctx context.Context, owner model.Owner, code, productID string, qty int) (*model.Cart, error) {
	if qty < 0 {
		return nil, fmt.Errorf("quantity cannot be negative: %w", ErrInvalidInput)
	}
	return s.mutate(ctx, "update_qty", owner, code, func(_ context.Context, c *model.Cart) error {
		idx := c.FindItem(productID)
		if idx < 0 {
			return ErrItemNotFound
		}
		if qty == 0 {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			return nil
		}
		c.Items[idx].Quantity = qty
		return nil
	})
}

// RemoveItem drops a line.
func (s *Service) RemoveItem(ctx context.Context, owner model.Owner, code, productID string) (*model.Cart, error) {
	return s.mutate(ctx, "remove_item", owner, code, func(_ context.Context, c *model.Cart) error {
		idx := c.FindItem(productID)
		if idx < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	})
}

// SetAdjustment adds or overwrites a manual adjustment line.
func (s *Service) SetAdjustment(ctx context.Context, owner model.Owner, code string, adj model.Adjustment) (*model.Cart, error) {
	adj.Name = strings.TrimSpace(adj.Name)
	if adj.Name == "" || strings.Contains(adj.Name, model.VoucherAdjustmentPrefix) {
		return nil, fmt.Errorf("adjustment name is required and cannot mimic a voucher: %w", ErrInvalidInput)
	}
	if adj.Type == "" {
		adj.Type = model.AdjustmentCharge
	}
	if !model.ValidAdjustmentType(adj.Type) {
		return nil, fmt.Errorf("unknown adjustment type %q: %w", adj.Type, ErrInvalidInput)
	}
	if math.IsNaN(adj.Value) || math.IsInf(adj.Value, 0) {
		return nil, fmt.Errorf("adjustment value must be finite: %w", ErrInvalidInput)
	}
	adj.Value = money.Round2(adj.Value)
	adj.Origin = model.OriginManual
	adj.VoucherCode = ""
	return s.mutate(ctx, "set_adjustment", owner, code, func(_ context.Context, c *model.Cart) error {
		if idx := c.FindAdjustment(adj.Name); idx >= 0 && c.Adjustments[idx].Origin == model.OriginVoucher {
			return fmt.Errorf("%q is a voucher line: %w", adj.Name, ErrInvalidInput)
		}
		c.SetAdjustment(adj)
		return nil
	})
}

// RemoveAdjustment drops a manual adjustment. Voucher lines go through RemoveVoucher.
func (s *Service) RemoveAdjustment(ctx context.Context, owner model.Owner, code, name string) (*model.Cart, error) {
	return s.mutate(ctx, "remove_adjustment", owner, code, func(_ context.Context, c *model.Cart) error {
		idx := c.FindAdjustment(name)
		if idx < 0 {
			return ErrAdjustmentNotFound
		}
		if c.Adjustments[idx].Origin == model.OriginVoucher {
			return fmt.Errorf("%q is a voucher line: %w", name, ErrInvalidInput)
		}
		c.RemoveAdjustment(name)
		return nil
	})
}

// ApplyVoucher applies voucherCode to the cart. Business rejections come back
// in the result; a save failure after a use was consumed hands the use back.
func (s *Service) ApplyVoucher(ctx context.Context, owner model.Owner, code, voucherCode string) (voucher.Result, error) {
	if err := s.ready(); err != nil {
		return voucher.Result{}, err
	}
	if s.Vouchers == nil {
		return voucher.Result{}, errors.New("voucher resolver not configured")
	}
	var res voucher.Result
	err := s.withLock(ctx, code, func(ctx context.Context) error {
		c, err := s.load(ctx, owner, code)
		if err != nil {
			return err
		}
		before := c.Total
		res, err = s.Vouchers.Apply(ctx, voucherCode, c)
		if err != nil {
			return err
		}
		if !res.Success {
			res.Cart = c
			return nil
		}
		if err := s.finish(ctx, c); err != nil {
			s.Vouchers.Release(ctx, strings.TrimSpace(voucherCode))
			return err
		}
		res.Cart = c
		res.TotalDifference = money.Round2(c.Total - before)
		return nil
	})
	obs.CartMutationsTotal.WithLabelValues("apply_voucher", obs.Result(err)).Inc()
	if err != nil {
		return voucher.Result{}, err
	}
	if res.Success {
		s.emit(ctx, events.TopicVoucherApplied, code, map[string]any{"voucher": strings.TrimSpace(voucherCode), "discount": res.Discount, "total": res.Cart.Total})
	}
	return res, nil
}

// RemoveVoucher takes voucherCode off the cart. The use goes back to the
// voucher only after the cart without the line is saved.
func (s *Service) RemoveVoucher(ctx context.Context, owner model.Owner, code, voucherCode string) (voucher.Result, error) {
	if err := s.ready(); err != nil {
		return voucher.Result{}, err
	}
	if s.Vouchers == nil {
		return voucher.Result{}, errors.New("voucher resolver not configured")
	}
	var res voucher.Result
	err := s.withLock(ctx, code, func(ctx context.Context) error {
		c, err := s.load(ctx, owner, code)
		if err != nil {
			return err
		}
		before := c.Total
		res, err = s.Vouchers.Remove(ctx, voucherCode, c)
		if err != nil {
			return err
		}
		if !res.Success {
			res.Cart = c
			return nil
		}
		if err := s.finish(ctx, c); err != nil {
			return err
		}
		s.Vouchers.Release(ctx, strings.TrimSpace(voucherCode))
		res.Cart = c
		res.TotalDifference = money.Round2(c.Total - before)
		return nil
	})
	obs.CartMutationsTotal.WithLabelValues("remove_voucher", obs.Result(err)).Inc()
	if err != nil {
		return voucher.Result{}, err
	}
	if res.Success {
		s.emit(ctx, events.TopicVoucherRemoved, code, map[string]any{"voucher": strings.TrimSpace(voucherCode), "total": res.Cart.Total})
	}
	return res, nil
}

// Recalculate reprices the cart against the currently active discounts.
func (s *Service) Recalculate(ctx context.Context, owner model.Owner, code string) (*model.Cart, error) {
	return s.mutate(ctx, "recalculate", owner, code, func(context.Context, *model.Cart) error { return nil })
}

// Merge folds the guest's cart into the user's cart and deletes the guest cart.
// Quantities of shared products add up; the user's voucher wins over the guest's.
func (s *Service) Merge(ctx context.Context, guest, user model.Owner) (*model.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !guest.IsGuest() || !guest.Valid() || user.IsGuest() || !user.Valid() {
		return nil, fmt.Errorf("merge needs a guest and a user owner: %w", ErrInvalidInput)
	}
	now := s.now()
	guestCart, err := s.Store.FindByOwner(ctx, guest, now)
	if err != nil {
		return nil, err
	}
	target, err := s.Ensure(ctx, user)
	if err != nil {
		return nil, err
	}
	var (
		merged  *model.Cart
		dropped []string
	)
	err = s.withLock(ctx, target.Code, func(ctx context.Context) error {
		return s.withLock(ctx, guestCart.Code, func(ctx context.Context) error {
			c, err := s.load(ctx, user, target.Code)
			if err != nil {
				return err
			}
			src, err := s.load(ctx, guest, guestCart.Code)
			if err != nil {
				return err
			}
			dropped = mergeInto(c, src)
			if err := s.finish(ctx, c); err != nil {
				return err
			}
			if err := s.Store.Delete(ctx, src.Code); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("delete guest cart: %w", err)
			}
			merged = c
			return nil
		})
	})
	obs.CartMutationsTotal.WithLabelValues("merge", obs.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	if s.Vouchers != nil {
		for _, code := range dropped {
			s.Vouchers.Release(ctx, code)
		}
	}
	s.emit(ctx, events.TopicCartMerged, merged.Code, map[string]any{"from": guestCart.Code})
	return merged, nil
}

// Delete removes a cart.
func (s *Service) Delete(ctx context.Context, owner model.Owner, code string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.withLock(ctx, code, func(ctx context.Context) error {
		if _, err := s.load(ctx, owner, code); err != nil {
			return err
		}
		return s.Store.Delete(ctx, code)
	})
	obs.CartMutationsTotal.WithLabelValues("delete", obs.Result(err)).Inc()
	return err
}

// SweepExpired deletes guest carts whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.Store == nil {
		return 0, errors.New("cart service not configured")
	}
	n, err := s.Store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired carts: %w", err)
	}
	return n, nil
}

// Checkout locks the cart, reprices it and hands it to fn. The cart is not
// saved afterwards: fn owns what happens to it, typically turning it into an
// order and deleting it.
func (s *Service) Checkout(ctx context.Context, owner model.Owner, code string, fn func(context.Context, *model.Cart) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.withLock(ctx, code, func(ctx context.Context) error {
		c, err := s.load(ctx, owner, code)
		if err != nil {
			return err
		}
		if len(c.Items) == 0 {
			return ErrEmptyCart
		}
		if _, err := s.Pricing.Recalculate(ctx, c); err != nil {
			return fmt.Errorf("recalculate cart: %w", err)
		}
		return fn(ctx, c)
	})
	obs.CartMutationsTotal.WithLabelValues("checkout", obs.Result(err)).Inc()
	return err
}

func (s *Service) mutate(ctx context.Context, op string, owner model.Owner, code string, fn func(context.Context, *model.Cart) error) (*model.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out *model.Cart
	err := s.withLock(ctx, code, func(ctx context.Context) error {
		c, err := s.load(ctx, owner, code)
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		if err := s.finish(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	obs.CartMutationsTotal.WithLabelValues(op, obs.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) finish(ctx context.Context, c *model.Cart) error {
	if _, err := s.Pricing.Recalculate(ctx, c); err != nil {
		return fmt.Errorf("recalculate cart: %w", err)
	}
	now := s.now()
	c.UpdatedAt = now
	s.touch(c, now)
	if err := s.Store.Save(ctx, c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, owner model.Owner, code string) (*model.Cart, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	c, err := s.Store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Owner != owner {
		return nil, ErrNotFound
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(s.now()) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) touch(c *model.Cart, now time.Time) {
	if !c.Owner.IsGuest() {
		c.ExpiresAt = nil
		return
	}
	expires := now.Add(s.ttl())
	c.ExpiresAt = &expires
}

func (s *Service) withLock(ctx context.Context, code string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, "cart:"+strings.TrimSpace(code), s.lockTTL(), fn)
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.logger().Warn().Err(err).Str("topic", topic).Str("cart", aggregateID).Msg("event emission failed")
	}
}

// mergeInto copies src's lines and adjustments into dst and returns the voucher
// codes that were left behind because dst already carries a voucher.
func mergeInto(dst, src *model.Cart) []string {
	var dropped []string
	for _, it := range src.Items {
		if idx := dst.FindItem(it.ProductID); idx >= 0 {
			dst.Items[idx].Quantity += it.Quantity
			continue
		}
		dst.Items = append(dst.Items, it)
	}
	_, dstHasVoucher := dst.VoucherAdjustment()
	for _, adj := range src.Adjustments {
		switch adj.Origin {
		case model.OriginDiscountEngine:
			continue
		case model.OriginVoucher:
			if dstHasVoucher {
				dropped = append(dropped, adj.VoucherCode)
				continue
			}
			dstHasVoucher = true
		}
		if dst.FindAdjustment(adj.Name) >= 0 {
			continue
		}
		dst.Adjustments = append(dst.Adjustments, adj)
	}
	return dropped
}
