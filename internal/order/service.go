package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/events"
	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// ErrNotFound indicates the order does not exist or belongs to someone else.
var ErrNotFound = errors.New("order not found")

// Store persists orders. Place must insert the order and delete its source
// cart atomically.
type Store interface {
	Place(ctx context.Context, o model.Order) error
	Get(ctx context.Context, code string) (model.Order, error)
}

// Carts hands out a locked, freshly priced cart.
type Carts interface {
	Checkout(ctx context.Context, owner model.Owner, code string, fn func(context.Context, *model.Cart) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (model.DomainEvent, error)
}

// Service turns carts into orders.
type Service struct {
	Store   Store
	Carts   Carts
	Events  Emitter
	Logger  *zerolog.Logger
	Now     func() time.Time
	NewCode func() string
}

// Place reprices the cart under its lock and snapshots it into a pending order.
// The cart is deleted in the same transaction that stores the order.
func (s *Service) Place(ctx context.Context, owner model.Owner, cartCode string) (model.Order, error) {
	if s == nil || s.Store == nil || s.Carts == nil {
		return model.Order{}, errors.New("order service not configured")
	}
	var placed model.Order
	err := s.Carts.Checkout(ctx, owner, strings.TrimSpace(cartCode), func(ctx context.Context, c *model.Cart) error {
		o := snapshot(c, s.newCode(), s.now())
		if err := s.Store.Place(ctx, o); err != nil {
			return fmt.Errorf("place order: %w", err)
		}
		placed = o
		return nil
	})
	obs.OrdersPlacedTotal.WithLabelValues(obs.Result(err)).Inc()
	if err != nil {
		return model.Order{}, err
	}
	if s.Events != nil {
		payload := map[string]any{"cart": placed.CartCode, "owner": placed.Owner, "total": placed.Total}
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, placed.Code, payload); err != nil && s.Logger != nil {
			s.Logger.Warn().Err(err).Str("order", placed.Code).Msg("order event emission failed")
		}
	}
	return placed, nil
}

// Get returns an order placed by owner.
func (s *Service) Get(ctx context.Context, owner model.Owner, code string) (model.Order, error) {
	if s == nil || s.Store == nil {
		return model.Order{}, errors.New("order service not configured")
	}
	o, err := s.Store.Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return model.Order{}, err
	}
	if o.Owner != owner {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
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

func snapshot(c *model.Cart, code string, now time.Time) model.Order {
	info := c.DiscountInfo
	info.AppliedDiscounts = append([]model.DiscountApplication(nil), info.AppliedDiscounts...)
	return model.Order{
		Code:         code,
		CartCode:     c.Code,
		Owner:        c.Owner,
		Status:       model.OrderPending,
		Items:        append([]model.LineItem(nil), c.Items...),
		Adjustments:  append([]model.Adjustment(nil), c.Adjustments...),
		DiscountInfo: info,
		Total:        c.Total,
		CreatedAt:    now,
	}
}
