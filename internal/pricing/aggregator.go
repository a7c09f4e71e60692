package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// ErrMalformedCart is returned for carts that cannot be priced.
var ErrMalformedCart = errors.New("malformed cart")

// Pricer resolves the best discount for one line.
type Pricer interface {
	ApplyBest(ctx context.Context, productID string, unitPrice float64, qty int) discount.PricingResult
}

// Aggregator recomputes every derived price field of a cart.
type Aggregator struct {
	Pricer      Pricer
	Concurrency int
	Logger      *zerolog.Logger
}

func (a *Aggregator) concurrency() int {
	if a.Concurrency <= 0 {
		return 8
	}
	return a.Concurrency
}

// Recalculate reprices every line, regenerates discount-engine adjustments and
// recomputes the cart total. The cart is mutated in place and returned.
// Calling it twice without a discount or voucher change yields the same cart.
func (a *Aggregator) Recalculate(ctx context.Context, cart *model.Cart) (_ *model.Cart, err error) {
	if cart == nil {
		return nil, fmt.Errorf("recalculate: nil cart: %w", ErrMalformedCart)
	}
	if a == nil || a.Pricer == nil {
		return nil, errors.New("recalculate: pricer not configured")
	}
	for _, it := range cart.Items {
		if it.Quantity < 1 {
			return nil, fmt.Errorf("recalculate: line %s has quantity %d: %w", it.ProductID, it.Quantity, ErrMalformedCart)
		}
	}

	ctx, span := otel.Tracer("pricing.Aggregator").Start(ctx, "Aggregator.Recalculate")
	span.SetAttributes(
		attribute.String("cart.code", cart.Code),
		attribute.Int("cart.lines", len(cart.Items)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		obs.PricingRecalculationsTotal.WithLabelValues(string(cart.Owner.Kind), obs.Result(err)).Inc()
	}()

	results := make([]discount.PricingResult, len(cart.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())
	for i := range cart.Items {
		item := cart.Items[i]
		g.Go(func() error {
			results[i] = a.Pricer.ApplyBest(gctx, item.ProductID, money.Finite(item.Price), item.Quantity)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	info := model.DiscountInfo{AppliedDiscounts: []model.DiscountApplication{}}
	for i := range cart.Items {
		item := &cart.Items[i]
		res := results[i]

		item.Price = money.Round2(money.Finite(item.Price))
		item.FinalPrice = money.Finite(res.FinalPrice)
		item.DiscountAmount = money.Finite(res.DiscountAmount)
		item.DiscountApplied = res.DiscountApplied
		item.AppliedDiscount = res.AppliedDiscount

		info.TotalOriginalAmount += money.Finite(res.TotalOriginal)
		info.TotalFinalAmount += money.Finite(res.TotalFinal)
		info.TotalDiscountAmount += money.Finite(res.TotalDiscountAmount)

		if res.DiscountApplied && res.AppliedDiscount != nil {
			info.AppliedDiscounts = append(info.AppliedDiscounts, model.DiscountApplication{
				ProductID:           item.ProductID,
				Discount:            *res.AppliedDiscount,
				OriginalPrice:       money.Finite(res.OriginalPrice),
				DiscountedPrice:     item.FinalPrice,
				DiscountAmount:      item.DiscountAmount,
				Quantity:            item.Quantity,
				TotalDiscountAmount: money.Round2(money.Finite(res.TotalDiscountAmount)),
			})
		}
	}
	info.TotalOriginalAmount = money.Round2(info.TotalOriginalAmount)
	info.TotalFinalAmount = money.Round2(info.TotalFinalAmount)
	info.TotalDiscountAmount = money.Round2(info.TotalDiscountAmount)
	info.HasDiscounts = len(info.AppliedDiscounts) > 0

	kept := make([]model.Adjustment, 0, len(cart.Adjustments))
	for _, adj := range cart.Adjustments {
		if adj.Origin == model.OriginDiscountEngine {
			continue
		}
		adj.Value = money.Round2(money.Finite(adj.Value))
		kept = append(kept, adj)
	}
	cart.Adjustments = kept

	adjustments := money.Round2(cart.AdjustmentsSum())
	total := info.TotalFinalAmount + adjustments
	if math.IsNaN(total) || math.IsInf(total, 0) {
		a.logger().Warn().Str("cart", cart.Code).Msg("cart total was not finite, storing 0")
		total = 0
	}
	cart.Total = money.Round2(math.Max(0, total))
	cart.DiscountInfo = info

	obs.PricingLinesPriced.Observe(float64(len(cart.Items)))
	span.SetAttributes(attribute.Float64("cart.total", cart.Total))
	return cart, nil
}

func (a *Aggregator) logger() *zerolog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
