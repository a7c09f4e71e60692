package discount

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Query selects the discounts active on Day for one scope.
type Query struct {
	Scope     model.DiscountScope
	ProductID string
	Day       string
}

// Repository is the read side the resolver needs from discount storage.
type Repository interface {
	ListActive(ctx context.Context, q Query) ([]model.Discount, error)
}

// Active groups the discounts that currently apply to a product.
type Active struct {
	Product  []model.Discount `json:"productDiscounts"`
	Campaign []model.Discount `json:"campaignDiscounts"`
	All      []model.Discount `json:"allDiscounts"`
}

// Calculation is the outcome of applying a single discount to a unit price.
type Calculation struct {
	DiscountedPrice float64
	DiscountAmount  float64
	Applied         bool

	perUnit float64
}

// PricingResult is the best-discount outcome for one line.
type PricingResult struct {
	OriginalPrice       float64                `json:"originalPrice"`
	FinalPrice          float64                `json:"finalPrice"`
	TotalOriginal       float64                `json:"totalOriginal"`
	TotalFinal          float64                `json:"totalFinal"`
	DiscountAmount      float64                `json:"discountAmount"`
	TotalDiscountAmount float64                `json:"totalDiscountAmount"`
	DiscountApplied     bool                   `json:"discountApplied"`
	AppliedDiscount     *model.AppliedDiscount `json:"appliedDiscount"`
}

// Resolver finds the single best discount for a product line.
type Resolver struct {
	Repo   Repository
	Now    func() time.Time
	Logger *zerolog.Logger
}

func (r *Resolver) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *zerolog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// GetActiveDiscounts returns the product and campaign discounts active today.
func (r *Resolver) GetActiveDiscounts(ctx context.Context, productID string) (Active, error) {
	if r == nil || r.Repo == nil {
		return Active{}, errors.New("discount resolver not configured")
	}
	day := model.DayKey(r.now())
	productID = strings.TrimSpace(productID)

	var active Active
	if productID != "" {
		rows, err := r.Repo.ListActive(ctx, Query{Scope: model.ScopeProduct, ProductID: productID, Day: day})
		if err != nil {
			return Active{}, err
		}
		for _, d := range rows {
			if d.Scope == model.ScopeProduct && d.ProductID == productID && d.ActiveOn(day) {
				active.Product = append(active.Product, d)
			}
		}
	}
	rows, err := r.Repo.ListActive(ctx, Query{Scope: model.ScopeCampaign, Day: day})
	if err != nil {
		return Active{}, err
	}
	for _, d := range rows {
		if d.Scope == model.ScopeCampaign && d.ActiveOn(day) {
			active.Campaign = append(active.Campaign, d)
		}
	}
	active.All = make([]model.Discount, 0, len(active.Product)+len(active.Campaign))
	active.All = append(active.All, active.Product...)
	active.All = append(active.All, active.Campaign...)
	return active, nil
}

// CalculateDiscount applies d to unitPrice for a line of qty units.
// Fixed values and caps are totals across the whole line.
func CalculateDiscount(unitPrice float64, d *model.Discount, qty int) Calculation {
	unitPrice = money.Finite(unitPrice)
	if d == nil || unitPrice <= 0 {
		return Calculation{DiscountedPrice: money.Round2(unitPrice)}
	}
	if qty < 1 {
		qty = 1
	}
	quantity := float64(qty)
	value := money.Finite(d.Value)

	var perUnit float64
	switch d.Method {
	case model.MethodPercentage:
		perUnit = unitPrice * value / 100
		if d.Capped && d.CapAmount > 0 {
			perUnit = math.Min(perUnit*quantity, d.CapAmount) / quantity
		}
	case model.MethodFixed:
		total := value
		if d.Capped && d.CapAmount > 0 && d.CapAmount < value {
			total = d.CapAmount
		}
		total = math.Min(total, unitPrice*quantity)
		perUnit = total / quantity
	default:
		return Calculation{DiscountedPrice: money.Round2(unitPrice)}
	}
	perUnit = math.Max(0, math.Min(money.Finite(perUnit), unitPrice))

	return Calculation{
		DiscountedPrice: money.Round2(unitPrice - perUnit),
		DiscountAmount:  money.Round2(perUnit),
		Applied:         true,
		perUnit:         perUnit,
	}
}

// ApplyBest prices a line with whichever active discount saves the most per unit.
// Lookup failures degrade to the undiscounted price.
func (r *Resolver) ApplyBest(ctx context.Context, productID string, unitPrice float64, qty int) PricingResult {
	if qty < 1 {
		qty = 1
	}
	unitPrice = money.Finite(unitPrice)
	result := noDiscount(unitPrice, qty)
	if unitPrice <= 0 {
		return result
	}

	active, err := r.GetActiveDiscounts(ctx, productID)
	if err != nil {
		obs.DiscountLookupFailuresTotal.Inc()
		r.logger().Warn().Err(err).Str("product_id", productID).Msg("discount lookup failed, using original price")
		return result
	}

	var (
		best     *model.Discount
		bestCalc Calculation
	)
	for i := range active.All {
		calc := CalculateDiscount(unitPrice, &active.All[i], qty)
		if calc.DiscountAmount > bestCalc.DiscountAmount {
			best = &active.All[i]
			bestCalc = calc
		}
	}
	if best == nil {
		return result
	}

	quantity := float64(qty)
	snap := best.Snapshot()
	return PricingResult{
		OriginalPrice:       money.Round2(unitPrice),
		FinalPrice:          bestCalc.DiscountedPrice,
		TotalOriginal:       money.Round2(unitPrice * quantity),
		TotalFinal:          money.Round2((unitPrice - bestCalc.perUnit) * quantity),
		DiscountAmount:      bestCalc.DiscountAmount,
		TotalDiscountAmount: money.Round2(bestCalc.perUnit * quantity),
		DiscountApplied:     true,
		AppliedDiscount:     &snap,
	}
}

func noDiscount(unitPrice float64, qty int) PricingResult {
	price := money.Round2(unitPrice)
	total := money.Round2(unitPrice * float64(qty))
	return PricingResult{
		OriginalPrice: price,
		FinalPrice:    price,
		TotalOriginal: total,
		TotalFinal:    total,
	}
}
