package voucher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

var (
	// ErrNotFound is returned when no voucher exists for the code.
	ErrNotFound = errors.New("voucher not found")
	// ErrAlreadyApplied indicates the same voucher is already on the cart.
	ErrAlreadyApplied = errors.New("voucher already applied")
	// ErrAnotherVoucher indicates a different voucher already occupies the cart.
	ErrAnotherVoucher = errors.New("another voucher is already applied")
	// ErrNotApplied is returned when removing a voucher the cart does not carry.
	ErrNotApplied = errors.New("voucher not applied to cart")
	// ErrNotStarted is returned before a promotion's start date.
	ErrNotStarted = errors.New("voucher not active yet")
	// ErrExpired is returned after a promotion's end date.
	ErrExpired = errors.New("voucher expired")
	// ErrMissingWindow indicates a promotion voucher without both dates.
	ErrMissingWindow = errors.New("voucher validity window incomplete")
	// ErrExhausted indicates a limited voucher has no uses left.
	ErrExhausted = errors.New("voucher has no remaining uses")
)

// RestoreScheduler retries a use restore in the background.
type RestoreScheduler interface {
	ScheduleRestore(ctx context.Context, code string) error
}

// Result reports the outcome of a voucher operation. Business failures are
// carried here with Success=false; only storage faults come back as errors.
type Result struct {
	Success         bool        `json:"success"`
	Message         string      `json:"message"`
	Err             error       `json:"-"`
	Cart            *model.Cart `json:"cart,omitempty"`
	Discount        float64     `json:"discount"`
	TotalDifference float64     `json:"totalDifference"`
}

func failure(err error) Result {
	msg := err.Error()
	return Result{Message: strings.ToUpper(msg[:1]) + msg[1:], Err: err}
}

// Resolver applies and removes vouchers on a cart held in memory.
type Resolver struct {
	Store    Store
	Restorer RestoreScheduler
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// Apply validates code against the cart and appends its deduction line.
// Limited-use vouchers are consumed here, before the line is added.
func (r *Resolver) Apply(ctx context.Context, code string, cart *model.Cart) (res Result, err error) {
	defer func() { obs.VoucherOperationsTotal.WithLabelValues("apply", outcome(res, err)).Inc() }()

	if cart == nil {
		return Result{}, errors.New("voucher apply: nil cart")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return failure(ErrNotFound), nil
	}
	v, err := r.Store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return failure(ErrNotFound), nil
		}
		return Result{}, fmt.Errorf("voucher apply: %w", err)
	}

	if existing, ok := cart.VoucherAdjustment(); ok {
		if existing.VoucherCode == v.Code {
			return failure(ErrAlreadyApplied), nil
		}
		return failure(ErrAnotherVoucher), nil
	}
	if cart.FindAdjustment(model.VoucherAdjustmentName(v.Code)) >= 0 {
		return failure(ErrAlreadyApplied), nil
	}

	if reason := r.checkEligible(v); reason != nil {
		return failure(reason), nil
	}

	subtotal := cart.ProductsSubtotal()
	discount := money.Round2(Amount(v, subtotal))

	if v.Type == model.VoucherLimitedUses {
		if err := r.Store.ConsumeUse(ctx, v.Code); err != nil {
			if errors.Is(err, ErrExhausted) {
				return failure(ErrExhausted), nil
			}
			return Result{}, fmt.Errorf("voucher apply: %w", err)
		}
	}

	before := cart.Total
	cart.SetAdjustment(model.Adjustment{
		Name:        model.VoucherAdjustmentName(v.Code),
		Value:       -discount,
		Type:        model.AdjustmentDiscount,
		Origin:      model.OriginVoucher,
		VoucherCode: v.Code,
	})
	cart.Total = cartTotal(cart)

	return Result{
		Success:         true,
		Message:         fmt.Sprintf("Voucher %s applied", v.Code),
		Cart:            cart,
		Discount:        discount,
		TotalDifference: money.Round2(cart.Total - before),
	}, nil
}

// Remove drops the voucher line for code from the cart. It does not touch the
// use counter; callers Release the use once the cart change is persisted.
func (r *Resolver) Remove(_ context.Context, code string, cart *model.Cart) (res Result, err error) {
	defer func() { obs.VoucherOperationsTotal.WithLabelValues("remove", outcome(res, err)).Inc() }()

	if cart == nil {
		return Result{}, errors.New("voucher remove: nil cart")
	}
	code = strings.TrimSpace(code)
	idx := voucherLine(cart, code)
	if code == "" || idx < 0 {
		return failure(ErrNotApplied), nil
	}

	before := cart.Total
	removed := cart.Adjustments[idx]
	cart.Adjustments = append(cart.Adjustments[:idx], cart.Adjustments[idx+1:]...)
	cart.Total = cartTotal(cart)

	return Result{
		Success:         true,
		Message:         fmt.Sprintf("Voucher %s removed", code),
		Cart:            cart,
		Discount:        -removed.Value,
		TotalDifference: money.Round2(cart.Total - before),
	}, nil
}

// voucherLine finds the adjustment the voucher resolver created for code.
// Lines from any other origin never match, whatever their name.
func voucherLine(cart *model.Cart, code string) int {
	name := model.VoucherAdjustmentName(code)
	for i, adj := range cart.Adjustments {
		if adj.Origin != model.OriginVoucher {
			continue
		}
		if adj.VoucherCode == code || (adj.VoucherCode == "" && adj.Name == name) {
			return i
		}
	}
	return -1
}

// Release returns a use to a limited voucher without touching any cart. It
// follows a persisted removal, and compensates a failed save after Apply.
// A failed restore is logged and retried in the background.
func (r *Resolver) Release(ctx context.Context, code string) {
	r.restore(ctx, code)
}

func (r *Resolver) restore(ctx context.Context, code string) {
	v, err := r.Store.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger().Warn().Err(err).Str("voucher", code).Msg("voucher lookup failed during restore")
			r.schedule(ctx, code)
		}
		return
	}
	if v.Type != model.VoucherLimitedUses {
		return
	}
	if err := r.Store.RestoreUse(ctx, v.Code); err != nil {
		r.logger().Warn().Err(err).Str("voucher", v.Code).Msg("voucher use restore failed")
		r.schedule(ctx, v.Code)
	}
}

func (r *Resolver) schedule(ctx context.Context, code string) {
	if r.Restorer == nil {
		return
	}
	if err := r.Restorer.ScheduleRestore(ctx, code); err != nil {
		r.logger().Error().Err(err).Str("voucher", code).Msg("voucher restore could not be scheduled")
	}
}

func (r *Resolver) checkEligible(v model.Voucher) error {
	switch v.Type {
	case model.VoucherPromotion:
		if v.StartDate == nil || v.EndDate == nil || *v.StartDate == "" || *v.EndDate == "" {
			return ErrMissingWindow
		}
		today := model.DayKey(r.now())
		if today < *v.StartDate {
			return ErrNotStarted
		}
		if today > *v.EndDate {
			return ErrExpired
		}
	case model.VoucherLimitedUses:
		if v.RemainingUses <= 0 {
			return ErrExhausted
		}
	}
	return nil
}

// Amount is the deduction v grants against subtotal, before rounding.
func Amount(v model.Voucher, subtotal float64) float64 {
	subtotal = money.Finite(subtotal)
	var amount float64
	switch v.Method {
	case model.VoucherFixed:
		amount = v.Value
	case model.VoucherDiscounted:
		amount = subtotal * v.Value / 100
	}
	if v.Capped && v.CapAmount > 0 {
		amount = math.Min(amount, v.CapAmount)
	}
	return math.Max(0, money.Finite(amount))
}

func cartTotal(cart *model.Cart) float64 {
	return money.Round2(math.Max(0, money.Finite(cart.ProductsSubtotal()+cart.AdjustmentsSum())))
}

func outcome(res Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Success:
		return "ok"
	default:
		return "rejected"
	}
}
