package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

// VoucherRestorer is the part of the voucher store the restore task needs.
type VoucherRestorer interface {
	GetByCode(ctx context.Context, code string) (model.Voucher, error)
	RestoreUse(ctx context.Context, code string) error
}

// CartSweeper deletes expired guest carts.
type CartSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Handlers processes the worker's task types.
type Handlers struct {
	Vouchers VoucherRestorer
	Carts    CartSweeper
	Logger   *zerolog.Logger
}

// Mux routes task types to handlers with metrics and logging applied.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(Instrument(h.logger()))
	mux.HandleFunc(TypeVoucherRestore, h.HandleVoucherRestore)
	mux.HandleFunc(TypeCartSweep, h.HandleCartSweep)
	return mux
}

// HandleVoucherRestore returns one use to a limited voucher. Unknown vouchers
// and malformed payloads are not retried.
func (h *Handlers) HandleVoucherRestore(ctx context.Context, t *asynq.Task) error {
	if h.Vouchers == nil {
		return errors.New("queue: voucher store not configured")
	}
	var p voucherRestorePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode restore payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Code == "" {
		return fmt.Errorf("restore payload without code: %w", asynq.SkipRetry)
	}
	v, err := h.Vouchers.GetByCode(ctx, p.Code)
	if err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			return fmt.Errorf("voucher %s: %w", p.Code, asynq.SkipRetry)
		}
		return err
	}
	if v.Type != model.VoucherLimitedUses {
		return nil
	}
	if err := h.Vouchers.RestoreUse(ctx, v.Code); err != nil {
		return err
	}
	h.logger().Info().Str("voucher", v.Code).Msg("voucher use restored")
	return nil
}

// HandleCartSweep deletes guest carts past their expiry.
func (h *Handlers) HandleCartSweep(ctx context.Context, _ *asynq.Task) error {
	if h.Carts == nil {
		return errors.New("queue: cart service not configured")
	}
	n, err := h.Carts.SweepExpired(ctx)
	if err != nil {
		return err
	}
	h.logger().Info().Int64("deleted", n).Msg("expired carts swept")
	return nil
}

func (h *Handlers) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
