package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// VoucherType controls which validation rules a voucher goes through.
type VoucherType string

const (
	VoucherPromotion   VoucherType = "promotion"
	VoucherSingleUser  VoucherType = "single-user"
	VoucherLimitedUses VoucherType = "limited-uses"
)

// VoucherMethod is how a voucher value is interpreted.
type VoucherMethod string

const (
	VoucherFixed      VoucherMethod = "fixed"
	VoucherDiscounted VoucherMethod = "discounted"
)

// ErrInvalidVoucher wraps every voucher validation failure.
var ErrInvalidVoucher = errors.New("invalid voucher")

// Voucher is a code customers apply to a cart for a cart-level deduction.
type Voucher struct {
	Code          string        `json:"code"`
	Type          VoucherType   `json:"type"`
	StartDate     *string       `json:"startDate"`
	EndDate       *string       `json:"endDate"`
	RemainingUses int           `json:"remainingUses"`
	Method        VoucherMethod `json:"method"`
	Value         float64       `json:"value"`
	Capped        bool          `json:"capped"`
	CapAmount     float64       `json:"capAmount"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Validate checks the voucher's administrative invariants.
func (v Voucher) Validate() error {
	if strings.TrimSpace(v.Code) == "" {
		return fmt.Errorf("code is required: %w", ErrInvalidVoucher)
	}
	switch v.Type {
	case VoucherPromotion:
		if v.StartDate == nil || v.EndDate == nil {
			return fmt.Errorf("promotion voucher requires start and end dates: %w", ErrInvalidVoucher)
		}
	case VoucherLimitedUses:
		if v.RemainingUses < 0 {
			return fmt.Errorf("remaining uses cannot be negative: %w", ErrInvalidVoucher)
		}
	case VoucherSingleUser:
	default:
		return fmt.Errorf("unknown voucher type %q: %w", v.Type, ErrInvalidVoucher)
	}
	switch v.Method {
	case VoucherFixed:
		if v.Value < 0 {
			return fmt.Errorf("fixed value cannot be negative: %w", ErrInvalidVoucher)
		}
	case VoucherDiscounted:
		if v.Value < 0 || v.Value > 100 {
			return fmt.Errorf("percentage must be between 0 and 100: %w", ErrInvalidVoucher)
		}
	default:
		return fmt.Errorf("unknown voucher method %q: %w", v.Method, ErrInvalidVoucher)
	}
	for _, day := range []*string{v.StartDate, v.EndDate} {
		if day != nil && !ValidDay(*day) {
			return fmt.Errorf("dates must be YYYY-MM-DD: %w", ErrInvalidVoucher)
		}
	}
	if v.StartDate != nil && v.EndDate != nil && *v.EndDate < *v.StartDate {
		return fmt.Errorf("end date before start date: %w", ErrInvalidVoucher)
	}
	if v.Capped && v.CapAmount < 0 {
		return fmt.Errorf("cap cannot be negative: %w", ErrInvalidVoucher)
	}
	return nil
}
