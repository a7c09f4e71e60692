package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the date-only layout used for every validity window.
const DayLayout = "2006-01-02"

// DayKey formats t as a date-only string in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ValidDay reports whether s is a YYYY-MM-DD date.
func ValidDay(s string) bool {
	_, err := time.Parse(DayLayout, s)
	return err == nil
}

// DiscountScope separates product discounts from store-wide campaigns.
type DiscountScope string

const (
	ScopeProduct  DiscountScope = "product"
	ScopeCampaign DiscountScope = "campaign"
)

// DiscountMethod is how a discount value is interpreted.
type DiscountMethod string

const (
	MethodFixed      DiscountMethod = "fixed"
	MethodPercentage DiscountMethod = "percentage"
)

// DiscountStatus toggles a discount on or off independently of its window.
type DiscountStatus string

const (
	StatusActive   DiscountStatus = "active"
	StatusInactive DiscountStatus = "inactive"
)

var (
	// ErrInvalidDiscount wraps every discount validation failure.
	ErrInvalidDiscount = errors.New("invalid discount")
)

// Discount is a product-scoped or campaign-wide price reduction rule.
type Discount struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Scope     DiscountScope  `json:"scope"`
	ProductID string         `json:"productId,omitempty"`
	Method    DiscountMethod `json:"method"`
	Value     float64        `json:"value"`
	StartDate string         `json:"startDate"`
	EndDate   *string        `json:"endDate"`
	Status    DiscountStatus `json:"status"`
	Capped    bool           `json:"capped"`
	CapAmount float64        `json:"capAmount"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Validate checks the discount invariants.
func (d Discount) Validate() error {
	switch d.Scope {
	case ScopeProduct:
		if strings.TrimSpace(d.ProductID) == "" {
			return fmt.Errorf("product discount requires a product: %w", ErrInvalidDiscount)
		}
	case ScopeCampaign:
	default:
		return fmt.Errorf("unknown scope %q: %w", d.Scope, ErrInvalidDiscount)
	}
	switch d.Method {
	case MethodPercentage:
		if d.Value < 0 || d.Value > 100 {
			return fmt.Errorf("percentage must be between 0 and 100: %w", ErrInvalidDiscount)
		}
	case MethodFixed:
		if d.Value < 0 {
			return fmt.Errorf("fixed value cannot be negative: %w", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("unknown method %q: %w", d.Method, ErrInvalidDiscount)
	}
	if d.Status != StatusActive && d.Status != StatusInactive {
		return fmt.Errorf("unknown status %q: %w", d.Status, ErrInvalidDiscount)
	}
	if d.Capped && d.CapAmount < 0 {
		return fmt.Errorf("cap cannot be negative: %w", ErrInvalidDiscount)
	}
	if !ValidDay(d.StartDate) {
		return fmt.Errorf("start date must be YYYY-MM-DD: %w", ErrInvalidDiscount)
	}
	if d.EndDate != nil {
		if !ValidDay(*d.EndDate) {
			return fmt.Errorf("end date must be YYYY-MM-DD: %w", ErrInvalidDiscount)
		}
		if *d.EndDate < d.StartDate {
			return fmt.Errorf("end date before start date: %w", ErrInvalidDiscount)
		}
	}
	return nil
}

// ActiveOn reports whether the discount applies on the given YYYY-MM-DD day.
// Dates are compared as strings to match the date-only storage.
func (d Discount) ActiveOn(day string) bool {
	if d.Status != StatusActive {
		return false
	}
	if d.StartDate == "" || d.StartDate > day {
		return false
	}
	if d.EndDate != nil && *d.EndDate != "" && *d.EndDate < day {
		return false
	}
	return true
}

// Snapshot returns the denormalised descriptor stored on cart lines.
func (d Discount) Snapshot() AppliedDiscount {
	snap := AppliedDiscount{
		ID:     d.ID,
		Type:   d.Scope,
		Method: d.Method,
		Value:  d.Value,
	}
	if d.Capped {
		capAmount := d.CapAmount
		snap.Cap = &capAmount
	}
	return snap
}
