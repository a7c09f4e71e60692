// Package model defines the records shared by the pricing, voucher, cart and
// order packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// OwnerKind distinguishes registered-user carts from guest carts.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGuest OwnerKind = "guest"
)

// Owner identifies who a cart belongs to: a username or a guest session id.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserOwner returns the owner for a registered user.
func UserOwner(username string) Owner {
	return Owner{Kind: OwnerUser, ID: strings.TrimSpace(username)}
}

// GuestOwner returns the owner for an anonymous session.
func GuestOwner(sessionID string) Owner {
	return Owner{Kind: OwnerGuest, ID: strings.TrimSpace(sessionID)}
}

// IsGuest reports whether the owner is an anonymous session.
func (o Owner) IsGuest() bool { return o.Kind == OwnerGuest }

// Valid reports whether the owner has a known kind and a non-empty id.
func (o Owner) Valid() bool {
	return (o.Kind == OwnerUser || o.Kind == OwnerGuest) && o.ID != ""
}

// AdjustmentType tags what an adjustment represents.
type AdjustmentType string

const (
	AdjustmentCharge   AdjustmentType = "charge"
	AdjustmentDiscount AdjustmentType = "discount"
	AdjustmentTax      AdjustmentType = "tax"
	AdjustmentShipping AdjustmentType = "shipping"
	AdjustmentFee      AdjustmentType = "fee"
)

// ValidAdjustmentType reports whether t is one of the known adjustment types.
func ValidAdjustmentType(t AdjustmentType) bool {
	switch t {
	case AdjustmentCharge, AdjustmentDiscount, AdjustmentTax, AdjustmentShipping, AdjustmentFee:
		return true
	}
	return false
}

// AdjustmentOrigin records which component created an adjustment.
type AdjustmentOrigin string

const (
	OriginDiscountEngine AdjustmentOrigin = "discount-engine"
	OriginVoucher        AdjustmentOrigin = "voucher"
	OriginManual         AdjustmentOrigin = "manual"
)

// Adjustment is a named charge (positive) or deduction (negative) outside
// line-item pricing.
type Adjustment struct {
	Name        string           `json:"name"`
	Value       float64          `json:"value"`
	Type        AdjustmentType   `json:"type,omitempty"`
	Origin      AdjustmentOrigin `json:"origin"`
	VoucherCode string           `json:"voucherCode,omitempty"`
}

// AppliedDiscount is the denormalised snapshot of the discount that won for a line.
type AppliedDiscount struct {
	ID     string         `json:"id"`
	Type   DiscountScope  `json:"type"`
	Method DiscountMethod `json:"method"`
	Value  float64        `json:"value"`
	Cap    *float64       `json:"cap"`
}

// LineItem is one product entry in a cart.
type LineItem struct {
	ProductID       string           `json:"productId"`
	Name            string           `json:"name,omitempty"`
	Image           string           `json:"image,omitempty"`
	Quantity        int              `json:"quantity"`
	Price           float64          `json:"price"`
	FinalPrice      float64          `json:"finalPrice"`
	DiscountAmount  float64          `json:"discountAmount"`
	DiscountApplied bool             `json:"discountApplied"`
	AppliedDiscount *AppliedDiscount `json:"appliedDiscount"`
}

// DiscountApplication is the audit record for a line that received a discount.
type DiscountApplication struct {
	ProductID           string          `json:"productId"`
	Discount            AppliedDiscount `json:"discount"`
	OriginalPrice       float64         `json:"originalPrice"`
	DiscountedPrice     float64         `json:"discountedPrice"`
	DiscountAmount      float64         `json:"discountAmount"`
	Quantity            int             `json:"quantity"`
	TotalDiscountAmount float64         `json:"totalDiscountAmount"`
}

// DiscountInfo summarises line-level discounts across the cart.
type DiscountInfo struct {
	TotalOriginalAmount float64               `json:"totalOriginalAmount"`
	TotalFinalAmount    float64               `json:"totalFinalAmount"`
	TotalDiscountAmount float64               `json:"totalDiscountAmount"`
	HasDiscounts        bool                  `json:"hasDiscounts"`
	AppliedDiscounts    []DiscountApplication `json:"appliedDiscounts"`
}

// Cart is the persisted cart document for both registered users and guests.
type Cart struct {
	Code         string       `json:"code"`
	Owner        Owner        `json:"owner"`
	Items        []LineItem   `json:"items"`
	Adjustments  []Adjustment `json:"adjustments"`
	Total        float64      `json:"total"`
	DiscountInfo DiscountInfo `json:"discountInfo"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
}

// NewCart returns an empty cart.
func NewCart(code string, owner Owner, now time.Time) *Cart {
	return &Cart{
		Code:        code,
		Owner:       owner,
		Items:       []LineItem{},
		Adjustments: []Adjustment{},
		DiscountInfo: DiscountInfo{
			AppliedDiscounts: []DiscountApplication{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ProductsSubtotal sums price × quantity over all lines using the original unit price.
func (c *Cart) ProductsSubtotal() float64 {
	var total float64
	for _, it := range c.Items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// AdjustmentsSum adds up every adjustment value.
func (c *Cart) AdjustmentsSum() float64 {
	var total float64
	for _, adj := range c.Adjustments {
		total += adj.Value
	}
	return total
}

// FindItem returns the index of the line for productID, or -1.
func (c *Cart) FindItem(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// FindAdjustment returns the index of the adjustment with the given name, or -1.
func (c *Cart) FindAdjustment(name string) int {
	for i, adj := range c.Adjustments {
		if adj.Name == name {
			return i
		}
	}
	return -1
}

// SetAdjustment appends adj or overwrites the existing entry with the same name.
func (c *Cart) SetAdjustment(adj Adjustment) {
	if idx := c.FindAdjustment(adj.Name); idx >= 0 {
		c.Adjustments[idx] = adj
		return
	}
	c.Adjustments = append(c.Adjustments, adj)
}

// RemoveAdjustment drops the adjustment with the given name and reports whether one existed.
func (c *Cart) RemoveAdjustment(name string) bool {
	idx := c.FindAdjustment(name)
	if idx < 0 {
		return false
	}
	c.Adjustments = append(c.Adjustments[:idx], c.Adjustments[idx+1:]...)
	return true
}

// VoucherAdjustment returns the voucher line currently on the cart, if any.
func (c *Cart) VoucherAdjustment() (Adjustment, bool) {
	for _, adj := range c.Adjustments {
		if adj.Origin == OriginVoucher {
			return adj, true
		}
	}
	return Adjustment{}, false
}

// VoucherAdjustmentPrefix starts every voucher adjustment name.
const VoucherAdjustmentPrefix = "Voucher Applied ("

// VoucherAdjustmentName is the adjustment name used for an applied voucher.
func VoucherAdjustmentName(code string) string {
	return fmt.Sprintf("%s%s)", VoucherAdjustmentPrefix, code)
}
