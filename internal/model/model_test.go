package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestDiscountValidate(t *testing.T) {
	base := Discount{
		Scope:     ScopeProduct,
		ProductID: "p-1",
		Method:    MethodPercentage,
		Value:     20,
		StartDate: "2025-01-01",
		Status:    StatusActive,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(d *Discount){
		"missing product":     func(d *Discount) { d.ProductID = " " },
		"unknown scope":       func(d *Discount) { d.Scope = "store" },
		"percentage over 100": func(d *Discount) { d.Value = 101 },
		"negative fixed":      func(d *Discount) { d.Method = MethodFixed; d.Value = -1 },
		"unknown method":      func(d *Discount) { d.Method = "bogo" },
		"unknown status":      func(d *Discount) { d.Status = "paused" },
		"negative cap":        func(d *Discount) { d.Capped = true; d.CapAmount = -5 },
		"bad start":           func(d *Discount) { d.StartDate = "01/01/2025" },
		"bad end":             func(d *Discount) { d.EndDate = strp("2025-13-01") },
		"end before start":    func(d *Discount) { d.EndDate = strp("2024-12-31") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := base
			mutate(&d)
			require.ErrorIs(t, d.Validate(), ErrInvalidDiscount)
		})
	}

	campaign := base
	campaign.Scope = ScopeCampaign
	campaign.ProductID = ""
	require.NoError(t, campaign.Validate())
}

func TestDiscountActiveOn(t *testing.T) {
	d := Discount{Status: StatusActive, StartDate: "2025-03-01", EndDate: strp("2025-03-31")}
	require.False(t, d.ActiveOn("2025-02-28"))
	require.True(t, d.ActiveOn("2025-03-01"))
	require.True(t, d.ActiveOn("2025-03-31"))
	require.False(t, d.ActiveOn("2025-04-01"))

	d.EndDate = nil
	require.True(t, d.ActiveOn("2030-01-01"))

	d.Status = StatusInactive
	require.False(t, d.ActiveOn("2025-03-10"))
}

func TestDiscountSnapshot(t *testing.T) {
	d := Discount{ID: "d1", Scope: ScopeCampaign, Method: MethodPercentage, Value: 10, CapAmount: 50}
	snap := d.Snapshot()
	require.Nil(t, snap.Cap)
	require.Equal(t, ScopeCampaign, snap.Type)

	d.Capped = true
	snap = d.Snapshot()
	require.NotNil(t, snap.Cap)
	require.Equal(t, 50.0, *snap.Cap)
}

func TestVoucherValidate(t *testing.T) {
	v := Voucher{Code: "SAVE10", Type: VoucherLimitedUses, RemainingUses: 3, Method: VoucherDiscounted, Value: 10}
	require.NoError(t, v.Validate())

	promo := v
	promo.Type = VoucherPromotion
	require.ErrorIs(t, promo.Validate(), ErrInvalidVoucher)
	promo.StartDate, promo.EndDate = strp("2025-05-01"), strp("2025-05-31")
	require.NoError(t, promo.Validate())
	promo.EndDate = strp("2025-04-30")
	require.ErrorIs(t, promo.Validate(), ErrInvalidVoucher)

	bad := v
	bad.Code = ""
	require.ErrorIs(t, bad.Validate(), ErrInvalidVoucher)

	bad = v
	bad.Value = 120
	require.ErrorIs(t, bad.Validate(), ErrInvalidVoucher)

	bad = v
	bad.RemainingUses = -1
	require.ErrorIs(t, bad.Validate(), ErrInvalidVoucher)

	single := Voucher{Code: "VIP", Type: VoucherSingleUser, Method: VoucherFixed, Value: 25}
	require.NoError(t, single.Validate())
}

func TestCartAdjustments(t *testing.T) {
	c := NewCart("c-1", GuestOwner(" sess "), time.Unix(0, 0))
	require.Equal(t, "sess", c.Owner.ID)
	require.True(t, c.Owner.IsGuest())

	c.Items = append(c.Items,
		LineItem{ProductID: "a", Quantity: 2, Price: 10, FinalPrice: 8},
		LineItem{ProductID: "b", Quantity: 1, Price: 5, FinalPrice: 5},
	)
	require.Equal(t, 25.0, c.ProductsSubtotal())
	require.Equal(t, 1, c.FindItem("b"))
	require.Equal(t, -1, c.FindItem("z"))

	c.SetAdjustment(Adjustment{Name: "Shipping", Value: 4, Type: AdjustmentShipping, Origin: OriginManual})
	c.SetAdjustment(Adjustment{Name: "Shipping", Value: 6, Type: AdjustmentShipping, Origin: OriginManual})
	require.Len(t, c.Adjustments, 1)
	require.Equal(t, 6.0, c.AdjustmentsSum())

	_, ok := c.VoucherAdjustment()
	require.False(t, ok)

	name := VoucherAdjustmentName("SAVE10")
	require.Equal(t, "Voucher Applied (SAVE10)", name)
	c.SetAdjustment(Adjustment{Name: name, Value: -2.5, Type: AdjustmentDiscount, Origin: OriginVoucher, VoucherCode: "SAVE10"})
	adj, ok := c.VoucherAdjustment()
	require.True(t, ok)
	require.Equal(t, "SAVE10", adj.VoucherCode)
	require.Equal(t, 3.5, c.AdjustmentsSum())

	require.True(t, c.RemoveAdjustment(name))
	require.False(t, c.RemoveAdjustment(name))
	require.Len(t, c.Adjustments, 1)
}

func TestOwnerValid(t *testing.T) {
	require.True(t, UserOwner("alice").Valid())
	require.False(t, UserOwner("  ").Valid())
	require.False(t, Owner{Kind: "robot", ID: "x"}.Valid())
	require.True(t, ValidAdjustmentType(AdjustmentFee))
	require.False(t, ValidAdjustmentType("bonus"))
}
