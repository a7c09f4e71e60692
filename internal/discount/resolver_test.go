package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/model"
)

type stubRepo struct {
	product  []model.Discount
	campaign []model.Discount
	err      error
	calls    int
}

func (s *stubRepo) ListActive(_ context.Context, q Query) ([]model.Discount, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if q.Scope == model.ScopeProduct {
		var out []model.Discount
		for _, d := range s.product {
			if d.ProductID == q.ProductID {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return s.campaign, nil
}

func day(s string) *string { return &s }

func fixedNow() time.Time { return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC) }

func productDiscount(id string, method model.DiscountMethod, value float64) model.Discount {
	return model.Discount{
		ID:        id,
		Scope:     model.ScopeProduct,
		ProductID: "p1",
		Method:    method,
		Value:     value,
		StartDate: "2024-01-01",
		Status:    model.StatusActive,
	}
}

func campaignDiscount(id string, method model.DiscountMethod, value float64) model.Discount {
	d := productDiscount(id, method, value)
	d.Scope = model.ScopeCampaign
	d.ProductID = ""
	return d
}

func TestCalculateDiscountPercentageWithCap(t *testing.T) {
	d := productDiscount("d1", model.MethodPercentage, 50)
	d.Capped = true
	d.CapAmount = 80

	calc := CalculateDiscount(100, &d, 3)
	require.True(t, calc.Applied)
	require.Equal(t, 26.67, calc.DiscountAmount)
	require.Equal(t, 73.33, calc.DiscountedPrice)
}

func TestCalculateDiscountFixedIsLineTotal(t *testing.T) {
	d := productDiscount("d1", model.MethodFixed, 30)

	calc := CalculateDiscount(50, &d, 4)
	require.Equal(t, 7.5, calc.DiscountAmount)
	require.Equal(t, 42.5, calc.DiscountedPrice)
}

func TestCalculateDiscountFixedCapBelowValue(t *testing.T) {
	d := productDiscount("d1", model.MethodFixed, 30)
	d.Capped = true
	d.CapAmount = 10

	calc := CalculateDiscount(50, &d, 2)
	require.Equal(t, 5.0, calc.DiscountAmount)
	require.Equal(t, 45.0, calc.DiscountedPrice)
}

func TestCalculateDiscountClampsToLineTotal(t *testing.T) {
	d := productDiscount("d1", model.MethodFixed, 500)

	calc := CalculateDiscount(20, &d, 2)
	require.Equal(t, 20.0, calc.DiscountAmount)
	require.Equal(t, 0.0, calc.DiscountedPrice)
}

func TestCalculateDiscountZeroCapIgnored(t *testing.T) {
	d := productDiscount("d1", model.MethodPercentage, 10)
	d.Capped = true
	d.CapAmount = 0

	calc := CalculateDiscount(100, &d, 1)
	require.Equal(t, 10.0, calc.DiscountAmount)
}

func TestCalculateDiscountNonPositivePrice(t *testing.T) {
	d := productDiscount("d1", model.MethodFixed, 5)

	calc := CalculateDiscount(0, &d, 1)
	require.False(t, calc.Applied)
	require.Equal(t, 0.0, calc.DiscountAmount)
}

func TestApplyBestCapExampleTotals(t *testing.T) {
	d := productDiscount("d1", model.MethodPercentage, 50)
	d.Capped = true
	d.CapAmount = 80
	r := &Resolver{Repo: &stubRepo{product: []model.Discount{d}}, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 100, 3)
	require.True(t, res.DiscountApplied)
	require.Equal(t, 73.33, res.FinalPrice)
	require.Equal(t, 300.0, res.TotalOriginal)
	require.Equal(t, 220.0, res.TotalFinal)
	require.Equal(t, 80.0, res.TotalDiscountAmount)
	require.NotNil(t, res.AppliedDiscount)
	require.Equal(t, "d1", res.AppliedDiscount.ID)
	require.NotNil(t, res.AppliedDiscount.Cap)
	require.Equal(t, 80.0, *res.AppliedDiscount.Cap)
}

func TestApplyBestPicksLargestSaving(t *testing.T) {
	repo := &stubRepo{
		product:  []model.Discount{productDiscount("flat", model.MethodFixed, 5)},
		campaign: []model.Discount{campaignDiscount("ten", model.MethodPercentage, 10)},
	}
	r := &Resolver{Repo: repo, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 40, 1)
	require.Equal(t, "flat", res.AppliedDiscount.ID)
	require.Equal(t, model.ScopeProduct, res.AppliedDiscount.Type)
	require.Equal(t, 35.0, res.FinalPrice)
}

func TestApplyBestTieKeepsFirstFound(t *testing.T) {
	repo := &stubRepo{
		product:  []model.Discount{productDiscount("prod", model.MethodFixed, 4)},
		campaign: []model.Discount{campaignDiscount("camp", model.MethodPercentage, 10)},
	}
	r := &Resolver{Repo: repo, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 40, 1)
	require.Equal(t, "prod", res.AppliedDiscount.ID)
}

func TestApplyBestSkipsExpiredAndInactive(t *testing.T) {
	expired := productDiscount("expired", model.MethodPercentage, 90)
	expired.EndDate = day("2024-06-14")
	future := productDiscount("future", model.MethodPercentage, 80)
	future.StartDate = "2024-06-16"
	inactive := productDiscount("off", model.MethodPercentage, 70)
	inactive.Status = model.StatusInactive
	lastDay := productDiscount("today", model.MethodPercentage, 5)
	lastDay.EndDate = day("2024-06-15")

	r := &Resolver{Repo: &stubRepo{product: []model.Discount{expired, future, inactive, lastDay}}, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 100, 1)
	require.True(t, res.DiscountApplied)
	require.Equal(t, "today", res.AppliedDiscount.ID)
	require.Equal(t, 95.0, res.FinalPrice)
}

func TestApplyBestNoDiscounts(t *testing.T) {
	r := &Resolver{Repo: &stubRepo{}, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 19.99, 2)
	require.False(t, res.DiscountApplied)
	require.Nil(t, res.AppliedDiscount)
	require.Equal(t, 19.99, res.FinalPrice)
	require.Equal(t, 39.98, res.TotalFinal)
	require.Equal(t, 0.0, res.TotalDiscountAmount)
}

func TestApplyBestDegradesOnLookupError(t *testing.T) {
	r := &Resolver{Repo: &stubRepo{err: errors.New("db down")}, Now: fixedNow}

	res := r.ApplyBest(context.Background(), "p1", 12.5, 2)
	require.False(t, res.DiscountApplied)
	require.Equal(t, 12.5, res.FinalPrice)
	require.Equal(t, 25.0, res.TotalFinal)
}

func TestApplyBestNeverRaisesPrice(t *testing.T) {
	discounts := []model.Discount{
		productDiscount("a", model.MethodPercentage, 100),
		productDiscount("b", model.MethodFixed, 1000),
		productDiscount("c", model.MethodPercentage, 33.333),
	}
	for _, price := range []float64{0.01, 1, 9.99, 33.33, 100, 12345.67} {
		for qty := 1; qty <= 5; qty++ {
			r := &Resolver{Repo: &stubRepo{product: discounts}, Now: fixedNow}
			res := r.ApplyBest(context.Background(), "p1", price, qty)
			require.LessOrEqual(t, res.FinalPrice, res.OriginalPrice)
			require.GreaterOrEqual(t, res.FinalPrice, 0.0)
			require.GreaterOrEqual(t, res.TotalFinal, 0.0)
		}
	}
}

func TestGetActiveDiscountsOrdersProductFirst(t *testing.T) {
	repo := &stubRepo{
		product:  []model.Discount{productDiscount("p", model.MethodFixed, 1)},
		campaign: []model.Discount{campaignDiscount("c", model.MethodFixed, 2)},
	}
	r := &Resolver{Repo: repo, Now: fixedNow}

	active, err := r.GetActiveDiscounts(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, active.Product, 1)
	require.Len(t, active.Campaign, 1)
	require.Equal(t, []string{"p", "c"}, []string{active.All[0].ID, active.All[1].ID})
}

func TestGetActiveDiscountsWithoutProductSkipsProductQuery(t *testing.T) {
	repo := &stubRepo{campaign: []model.Discount{campaignDiscount("c", model.MethodFixed, 2)}}
	r := &Resolver{Repo: repo, Now: fixedNow}

	active, err := r.GetActiveDiscounts(context.Background(), "  ")
	require.NoError(t, err)
	require.Empty(t, active.Product)
	require.Len(t, active.All, 1)
	require.Equal(t, 1, repo.calls)
}
