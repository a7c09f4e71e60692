package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

type memStore struct {
	mu      sync.Mutex
	carts   map[string]model.Cart
	saveErr error
	saves   int
}

func newMemStore() *memStore { return &memStore{carts: map[string]model.Cart{}} }

func clone(c model.Cart) *model.Cart {
	c.Items = append([]model.LineItem(nil), c.Items...)
	c.Adjustments = append([]model.Adjustment(nil), c.Adjustments...)
	return &c
}

func (m *memStore) Get(_ context.Context, code string) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[code]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *memStore) FindByOwner(_ context.Context, owner model.Owner, now time.Time) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.carts {
		if c.Owner == owner && (c.ExpiresAt == nil || c.ExpiresAt.After(now)) {
			return clone(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Save(_ context.Context, c *model.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.carts[c.Code] = *clone(*c)
	return nil
}

func (m *memStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[code]; !ok {
		return ErrNotFound
	}
	delete(m.carts, code)
	return nil
}

func (m *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, c := range m.carts {
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			delete(m.carts, code)
			n++
		}
	}
	return n, nil
}

type fakeCatalog map[string]model.Product

func (f fakeCatalog) GetProduct(_ context.Context, id string) (model.Product, error) {
	p, ok := f[id]
	if !ok {
		return model.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

type discountRepo struct{ discounts []model.Discount }

func (d discountRepo) ListActive(_ context.Context, q discount.Query) ([]model.Discount, error) {
	var out []model.Discount
	for _, x := range d.discounts {
		if x.Scope == q.Scope && (q.Scope == model.ScopeCampaign || x.ProductID == q.ProductID) {
			out = append(out, x)
		}
	}
	return out, nil
}

type voucherStore struct {
	mu       sync.Mutex
	vouchers map[string]model.Voucher
}

func (v *voucherStore) GetByCode(_ context.Context, code string) (model.Voucher, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	x, ok := v.vouchers[code]
	if !ok {
		return model.Voucher{}, voucher.ErrNotFound
	}
	return x, nil
}

func (v *voucherStore) ConsumeUse(_ context.Context, code string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	x := v.vouchers[code]
	if x.RemainingUses <= 0 {
		return voucher.ErrExhausted
	}
	x.RemainingUses--
	v.vouchers[code] = x
	return nil
}

func (v *voucherStore) RestoreUse(_ context.Context, code string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	x := v.vouchers[code]
	x.RemainingUses++
	v.vouchers[code] = x
	return nil
}

func (v *voucherStore) Create(context.Context, model.Voucher) (model.Voucher, error) {
	return model.Voucher{}, errors.New("not supported")
}
func (v *voucherStore) Update(context.Context, model.Voucher) (model.Voucher, error) {
	return model.Voucher{}, errors.New("not supported")
}
func (v *voucherStore) Delete(context.Context, string) error { return errors.New("not supported") }

func (v *voucherStore) remaining(code string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vouchers[code].RemainingUses
}

type fixture struct {
	svc      *Service
	store    *memStore
	vouchers *voucherStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := discountRepo{discounts: []model.Discount{{
		ID: "d-half", Scope: model.ScopeProduct, ProductID: "p1", Method: model.MethodPercentage,
		Value: 50, Capped: true, CapAmount: 80, StartDate: "2024-01-01", Status: model.StatusActive,
	}}}
	vs := &voucherStore{vouchers: map[string]model.Voucher{
		"FLAT10": {Code: "FLAT10", Type: model.VoucherSingleUser, Method: model.VoucherFixed, Value: 10},
		"LTD":    {Code: "LTD", Type: model.VoucherLimitedUses, RemainingUses: 1, Method: model.VoucherFixed, Value: 5},
	}}
	store := newMemStore()
	seq := 0
	svc := &Service{
		Store:    store,
		Catalog:  fakeCatalog{"p1": {ID: "p1", Name: "Teh", Price: 100}, "p2": {ID: "p2", Name: "Gula", Price: 50}},
		Pricing:  &pricing.Aggregator{Pricer: &discount.Resolver{Repo: repo, Now: clock}},
		Vouchers: &voucher.Resolver{Store: vs, Now: clock},
		Now:      clock,
		NewCode: func() string {
			seq++
			return fmt.Sprintf("CART-%d", seq)
		},
	}
	return &fixture{svc: svc, store: store, vouchers: vs, now: now}
}

func TestEnsureCreatesThenReuses(t *testing.T) {
	f := newFixture(t)
	guest := model.GuestOwner("sess-1")

	c, err := f.svc.Ensure(context.Background(), guest)
	require.NoError(t, err)
	require.Equal(t, "CART-1", c.Code)
	require.NotNil(t, c.ExpiresAt)
	require.Equal(t, f.now.Add(7*24*time.Hour), *c.ExpiresAt)

	again, err := f.svc.Ensure(context.Background(), guest)
	require.NoError(t, err)
	require.Equal(t, "CART-1", again.Code)

	user, err := f.svc.Ensure(context.Background(), model.UserOwner("alice"))
	require.NoError(t, err)
	require.Equal(t, "CART-2", user.Code)
	require.Nil(t, user.ExpiresAt)
}

func TestEnsureRequiresOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ensure(context.Background(), model.Owner{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddItemPricesWithDiscount(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, err := f.svc.Ensure(context.Background(), owner)
	require.NoError(t, err)

	c, err = f.svc.AddItem(context.Background(), owner, c.Code, "p1", 3)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, "Teh", c.Items[0].Name)
	require.Equal(t, 73.33, c.Items[0].FinalPrice)
	require.Equal(t, 220.0, c.Total)

	c, err = f.svc.AddItem(context.Background(), owner, c.Code, "p2", 2)
	require.NoError(t, err)
	require.Equal(t, 320.0, c.Total)

	c, err = f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)
	require.Equal(t, 3, c.Items[1].Quantity)
	require.Equal(t, 370.0, c.Total)

	stored, err := f.store.Get(context.Background(), c.Code)
	require.NoError(t, err)
	require.Equal(t, 370.0, stored.Total)
}

func TestAddItemRejectsUnknownProductAndBadQty(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, err := f.svc.Ensure(context.Background(), owner)
	require.NoError(t, err)

	_, err = f.svc.AddItem(context.Background(), owner, c.Code, "nope", 1)
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = f.svc.AddItem(context.Background(), owner, c.Code, "p1", 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestOtherOwnerCannotSeeCart(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Ensure(context.Background(), model.UserOwner("alice"))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), model.UserOwner("mallory"), c.Code)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateQtyAndRemoveItem(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)

	c, err = f.svc.UpdateQty(context.Background(), owner, c.Code, "p2", 4)
	require.NoError(t, err)
	require.Equal(t, 200.0, c.Total)

	c, err = f.svc.UpdateQty(context.Background(), owner, c.Code, "p2", 0)
	require.NoError(t, err)
	require.Empty(t, c.Items)
	require.Equal(t, 0.0, c.Total)

	_, err = f.svc.RemoveItem(context.Background(), owner, c.Code, "p2")
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestAdjustments(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 2)
	require.NoError(t, err)

	c, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "Shipping", Value: 15, Type: model.AdjustmentShipping})
	require.NoError(t, err)
	require.Equal(t, 115.0, c.Total)
	require.Equal(t, model.OriginManual, c.Adjustments[0].Origin)

	c, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "Shipping", Value: 20, Type: model.AdjustmentShipping})
	require.NoError(t, err)
	require.Len(t, c.Adjustments, 1)
	require.Equal(t, 120.0, c.Total)

	_, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "Voucher Applied (FREE)", Value: -100})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "Odd", Value: 1, Type: "bribe"})
	require.ErrorIs(t, err, ErrInvalidInput)

	c, err = f.svc.RemoveAdjustment(context.Background(), owner, c.Code, "Shipping")
	require.NoError(t, err)
	require.Equal(t, 100.0, c.Total)

	_, err = f.svc.RemoveAdjustment(context.Background(), owner, c.Code, "Shipping")
	require.ErrorIs(t, err, ErrAdjustmentNotFound)
}

func TestApplyAndRemoveVoucher(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p1", 3)
	require.NoError(t, err)

	res, err := f.svc.ApplyVoucher(context.Background(), owner, c.Code, "FLAT10")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 210.0, res.Cart.Total)
	require.Equal(t, -10.0, res.TotalDifference)

	dup, err := f.svc.ApplyVoucher(context.Background(), owner, c.Code, "FLAT10")
	require.NoError(t, err)
	require.False(t, dup.Success)
	require.ErrorIs(t, dup.Err, voucher.ErrAlreadyApplied)

	_, err = f.svc.RemoveAdjustment(context.Background(), owner, c.Code, model.VoucherAdjustmentName("FLAT10"))
	require.ErrorIs(t, err, ErrInvalidInput)

	removed, err := f.svc.RemoveVoucher(context.Background(), owner, c.Code, "FLAT10")
	require.NoError(t, err)
	require.True(t, removed.Success)
	require.Equal(t, 220.0, removed.Cart.Total)
	require.Equal(t, 10.0, removed.TotalDifference)
}

func TestApplyVoucherReleasesUseWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)

	f.store.saveErr = errors.New("disk full")
	_, err = f.svc.ApplyVoucher(context.Background(), owner, c.Code, "LTD")
	require.Error(t, err)
	require.Equal(t, 1, f.vouchers.remaining("LTD"))

	f.store.saveErr = nil
	res, err := f.svc.ApplyVoucher(context.Background(), owner, c.Code, "LTD")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 0, f.vouchers.remaining("LTD"))
}

func TestRemoveVoucherKeepsUseWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)
	res, err := f.svc.ApplyVoucher(context.Background(), owner, c.Code, "LTD")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 0, f.vouchers.remaining("LTD"))

	f.store.saveErr = errors.New("disk full")
	_, err = f.svc.RemoveVoucher(context.Background(), owner, c.Code, "LTD")
	require.Error(t, err)
	require.Equal(t, 0, f.vouchers.remaining("LTD"))
	stored, err := f.svc.Get(context.Background(), owner, c.Code)
	require.NoError(t, err)
	_, still := stored.VoucherAdjustment()
	require.True(t, still)

	f.store.saveErr = nil
	removed, err := f.svc.RemoveVoucher(context.Background(), owner, c.Code, "LTD")
	require.NoError(t, err)
	require.True(t, removed.Success)
	require.Equal(t, 1, f.vouchers.remaining("LTD"))

	again, err := f.svc.RemoveVoucher(context.Background(), owner, c.Code, "LTD")
	require.NoError(t, err)
	require.False(t, again.Success)
	require.Equal(t, 1, f.vouchers.remaining("LTD"))
}

func TestManualLineCannotPoseAsVoucher(t *testing.T) {
	f := newFixture(t)
	owner := model.GuestOwner("sess-1")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)

	_, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "x Voucher Applied (LTD)", Value: -1})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.SetAdjustment(context.Background(), owner, c.Code, model.Adjustment{Name: "LTD", Value: -1, Type: model.AdjustmentDiscount})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := f.svc.RemoveVoucher(context.Background(), owner, c.Code, "LTD")
		require.NoError(t, err)
		require.False(t, res.Success)
		require.ErrorIs(t, res.Err, voucher.ErrNotApplied)
	}
	require.Equal(t, 1, f.vouchers.remaining("LTD"))
}

func TestRejectedVoucherCarriesCart(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
	require.NoError(t, err)

	res, err := f.svc.ApplyVoucher(context.Background(), owner, c.Code, "NOPE")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotNil(t, res.Cart)
	require.Equal(t, 50.0, res.Cart.Total)

	res, err = f.svc.RemoveVoucher(context.Background(), owner, c.Code, "FLAT10")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotNil(t, res.Cart)
	require.Equal(t, c.Code, res.Cart.Code)
}

func TestRecalculateKeepsTotalsStable(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)
	_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p1", 3)
	require.NoError(t, err)
	_, err = f.svc.ApplyVoucher(context.Background(), owner, c.Code, "FLAT10")
	require.NoError(t, err)

	first, err := f.svc.Recalculate(context.Background(), owner, c.Code)
	require.NoError(t, err)
	second, err := f.svc.Recalculate(context.Background(), owner, c.Code)
	require.NoError(t, err)
	require.Equal(t, first.Total, second.Total)
	require.Equal(t, first.DiscountInfo, second.DiscountInfo)
	require.Equal(t, 210.0, second.Total)
}

func TestMergeGuestIntoUser(t *testing.T) {
	f := newFixture(t)
	guest := model.GuestOwner("sess-1")
	user := model.UserOwner("alice")

	g, _ := f.svc.Ensure(context.Background(), guest)
	_, err := f.svc.AddItem(context.Background(), guest, g.Code, "p2", 1)
	require.NoError(t, err)
	_, err = f.svc.ApplyVoucher(context.Background(), guest, g.Code, "FLAT10")
	require.NoError(t, err)

	u, _ := f.svc.Ensure(context.Background(), user)
	_, err = f.svc.AddItem(context.Background(), user, u.Code, "p2", 2)
	require.NoError(t, err)

	merged, err := f.svc.Merge(context.Background(), guest, user)
	require.NoError(t, err)
	require.Equal(t, u.Code, merged.Code)
	require.Len(t, merged.Items, 1)
	require.Equal(t, 3, merged.Items[0].Quantity)
	_, hasVoucher := merged.VoucherAdjustment()
	require.True(t, hasVoucher)
	require.Equal(t, 140.0, merged.Total)
	require.Nil(t, merged.ExpiresAt)

	_, err = f.store.Get(context.Background(), g.Code)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredGuestCartIsGoneAndSwept(t *testing.T) {
	f := newFixture(t)
	guest := model.GuestOwner("sess-9")
	c, _ := f.svc.Ensure(context.Background(), guest)

	later := f.now.Add(8 * 24 * time.Hour)
	f.svc.Now = func() time.Time { return later }

	_, err := f.svc.Get(context.Background(), guest, c.Code)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)

	require.NoError(t, f.svc.Delete(context.Background(), owner, c.Code))
	require.ErrorIs(t, f.svc.Delete(context.Background(), owner, c.Code), ErrNotFound)
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.Locker = lock.Locker{R: client, RetryBackoff: time.Millisecond}

	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(context.Background(), owner, c.Code, "p2", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.store.Get(context.Background(), c.Code)
	require.NoError(t, err)
	require.Equal(t, 8, stored.Items[0].Quantity)
	require.Equal(t, 400.0, stored.Total)
}

func TestCheckoutHandsPricedCart(t *testing.T) {
	f := newFixture(t)
	owner := model.UserOwner("alice")
	c, _ := f.svc.Ensure(context.Background(), owner)

	err := f.svc.Checkout(context.Background(), owner, c.Code, func(context.Context, *model.Cart) error { return nil })
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.svc.AddItem(context.Background(), owner, c.Code, "p1", 1)
	require.NoError(t, err)
	var total float64
	err = f.svc.Checkout(context.Background(), owner, c.Code, func(_ context.Context, priced *model.Cart) error {
		total = priced.Total
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 50.0, total)
}
