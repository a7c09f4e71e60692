package discount

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/model"
)

func newCachedRepo(t *testing.T, next Repository) (*CachedRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &CachedRepository{Next: next, R: client, TTL: time.Minute}, mr
}

func TestCachedRepositoryServesFromCache(t *testing.T) {
	repo := &stubRepo{campaign: []model.Discount{campaignDiscount("c", model.MethodFixed, 2)}}
	cached, _ := newCachedRepo(t, repo)
	q := Query{Scope: model.ScopeCampaign, Day: "2024-06-15"}

	first, err := cached.ListActive(context.Background(), q)
	require.NoError(t, err)
	second, err := cached.ListActive(context.Background(), q)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, repo.calls)
}

func TestCachedRepositoryInvalidate(t *testing.T) {
	repo := &stubRepo{campaign: []model.Discount{campaignDiscount("c", model.MethodFixed, 2)}}
	cached, _ := newCachedRepo(t, repo)
	q := Query{Scope: model.ScopeCampaign, Day: "2024-06-15"}

	_, err := cached.ListActive(context.Background(), q)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(context.Background()))

	repo.campaign = nil
	rows, err := cached.ListActive(context.Background(), q)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Equal(t, 2, repo.calls)
}

func TestCachedRepositoryFallsThroughWhenRedisDown(t *testing.T) {
	repo := &stubRepo{campaign: []model.Discount{campaignDiscount("c", model.MethodFixed, 2)}}
	cached, mr := newCachedRepo(t, repo)
	mr.Close()

	rows, err := cached.ListActive(context.Background(), Query{Scope: model.ScopeCampaign, Day: "2024-06-15"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
