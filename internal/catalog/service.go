package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/model"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrStoreUnavailable indicates the database pool is not configured.
	ErrStoreUnavailable = errors.New("catalog: store unavailable")
)

// Store loads catalog products.
type Store interface {
	GetProduct(ctx context.Context, id string) (model.Product, error)
}

// PGStore reads products from Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// GetProduct returns the pricing projection of a product.
func (s *PGStore) GetProduct(ctx context.Context, id string) (model.Product, error) {
	if s == nil || s.Pool == nil {
		return model.Product{}, ErrStoreUnavailable
	}
	var p model.Product
	err := s.Pool.QueryRow(ctx, `SELECT id, name, COALESCE(image, ''), price FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Image, &p.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, ErrNotFound
		}
		return model.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Service serves product lookups through the cache.
type Service struct {
	Store Store
	Cache *Cache[model.Product]
}

// NewProductCache keys products under catalog:product:.
func NewProductCache(client *redis.Client, ttl time.Duration) *Cache[model.Product] {
	return NewCache[model.Product](client, "catalog:product:", ttl)
}

// GetProduct returns a product, consulting the cache first.
func (s *Service) GetProduct(ctx context.Context, id string) (model.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Product{}, ErrNotFound
	}
	return s.Cache.Get(ctx, id, func(ctx context.Context) (model.Product, error) {
		if s.Store == nil {
			return model.Product{}, ErrStoreUnavailable
		}
		return s.Store.GetProduct(ctx, id)
	})
}

// Forget evicts a product from the cache.
func (s *Service) Forget(ctx context.Context, id string) error {
	return s.Cache.Forget(ctx, id)
}
