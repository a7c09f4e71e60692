package discount

import (
	"context"

	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/resilience"
)

// GuardedRepository fails fast with resilience.ErrOpenCircuit while Next keeps
// failing. The resolver treats that like any other lookup failure.
type GuardedRepository struct {
	Next    Repository
	Breaker *resilience.Breaker
}

func (g GuardedRepository) ListActive(ctx context.Context, q Query) ([]model.Discount, error) {
	var rows []model.Discount
	err := resilience.Do(ctx, g.Breaker, func(ctx context.Context) error {
		var err error
		rows, err = g.Next.ListActive(ctx, q)
		return err
	})
	return rows, err
}
