package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-pricing/internal/model"
)

// ErrStoreUnavailable indicates the database pool is not configured.
var ErrStoreUnavailable = errors.New("cart: store unavailable")

// PGStore keeps each cart as a JSONB document keyed by its code. Owner and
// expiry are mirrored into columns for lookups and the expiry sweep.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// Get loads a cart by code.
func (s *PGStore) Get(ctx context.Context, code string) (*model.Cart, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	var doc []byte
	err := s.Pool.QueryRow(ctx, `SELECT document FROM carts WHERE code = $1`, code).Scan(&doc)
	return decodeCart(doc, err)
}

// FindByOwner returns the owner's most recently updated live cart.
func (s *PGStore) FindByOwner(ctx context.Context, owner model.Owner, now time.Time) (*model.Cart, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	var doc []byte
	err := s.Pool.QueryRow(ctx, `SELECT document FROM carts
WHERE owner_kind = $1 AND owner_id = $2 AND (expires_at IS NULL OR expires_at > $3)
ORDER BY updated_at DESC LIMIT 1`, owner.Kind, owner.ID, now).Scan(&doc)
	return decodeCart(doc, err)
}

// Save upserts the cart document.
func (s *PGStore) Save(ctx context.Context, c *model.Cart) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO carts (code, owner_kind, owner_id, document, total, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (code) DO UPDATE SET owner_kind = EXCLUDED.owner_kind, owner_id = EXCLUDED.owner_id,
document = EXCLUDED.document, total = EXCLUDED.total, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`,
		c.Code, c.Owner.Kind, c.Owner.ID, doc, c.Total, c.CreatedAt, c.UpdatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

// Delete removes a cart.
func (s *PGStore) Delete(ctx context.Context, code string) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM carts WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTx removes a cart inside an existing transaction.
func (s *PGStore) DeleteTx(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM carts WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes every cart whose expiry is at or before now.
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.Pool == nil {
		return 0, ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM carts WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func decodeCart(doc []byte, err error) (*model.Cart, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var c model.Cart
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return &c, nil
}
