package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-pricing/internal/model"
)

// ErrStoreUnavailable indicates the database pool is not configured.
var ErrStoreUnavailable = errors.New("order: store unavailable")

// CartDeleter removes a cart inside the caller's transaction.
type CartDeleter interface {
	DeleteTx(ctx context.Context, tx pgx.Tx, code string) error
}

// PGStore keeps orders as JSONB snapshots.
type PGStore struct {
	Pool  *pgxpool.Pool
	Carts CartDeleter
}

// Place inserts the order and deletes the source cart in one transaction.
func (s *PGStore) Place(ctx context.Context, o model.Order) error {
	if s == nil || s.Pool == nil || s.Carts == nil {
		return ErrStoreUnavailable
	}
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `INSERT INTO orders (code, cart_code, owner_kind, owner_id, status, document, total, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.Code, o.CartCode, o.Owner.Kind, o.Owner.ID, o.Status, doc, o.Total, o.CreatedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := s.Carts.DeleteTx(ctx, tx, o.CartCode); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return tx.Commit(ctx)
}

// Get loads an order by code.
func (s *PGStore) Get(ctx context.Context, code string) (model.Order, error) {
	if s == nil || s.Pool == nil {
		return model.Order{}, ErrStoreUnavailable
	}
	var doc []byte
	if err := s.Pool.QueryRow(ctx, `SELECT document FROM orders WHERE code = $1`, code).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, err
	}
	var o model.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return model.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}
