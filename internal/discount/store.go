package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-pricing/internal/model"
)

var (
	// ErrNotFound is returned when a discount does not exist.
	ErrNotFound = errors.New("discount not found")
	// ErrStoreUnavailable indicates the database pool is not configured.
	ErrStoreUnavailable = errors.New("discount: store unavailable")
)

// Store is the full persistence surface for discounts.
type Store interface {
	Repository
	Get(ctx context.Context, id string) (model.Discount, error)
	List(ctx context.Context, scope model.DiscountScope, limit, offset int) ([]model.Discount, error)
	Create(ctx context.Context, d model.Discount) (model.Discount, error)
	Update(ctx context.Context, d model.Discount) (model.Discount, error)
	SetStatus(ctx context.Context, id string, status model.DiscountStatus) (model.Discount, error)
	Delete(ctx context.Context, id string) error
}

// PGStore keeps discounts in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const discountColumns = `id, name, scope, COALESCE(product_id, ''), method, value, start_date, end_date, status, capped, cap_amount, created_at, updated_at`

func (s *PGStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ListActive returns discounts active on q.Day ordered by value descending then id.
func (s *PGStore) ListActive(ctx context.Context, q Query) ([]model.Discount, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		rows pgx.Rows
		err  error
	)
	base := `SELECT ` + discountColumns + ` FROM discounts
WHERE status = 'active' AND scope = $1 AND start_date <= $2 AND (end_date IS NULL OR end_date >= $2)`
	if q.Scope == model.ScopeProduct {
		rows, err = s.Pool.Query(ctx, base+` AND product_id = $3 ORDER BY value DESC, id`, q.Scope, q.Day, q.ProductID)
	} else {
		rows, err = s.Pool.Query(ctx, base+` ORDER BY value DESC, id`, q.Scope, q.Day)
	}
	if err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}
	return collect(rows)
}

// Get fetches a discount by id.
func (s *PGStore) Get(ctx context.Context, id string) (model.Discount, error) {
	if s == nil || s.Pool == nil {
		return model.Discount{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id)
	return scanOne(row)
}

// List pages through discounts, optionally filtered by scope.
func (s *PGStore) List(ctx context.Context, scope model.DiscountScope, limit, offset int) ([]model.Discount, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if scope != "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+discountColumns+` FROM discounts WHERE scope = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, scope, limit, offset)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+discountColumns+` FROM discounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	return collect(rows)
}

// Create inserts d, assigning an id when missing.
func (s *PGStore) Create(ctx context.Context, d model.Discount) (model.Discount, error) {
	if s == nil || s.Pool == nil {
		return model.Discount{}, ErrStoreUnavailable
	}
	if strings.TrimSpace(d.ID) == "" {
		d.ID = uuid.NewString()
	}
	now := s.now()
	row := s.Pool.QueryRow(ctx, `INSERT INTO discounts (id, name, scope, product_id, method, value, start_date, end_date, status, capped, cap_amount, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $12)
RETURNING `+discountColumns,
		d.ID, d.Name, d.Scope, d.ProductID, d.Method, d.Value, d.StartDate, d.EndDate, d.Status, d.Capped, d.CapAmount, now)
	out, err := scanOne(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Discount{}, fmt.Errorf("discount %s already exists: %w", d.ID, model.ErrInvalidDiscount)
		}
		return model.Discount{}, err
	}
	return out, nil
}

// Update replaces every mutable field of d.
func (s *PGStore) Update(ctx context.Context, d model.Discount) (model.Discount, error) {
	if s == nil || s.Pool == nil {
		return model.Discount{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `UPDATE discounts SET name = $2, scope = $3, product_id = NULLIF($4, ''), method = $5, value = $6,
start_date = $7, end_date = $8, status = $9, capped = $10, cap_amount = $11, updated_at = $12
WHERE id = $1 RETURNING `+discountColumns,
		d.ID, d.Name, d.Scope, d.ProductID, d.Method, d.Value, d.StartDate, d.EndDate, d.Status, d.Capped, d.CapAmount, s.now())
	return scanOne(row)
}

// SetStatus toggles a discount between active and inactive.
func (s *PGStore) SetStatus(ctx context.Context, id string, status model.DiscountStatus) (model.Discount, error) {
	if s == nil || s.Pool == nil {
		return model.Discount{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `UPDATE discounts SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+discountColumns, id, status, s.now())
	return scanOne(row)
}

// Delete removes a discount.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM discounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOne(row pgx.Row) (model.Discount, error) {
	d, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Discount{}, ErrNotFound
		}
		return model.Discount{}, err
	}
	return d, nil
}

func collect(rows pgx.Rows) ([]model.Discount, error) {
	defer rows.Close()
	out := make([]model.Discount, 0)
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (model.Discount, error) {
	var (
		d     model.Discount
		start time.Time
		end   *time.Time
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Scope, &d.ProductID, &d.Method, &d.Value, &start, &end,
		&d.Status, &d.Capped, &d.CapAmount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return model.Discount{}, err
	}
	d.StartDate = model.DayKey(start)
	if end != nil {
		day := model.DayKey(*end)
		d.EndDate = &day
	}
	return d, nil
}
