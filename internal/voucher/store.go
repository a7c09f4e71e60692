package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-pricing/internal/model"
)

var (
	// ErrDuplicate is returned when creating a voucher whose code is taken.
	ErrDuplicate = errors.New("voucher code already exists")
	// ErrStoreUnavailable indicates the database pool is not configured.
	ErrStoreUnavailable = errors.New("voucher: store unavailable")
)

// Store persists vouchers and their use counters.
type Store interface {
	GetByCode(ctx context.Context, code string) (model.Voucher, error)
	// ConsumeUse atomically takes one use; ErrExhausted when none are left.
	ConsumeUse(ctx context.Context, code string) error
	RestoreUse(ctx context.Context, code string) error
	Create(ctx context.Context, v model.Voucher) (model.Voucher, error)
	Update(ctx context.Context, v model.Voucher) (model.Voucher, error)
	Delete(ctx context.Context, code string) error
}

// PGStore keeps vouchers in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const voucherColumns = `code, type, start_date, end_date, remaining_uses, method, value, capped, cap_amount, created_at, updated_at`

func (s *PGStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetByCode looks a voucher up by its code.
func (s *PGStore) GetByCode(ctx context.Context, code string) (model.Voucher, error) {
	if s == nil || s.Pool == nil {
		return model.Voucher{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, strings.TrimSpace(code))
	return scanOne(row)
}

// ConsumeUse decrements remaining_uses only while it is positive.
func (s *PGStore) ConsumeUse(ctx context.Context, code string) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE vouchers SET remaining_uses = remaining_uses - 1, updated_at = $2
WHERE code = $1 AND remaining_uses > 0`, code, s.now())
	if err != nil {
		return fmt.Errorf("consume voucher use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExhausted
	}
	return nil
}

// RestoreUse gives one use back.
func (s *PGStore) RestoreUse(ctx context.Context, code string) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE vouchers SET remaining_uses = remaining_uses + 1, updated_at = $2 WHERE code = $1`, code, s.now())
	if err != nil {
		return fmt.Errorf("restore voucher use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Create inserts a voucher.
func (s *PGStore) Create(ctx context.Context, v model.Voucher) (model.Voucher, error) {
	if s == nil || s.Pool == nil {
		return model.Voucher{}, ErrStoreUnavailable
	}
	now := s.now()
	row := s.Pool.QueryRow(ctx, `INSERT INTO vouchers (code, type, start_date, end_date, remaining_uses, method, value, capped, cap_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING `+voucherColumns,
		v.Code, v.Type, v.StartDate, v.EndDate, v.RemainingUses, v.Method, v.Value, v.Capped, v.CapAmount, now)
	out, err := scanOne(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Voucher{}, ErrDuplicate
		}
		return model.Voucher{}, err
	}
	return out, nil
}

// Update replaces the mutable fields of the voucher identified by v.Code.
func (s *PGStore) Update(ctx context.Context, v model.Voucher) (model.Voucher, error) {
	if s == nil || s.Pool == nil {
		return model.Voucher{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `UPDATE vouchers SET type = $2, start_date = $3, end_date = $4, remaining_uses = $5, method = $6,
value = $7, capped = $8, cap_amount = $9, updated_at = $10 WHERE code = $1 RETURNING `+voucherColumns,
		v.Code, v.Type, v.StartDate, v.EndDate, v.RemainingUses, v.Method, v.Value, v.Capped, v.CapAmount, s.now())
	return scanOne(row)
}

// Delete removes a voucher.
func (s *PGStore) Delete(ctx context.Context, code string) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM vouchers WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOne(row pgx.Row) (model.Voucher, error) {
	var (
		v          model.Voucher
		start, end *time.Time
	)
	err := row.Scan(&v.Code, &v.Type, &start, &end, &v.RemainingUses, &v.Method, &v.Value, &v.Capped, &v.CapAmount, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Voucher{}, ErrNotFound
		}
		return model.Voucher{}, err
	}
	v.StartDate = dayPtr(start)
	v.EndDate = dayPtr(end)
	return v, nil
}

func dayPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	day := model.DayKey(*t)
	return &day
}
