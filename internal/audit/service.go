// Package audit keeps a trail of admin changes to pricing rules.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one recorded admin request.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    string          `json:"actorId"`
	ActorRole  string          `json:"actorRole"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID *string         `json:"resourceId,omitempty"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Status     int             `json:"status"`
	RequestID  *string         `json:"requestId,omitempty"`
	IP         *string         `json:"ip,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, resource string, limit, offset int) ([]Entry, error)
}

// Service records entries when enabled.
type Service struct {
	Store   Store
	Enabled bool
	Now     func() time.Time
}

// Record fills the id and timestamp and stores e.
func (s Service) Record(ctx context.Context, e Entry) error {
	if !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	if s.Now != nil {
		e.CreatedAt = s.Now()
	}
	if strings.TrimSpace(e.ActorID) == "" {
		e.ActorID = "anonymous"
	}
	return s.Store.Insert(ctx, e)
}

// PGStore stores entries in audit_logs.
type PGStore struct {
	Pool *pgxpool.Pool
}

const auditColumns = `id, actor_id, actor_role, action, resource, resource_id, method, path, status, request_id, ip, metadata, created_at`

func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		meta = e.Metadata
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO audit_logs (`+auditColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.Resource, e.ResourceID, e.Method, e.Path, e.Status, e.RequestID, e.IP, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, resource string, limit, offset int) ([]Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if resource != "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE resource = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, resource, limit, offset)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.Resource, &e.ResourceID, &e.Method, &e.Path,
			&e.Status, &e.RequestID, &e.IP, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = meta
		out = append(out, e)
	}
	return out, rows.Err()
}
