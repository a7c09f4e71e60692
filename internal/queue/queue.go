package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker.
const (
	TypeVoucherRestore = "voucher:restore_use"
	TypeCartSweep      = "cart:sweep_expired"
)

// DefaultQueue is the asynq queue every task goes to unless configured otherwise.
const DefaultQueue = "default"

// Client is the subset of *asynq.Client the enqueuer needs.
type Client interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes tasks to asynq.
type Enqueuer struct {
	Client      Client
	Queue       string
	MaxAttempts int
}

type voucherRestorePayload struct {
	Code string `json:"code"`
}

// Enqueue publishes a task of the given kind.
func (e Enqueuer) Enqueue(ctx context.Context, kind string, payload []byte, opts ...asynq.Option) error {
	if e.Client == nil {
		return errors.New("queue: client not configured")
	}
	kind = sanitizeKind(kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	base := []asynq.Option{asynq.Queue(e.queue()), asynq.MaxRetry(maxAttempts)}
	if _, err := e.Client.EnqueueContext(ctx, asynq.NewTask(kind, payload), append(base, opts...)...); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", kind, err)
	}
	return nil
}

// ScheduleRestore queues a retry for returning one use to a limited voucher.
func (e Enqueuer) ScheduleRestore(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("queue: voucher code is required")
	}
	payload, err := json.Marshal(voucherRestorePayload{Code: code})
	if err != nil {
		return err
	}
	return e.Enqueue(ctx, TypeVoucherRestore, payload)
}

// NewCartSweepTask builds the periodic expired-cart sweep task.
func NewCartSweepTask() *asynq.Task {
	return asynq.NewTask(TypeCartSweep, nil)
}

func (e Enqueuer) queue() string {
	if e.Queue == "" {
		return DefaultQueue
	}
	return e.Queue
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}
