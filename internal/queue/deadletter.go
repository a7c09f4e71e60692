package queue

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// DeadLetter copies tasks that will not be retried again into the DLQ table so
// they can be inspected and replayed from the admin API.
type DeadLetter struct {
	Store  Store
	Logger *zerolog.Logger
}

// HandleError implements asynq.ErrorHandler.
func (d DeadLetter) HandleError(ctx context.Context, task *asynq.Task, err error) {
	if d.Store == nil || task == nil || !exhausted(ctx, err) {
		return
	}
	retried, _ := asynq.GetRetryCount(ctx)
	msg := err.Error()
	payload := task.Payload()
	if payload == nil {
		payload = []byte{}
	}
	entry := DLQEntry{
		Kind:      task.Type(),
		Payload:   payload,
		Attempts:  retried + 1,
		LastError: &msg,
	}
	if _, insertErr := d.Store.InsertQueueDlq(ctx, entry); insertErr != nil {
		if d.Logger != nil {
			d.Logger.Error().Err(insertErr).Str("task", task.Type()).Msg("dead letter insert failed")
		}
		return
	}
	if d.Logger != nil {
		d.Logger.Warn().Err(err).Str("task", task.Type()).Int("attempts", entry.Attempts).Msg("task moved to dead letter queue")
	}
}

func exhausted(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= max
}
