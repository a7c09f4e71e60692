package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Instrument counts processed tasks and logs failures.
func Instrument(logger *zerolog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			obs.JobsProcessedTotal.WithLabelValues(t.Type(), obs.Result(err)).Inc()
			if err != nil && logger != nil {
				logger.Warn().Err(err).Str("task", t.Type()).Dur("duration", time.Since(start)).Msg("task failed")
			}
			return err
		})
	}
}
