package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/queue"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

type voucherStub struct {
	vouchers map[string]model.Voucher
	restored []string
	err      error
}

func (v *voucherStub) GetByCode(_ context.Context, code string) (model.Voucher, error) {
	x, ok := v.vouchers[code]
	if !ok {
		return model.Voucher{}, voucher.ErrNotFound
	}
	return x, nil
}

func (v *voucherStub) RestoreUse(_ context.Context, code string) error {
	if v.err != nil {
		return v.err
	}
	v.restored = append(v.restored, code)
	return nil
}

type sweeperStub struct{ calls int }

func (s *sweeperStub) SweepExpired(context.Context) (int64, error) {
	s.calls++
	return 3, nil
}

func restoreTask(payload string) *asynq.Task {
	return asynq.NewTask(queue.TypeVoucherRestore, []byte(payload))
}

func TestHandleVoucherRestore(t *testing.T) {
	store := &voucherStub{vouchers: map[string]model.Voucher{
		"LTD":   {Code: "LTD", Type: model.VoucherLimitedUses},
		"PROMO": {Code: "PROMO", Type: model.VoucherPromotion},
	}}
	h := &queue.Handlers{Vouchers: store}

	require.NoError(t, h.HandleVoucherRestore(context.Background(), restoreTask(`{"code":"LTD"}`)))
	require.NoError(t, h.HandleVoucherRestore(context.Background(), restoreTask(`{"code":"PROMO"}`)))
	require.Equal(t, []string{"LTD"}, store.restored)

	err := h.HandleVoucherRestore(context.Background(), restoreTask(`{"code":"GONE"}`))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.HandleVoucherRestore(context.Background(), restoreTask(`not json`))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.HandleVoucherRestore(context.Background(), restoreTask(`{}`))
	require.ErrorIs(t, err, asynq.SkipRetry)

	store.err = errors.New("db down")
	err = h.HandleVoucherRestore(context.Background(), restoreTask(`{"code":"LTD"}`))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestMuxRoutesAndCounts(t *testing.T) {
	sweeper := &sweeperStub{}
	h := &queue.Handlers{Carts: sweeper}
	before := testutil.ToFloat64(obs.JobsProcessedTotal.WithLabelValues(queue.TypeCartSweep, "ok"))

	require.NoError(t, h.Mux().ProcessTask(context.Background(), queue.NewCartSweepTask()))
	require.Equal(t, 1, sweeper.calls)
	require.Equal(t, before+1, testutil.ToFloat64(obs.JobsProcessedTotal.WithLabelValues(queue.TypeCartSweep, "ok")))
}

func TestDeadLetterRecordsSkippedTasks(t *testing.T) {
	store := newMemoryStore()
	dl := queue.DeadLetter{Store: store}
	task := restoreTask(`{"code":"GONE"}`)

	dl.HandleError(context.Background(), task, errors.New("transient"))
	count, _ := store.CountQueueDlq(context.Background(), "")
	require.Zero(t, count)

	dl.HandleError(context.Background(), task, errors.Join(errors.New("voucher GONE"), asynq.SkipRetry))
	entries, err := store.ListQueueDlq(context.Background(), queue.TypeVoucherRestore, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, `{"code":"GONE"}`, string(entries[0].Payload))
	require.NotNil(t, entries[0].LastError)
}
