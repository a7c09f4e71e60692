package queue

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Inspector is the subset of *asynq.Inspector used for queue stats.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// AdminHandler exposes queue management endpoints for DLQ operations and stats.
type AdminHandler struct {
	Store     Store
	Queue     Enqueuer
	Inspector Inspector
	PageSize  int
	Logger    *zerolog.Logger
}

// Routes mounts the admin queue endpoints.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Delete("/dlq/{id}", h.DiscardDLQ)
	r.Get("/stats", h.Stats)
}

// ListDLQ returns DLQ entries filtered by kind with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	page := common.ParsePage(r, h.pageSize(), 200)

	entries, err := h.Store.ListQueueDlq(ctx, kind, page.Limit, page.Offset)
	if err != nil {
		h.internal(w, err)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.internal(w, err)
		return
	}
	resp := map[string]any{
		"data":  entries,
		"total": total,
	}
	if kind != "" {
		resp["kind"] = kind
	}
	common.JSON(w, http.StatusOK, resp)
}

// ReplayDLQ re-enqueues DLQ entries either by ID list or batch by kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.Client == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	ids := uniqueStrings(req.IDs)
	kind := sanitizeKind(strings.TrimSpace(req.Kind))
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}
	ctx := r.Context()
	replayed := make([]uuid.UUID, 0, len(ids))
	failed := make(map[string]string)

	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				failed[raw] = "invalid uuid"
				continue
			}
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			if err := h.requeueEntry(ctx, entry); err != nil {
				failed[raw] = err.Error()
				continue
			}
			replayed = append(replayed, id)
		}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		entries, err := h.Store.ListQueueDlq(ctx, kind, limit, 0)
		if err != nil {
			h.internal(w, err)
			return
		}
		for _, entry := range entries {
			if err := h.requeueEntry(ctx, entry); err != nil {
				failed[entry.ID.String()] = err.Error()
				continue
			}
			replayed = append(replayed, entry.ID)
		}
	}

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// DiscardDLQ drops an entry that should not be retried, e.g. a voucher
// restore for a voucher that has since been deleted.
func (h *AdminHandler) DiscardDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid dlq id", nil)
		return
	}
	if _, err := h.Store.GetQueueDlq(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dlq entry not found", nil)
			return
		}
		h.internal(w, err)
		return
	}
	if err := h.Store.DeleteQueueDlq(r.Context(), id); err != nil {
		h.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns asynq queue counters alongside the DLQ size.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("queue"))
	if name == "" {
		name = h.Queue.queue()
	}
	info, err := h.Inspector.GetQueueInfo(name)
	if err != nil {
		h.internal(w, err)
		return
	}
	dlq, err := h.Store.CountQueueDlq(r.Context(), "")
	if err != nil {
		h.internal(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"queue":      name,
		"pending":    info.Pending,
		"active":     info.Active,
		"scheduled":  info.Scheduled,
		"retry":      info.Retry,
		"archived":   info.Archived,
		"processed":  info.Processed,
		"failed":     info.Failed,
		"latency_ms": info.Latency.Milliseconds(),
		"dlq":        dlq,
	})
}

func (h *AdminHandler) requeueEntry(ctx context.Context, entry DLQEntry) error {
	if sanitizeKind(entry.Kind) == "" {
		return errors.New("unknown task kind")
	}
	if err := h.Queue.Enqueue(ctx, entry.Kind, entry.Payload); err != nil {
		return err
	}
	return h.Store.DeleteQueueDlq(ctx, entry.ID)
}

func (h *AdminHandler) internal(w http.ResponseWriter, err error) {
	if h.Logger != nil {
		h.Logger.Error().Err(err).Msg("queue admin request failed")
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue request failed", nil)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}
