package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"upsync/pkg/logger"
	"upsync/pkg/syncq"
	"upsync/pkg/utils"
)

// queueItem is the wire view of one queued operation. Payloads are
// elided from listings; only their size is reported.
type queueItem struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	PayloadBytes  int        `json:"payload_bytes"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

func itemView(it syncq.Item) queueItem {
	v := queueItem{
		ID:           it.ID,
		Type:         it.Type,
		Status:       it.Status.String(),
		Attempts:     it.Attempts,
		PayloadBytes: len(it.Payload),
		EnqueuedAt:   it.EnqueuedAt,
		LastError:    it.LastError,
	}
	if !it.LastAttemptAt.IsZero() {
		t := it.LastAttemptAt
		v.LastAttemptAt = &t
	}
	if !it.NextAttemptAt.IsZero() {
		t := it.NextAttemptAt
		v.NextAttemptAt = &t
	}
	return v
}

// listQueue handles GET /queue with all retained items in insertion
// order.
func (a *API) listQueue(w http.ResponseWriter, r *http.Request) {
	items := a.queue.Items()
	out := make([]queueItem, 0, len(items))
	for _, it := range items {
		out = append(out, itemView(it))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Items []queueItem `json:"items"`
	}{Items: out})
}

// enqueueItem handles POST /queue. The body carries the operation type
// and its JSON payload; execution goes through the daemon's default
// executor.
func (a *API) enqueueItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing type")
		return
	}
	tk, err := a.queue.Enqueue(req.Type, req.Payload, nil)
	if err != nil {
		switch {
		case errors.Is(err, syncq.ErrQueueFull):
			utils.JSONError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, syncq.ErrClosed):
			utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		default:
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	logger.Info("item_enqueued_via_api", "id", tk.ID, "type", req.Type)
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"id": tk.ID, "status": "pending"})
}

// clearQueue handles DELETE /queue, dropping every item including
// failed ones.
func (a *API) clearQueue(w http.ResponseWriter, r *http.Request) {
	a.queue.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// syncNow handles POST /queue/sync by kicking an immediate pass.
func (a *API) syncNow(w http.ResponseWriter, r *http.Request) {
	a.queue.SyncNow()
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// removeItem handles DELETE /queue/{id}.
func (a *API) removeItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.queue.Remove(id) {
		utils.JSONError(w, http.StatusNotFound, "unknown item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retryItem handles POST /queue/{id}/retry, resetting a failed item to
// pending with a fresh attempt budget.
func (a *API) retryItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tk, err := a.queue.Retry(id)
	if err != nil {
		switch {
		case errors.Is(err, syncq.ErrNotFound):
			utils.JSONError(w, http.StatusNotFound, "unknown item")
		case errors.Is(err, syncq.ErrNotFailed):
			utils.JSONError(w, http.StatusConflict, "item not in failed state")
		default:
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"id": tk.ID, "status": "pending"})
}
