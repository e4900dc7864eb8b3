// Package httpapi exposes the sync wire contract over HTTP: batch push,
// cursor pull, the live event stream, schema negotiation, and the
// integrity export.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/logging"
	"github.com/trialware/diarysync/internal/server/broadcast"
	"github.com/trialware/diarysync/internal/server/services"
	"github.com/trialware/diarysync/internal/wire"
)

// MaxPushBatch bounds one push request.
const MaxPushBatch = 200

type Handler struct {
	sync   *services.SyncService
	hub    *broadcast.Hub
	logger logging.Logger
}

func NewHandler(sync *services.SyncService, hub *broadcast.Hub, logger logging.Logger) *Handler {
	return &Handler{sync: sync, hub: hub, logger: logger.With("module", "httpapi")}
}

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req wire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "empty batch", http.StatusBadRequest)
		return
	}
	if len(req.Events) > MaxPushBatch {
		http.Error(w, fmt.Sprintf("batch exceeds %d events", MaxPushBatch), http.StatusBadRequest)
		return
	}
	for _, e := range req.Events {
		if !allowedWriter(actor, e) {
			http.Error(w, "event actor does not match token", http.StatusForbidden)
			return
		}
	}

	results, err := h.sync.AppendBatch(r.Context(), req.Events)
	if err != nil {
		h.logger.Error(r.Context(), "push failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, wire.PushResponse{Results: results})
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	since, err := parseInt64(r.URL.Query().Get("since_sequence"))
	if err != nil {
		http.Error(w, "invalid since_sequence", http.StatusBadRequest)
		return
	}
	resp, err := h.sync.Pull(r.Context(), since, parseAggregates(r), 0)
	if err != nil {
		h.logger.Error(r.Context(), "pull failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) AggregateEvents(w http.ResponseWriter, r *http.Request) {
	aggregateID := chi.URLParam(r, "aggregateID")
	from, err := parseInt64(r.URL.Query().Get("from_sequence"))
	if err != nil {
		http.Error(w, "invalid from_sequence", http.StatusBadRequest)
		return
	}
	list, err := h.sync.AggregateEvents(r.Context(), aggregateID, from)
	if err != nil {
		h.logger.Error(r.Context(), "history read failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, wire.PullResponse{Events: list})
}

func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.sync.SchemaInfo())
}

// Stream serves the live event feed as server-sent events. It first drains
// everything past the cursor, then forwards hub deliveries. The hub is
// subscribed before the catch-up query so nothing falls between the two.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	since, err := parseInt64(r.URL.Query().Get("since_sequence"))
	if err != nil {
		http.Error(w, "invalid since_sequence", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	aggregates := parseAggregates(r)
	live, cancel := h.hub.Subscribe(aggregates)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	cursor := since
	backlog, err := h.sync.Pull(r.Context(), cursor, aggregates, 0)
	if err != nil {
		h.logger.Error(r.Context(), "stream catch-up failed", "error", err.Error())
		return
	}
	for _, e := range backlog.Events {
		if err := writeSSE(w, e); err != nil {
			return
		}
		cursor = e.GlobalSeq
	}
	flusher.Flush()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.GlobalSeq <= cursor {
				continue
			}
			if err := writeSSE(w, e); err != nil {
				return
			}
			cursor = e.GlobalSeq
			flusher.Flush()
		}
	}
}

// Export builds the audit bundle for one aggregate and date range.
// Restricted to investigators by the router.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	aggregateID := chi.URLParam(r, "aggregateID")
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}
	export, err := h.sync.ExportIntegrity(r.Context(), aggregateID, from, to)
	if err != nil {
		h.logger.Error(r.Context(), "export failed", "error", err.Error())
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, export)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, e *event.Event) error {
	data, err := event.EncodeWire(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseAggregates(r *http.Request) []string {
	raw := r.URL.Query().Get("aggregate_ids")
	if raw == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
