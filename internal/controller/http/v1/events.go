package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// StreamEvents serves the per-job event log as server-sent events. The
// optional ?after=k parameter resumes from sequence k; everything already
// persisted above k is replayed first, then live events follow in order.
func (h *JobsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	after := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, domain.NewValidationError("after", "must be a non-negative integer"))
			return
		}
		after = parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	// The stream outlives the server's write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.stream.Subscribe(r.Context(), jobID, after)
	defer sub.Close()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Sequence, event.Type, event.Payload)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
