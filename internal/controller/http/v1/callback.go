package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/jobs"
)

type dispatchCallbackRequest struct {
	JobID           string `json:"job_id"`
	ManifestHash    string `json:"manifest_hash"`
	ExecutionHandle string `json:"execution_handle"`
	DurationMS      int64  `json:"duration_ms"`
	Groups          []struct {
		GroupID   string `json:"group_id"`
		ResultKey string `json:"result_key"`
		Error     string `json:"error"`
	} `json:"groups"`
}

// DispatchCallback ingests asynchronous per-group outcomes from the compute
// provider. Stale callbacks are acknowledged with 200 so the provider stops
// retrying; their content has already been superseded.
func (h *JobsHandler) DispatchCallback(w http.ResponseWriter, r *http.Request) {
	var req dispatchCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}
	if req.JobID == "" {
		writeError(w, domain.NewValidationError("job_id", "is required"))
		return
	}

	cb := jobs.Callback{
		JobID:           req.JobID,
		ManifestHash:    req.ManifestHash,
		ExecutionHandle: req.ExecutionHandle,
		Duration:        time.Duration(req.DurationMS) * time.Millisecond,
		Groups:          make([]jobs.GroupResult, 0, len(req.Groups)),
	}
	for _, g := range req.Groups {
		cb.Groups = append(cb.Groups, jobs.GroupResult{
			GroupID:   g.GroupID,
			ResultKey: g.ResultKey,
			Error:     g.Error,
		})
	}

	if err := h.service.HandleCallback(r.Context(), cb); err != nil {
		if errors.Is(err, domain.ErrStaleCallback) {
			writeJSON(w, http.StatusOK, map[string]string{"result": "stale"})
			return
		}
		writeError(w, err)
		return
	}

	h.invalidateStatus(r.Context(), req.JobID)
	writeJSON(w, http.StatusOK, map[string]string{"result": "applied"})
}
