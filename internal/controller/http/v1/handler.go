package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mvai/bracket_orchestrator/internal/cache"
	"github.com/mvai/bracket_orchestrator/internal/domain"
	"github.com/mvai/bracket_orchestrator/internal/events"
	"github.com/mvai/bracket_orchestrator/internal/jobs"
)

type JobsService interface {
	Create(ctx context.Context, userID, workflowID string, declaredFiles int) (*domain.Job, error)
	PresignUploads(ctx context.Context, jobID string, filenames []string) ([]jobs.UploadTarget, error)
	PresignMultipartUpload(ctx context.Context, jobID, filename string, parts int) (*jobs.MultipartTarget, error)
	CompleteMultipartUpload(ctx context.Context, jobID, filename, uploadID string, etags []string) (string, error)
	RegisterFiles(ctx context.Context, jobID string, regs []jobs.FileRegistration) (*domain.Job, error)
	Analyze(ctx context.Context, jobID string) (*domain.Job, error)
	Start(ctx context.Context, jobID string, skipGroupIDs []string) (*domain.Job, error)
	RetryMissing(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	Status(ctx context.Context, jobID string) (*jobs.StatusView, error)
	ResultDownload(ctx context.Context, jobID, groupID string) (string, error)
	HandleCallback(ctx context.Context, cb jobs.Callback) error
}

type StatusCache interface {
	Get(ctx context.Context, jobID string) (*jobs.StatusView, error)
	Set(ctx context.Context, jobID string, view *jobs.StatusView) error
	Invalidate(ctx context.Context, jobID string) error
}

type EventStream interface {
	Subscribe(ctx context.Context, jobID string, resumeFrom int64) *events.Subscription
}

type JobsHandler struct {
	log     *slog.Logger
	service JobsService
	cache   StatusCache
	stream  EventStream
}

func NewJobsHandler(log *slog.Logger, service JobsService, cache StatusCache, stream EventStream) *JobsHandler {
	return &JobsHandler{
		log:     log,
		service: service,
		cache:   cache,
		stream:  stream,
	}
}

type jobResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	WorkflowID     string     `json:"workflow_id,omitempty"`
	Status         string     `json:"status"`
	DeclaredFiles  int        `json:"declared_files"`
	EstimatedUnits int        `json:"estimated_units"`
	ReservedUnits  int        `json:"reserved_units"`
	SettledUnits   int        `json:"settled_units"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
}

func newJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:             job.ID,
		UserID:         job.UserID,
		WorkflowID:     job.WorkflowID,
		Status:         string(job.Status),
		DeclaredFiles:  job.DeclaredFiles,
		EstimatedUnits: job.EstimatedUnits,
		ReservedUnits:  job.ReservedUnits,
		SettledUnits:   job.SettledUnits,
		ErrorMessage:   job.ErrorMessage,
		CanceledAt:     job.CanceledAt,
	}
}

type createJobRequest struct {
	UserID        string `json:"user_id"`
	WorkflowID    string `json:"workflow_id"`
	DeclaredFiles int    `json:"declared_files"`
}

func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}

	job, err := h.service.Create(r.Context(), req.UserID, req.WorkflowID, req.DeclaredFiles)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newJobResponse(job))
}

type presignUploadsRequest struct {
	Filenames []string `json:"filenames"`
}

func (h *JobsHandler) PresignUploads(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req presignUploadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}

	targets, err := h.service.PresignUploads(r.Context(), jobID, req.Filenames)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploads": targets})
}

type multipartUploadRequest struct {
	Filename string `json:"filename"`
	Parts    int    `json:"parts"`
}

func (h *JobsHandler) PresignMultipartUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req multipartUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}

	target, err := h.service.PresignMultipartUpload(r.Context(), jobID, req.Filename, req.Parts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, target)
}

type completeMultipartRequest struct {
	Filename string   `json:"filename"`
	UploadID string   `json:"upload_id"`
	ETags    []string `json:"etags"`
}

func (h *JobsHandler) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req completeMultipartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}

	key, err := h.service.CompleteMultipartUpload(r.Context(), jobID, req.Filename, req.UploadID, req.ETags)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"storage_key": key})
}

type registerFilesRequest struct {
	Files []struct {
		StorageKey string `json:"storage_key"`
		Filename   string `json:"filename"`
	} `json:"files"`
}

func (h *JobsHandler) RegisterFiles(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req registerFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}

	regs := make([]jobs.FileRegistration, 0, len(req.Files))
	for _, f := range req.Files {
		regs = append(regs, jobs.FileRegistration{
			StorageKey: f.StorageKey,
			Filename:   f.Filename,
		})
	}

	job, err := h.service.RegisterFiles(r.Context(), jobID, regs)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateStatus(r.Context(), jobID)
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (h *JobsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.service.Analyze)
}

type startJobRequest struct {
	SkipGroupIDs []string `json:"skip_group_ids"`
}

func (h *JobsHandler) Start(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req startJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.NewValidationError("body", "invalid json"))
			return
		}
	}

	job, err := h.service.Start(r.Context(), jobID, req.SkipGroupIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateStatus(r.Context(), jobID)
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (h *JobsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.service.RetryMissing)
}

func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.service.Cancel)
}

func (h *JobsHandler) jobAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*domain.Job, error)) {
	jobID := chi.URLParam(r, "job_id")

	job, err := action(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateStatus(r.Context(), jobID)
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// GetJob serves the aggregated status snapshot, preferring the cache. A
// snapshot is only cached after a fresh read, so polling clients see at worst
// a slightly stale view within the cache TTL.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if view, err := h.cache.Get(r.Context(), jobID); err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		h.log.WarnContext(r.Context(), "status cache read failed",
			slog.String("job_id", jobID),
			slog.String("err", err.Error()),
		)
	}

	view, err := h.service.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.cache.Set(r.Context(), jobID, view); err != nil {
		h.log.WarnContext(r.Context(), "status cache write failed",
			slog.String("job_id", jobID),
			slog.String("err", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, view)
}

// DownloadResult redirects to a presigned URL for a completed group's result.
func (h *JobsHandler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	groupID := chi.URLParam(r, "group_id")

	url, err := h.service.ResultDownload(r.Context(), jobID, groupID)
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (h *JobsHandler) invalidateStatus(ctx context.Context, jobID string) {
	if err := h.cache.Invalidate(ctx, jobID); err != nil {
		h.log.WarnContext(ctx, "status cache invalidation failed",
			slog.String("job_id", jobID),
			slog.String("err", err.Error()),
		)
	}
}
