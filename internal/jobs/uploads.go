package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// ObjectStore is the storage collaborator surface the job lifecycle needs:
// presigned upload issuance for clients and prefix cleanup on cancel.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
	InitiateMultipart(ctx context.Context, key string, parts int) (uploadID string, partURLs []string, err error)
	CompleteMultipart(ctx context.Context, key, uploadID string, etags []string) error
	RemovePrefix(ctx context.Context, prefix string) error
}

const maxUploadParts = 1000

// UploadTarget pairs a filename with the storage key and presigned URL the
// client uploads it to. The same key is later passed back on registration.
type UploadTarget struct {
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
}

// PresignUploads issues one upload target per filename. Only jobs still
// accepting uploads may request targets.
func (s *Service) PresignUploads(ctx context.Context, jobID string, filenames []string) ([]UploadTarget, error) {
	if len(filenames) == 0 {
		return nil, domain.NewValidationError("filenames", "at least one filename is required")
	}

	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != domain.JobStatusDraft && job.Status != domain.JobStatusUploading {
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "presign_uploads"}
	}

	targets := make([]UploadTarget, 0, len(filenames))
	for _, filename := range filenames {
		if filename == "" {
			return nil, domain.NewValidationError("filenames", "filename must not be empty")
		}

		key := uploadKey(job.UserID, job.ID, filename)
		url, err := s.store.PresignUpload(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to presign upload for %q: %w", filename, err)
		}

		targets = append(targets, UploadTarget{
			Filename:   filename,
			StorageKey: key,
			URL:        url,
		})
	}

	s.log.DebugContext(ctx, "upload targets issued",
		slog.String("job_id", job.ID),
		slog.Int("count", len(targets)),
	)

	return targets, nil
}

// MultipartTarget carries everything a client needs to upload one large file
// in parts: the storage key, the provider upload id and one presigned URL per
// part.
type MultipartTarget struct {
	Filename   string   `json:"filename"`
	StorageKey string   `json:"storage_key"`
	UploadID   string   `json:"upload_id"`
	PartURLs   []string `json:"part_urls"`
}

// PresignMultipartUpload opens a multipart upload for one large file and
// issues presigned URLs for every part.
func (s *Service) PresignMultipartUpload(ctx context.Context, jobID, filename string, parts int) (*MultipartTarget, error) {
	if filename == "" {
		return nil, domain.NewValidationError("filename", "is required")
	}
	if parts < 2 || parts > maxUploadParts {
		return nil, domain.NewValidationError("parts", fmt.Sprintf("must be between 2 and %d", maxUploadParts))
	}

	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != domain.JobStatusDraft && job.Status != domain.JobStatusUploading {
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "presign_uploads"}
	}

	key := uploadKey(job.UserID, job.ID, filename)
	uploadID, partURLs, err := s.store.InitiateMultipart(ctx, key, parts)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate multipart upload for %q: %w", filename, err)
	}

	s.log.DebugContext(ctx, "multipart upload target issued",
		slog.String("job_id", job.ID),
		slog.String("filename", filename),
		slog.Int("parts", parts),
	)

	return &MultipartTarget{
		Filename:   filename,
		StorageKey: key,
		UploadID:   uploadID,
		PartURLs:   partURLs,
	}, nil
}

// CompleteMultipartUpload assembles the uploaded parts into the final object
// and returns its storage key for registration.
func (s *Service) CompleteMultipartUpload(ctx context.Context, jobID, filename, uploadID string, etags []string) (string, error) {
	if filename == "" || uploadID == "" {
		return "", domain.NewValidationError("upload", "filename and upload_id are required")
	}
	if len(etags) == 0 {
		return "", domain.NewValidationError("etags", "at least one part etag is required")
	}

	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return "", err
	}

	if job.Status != domain.JobStatusDraft && job.Status != domain.JobStatusUploading {
		return "", &domain.InvalidTransitionError{From: job.Status, Action: "presign_uploads"}
	}

	key := uploadKey(job.UserID, job.ID, filename)
	if err := s.store.CompleteMultipart(ctx, key, uploadID, etags); err != nil {
		return "", fmt.Errorf("failed to complete multipart upload for %q: %w", filename, err)
	}

	return key, nil
}

// ResultDownload issues a presigned download URL for a completed group's
// merged result.
func (s *Service) ResultDownload(ctx context.Context, jobID, groupID string) (string, error) {
	if _, err := s.jobs.JobByID(ctx, jobID); err != nil {
		return "", err
	}

	groups, err := s.groups.GroupsByJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	for _, g := range groups {
		if g.ID != groupID {
			continue
		}
		if g.Status != domain.GroupStatusCompleted || g.ResultKey == "" {
			return "", domain.NewValidationError("group", "has no result to download")
		}
		return s.store.PresignDownload(ctx, g.ResultKey)
	}

	return "", domain.ErrNotFound
}

func uploadKey(userID, jobID, filename string) string {
	return fmt.Sprintf("user/%s/jobs/%s/input/%s", userID, jobID, filename)
}

func uploadPrefix(userID, jobID string) string {
	return fmt.Sprintf("user/%s/jobs/%s/", userID, jobID)
}
