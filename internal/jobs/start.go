package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mvai/bracket_orchestrator/internal/credits"
	"github.com/mvai/bracket_orchestrator/internal/dispatch"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Start reserves credits for the selected groups and dispatches the work.
// Groups named in skipGroupIDs are marked skipped; groups skipped on an
// earlier start and absent from the new list are resumed. Re-invoking with an
// unchanged selection while the job is already reserved or processing is a
// no-op returning the current state. Reservation or dispatch failure reverts
// the job to input_resolved and releases any reservation taken.
func (s *Service) Start(ctx context.Context, jobID string, skipGroupIDs []string) (*domain.Job, error) {
	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	groups, err := s.groups.GroupsByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsDispatchInProgress() {
		manifest, _, err := s.buildManifest(ctx, job, activeGroupIDs(groups, skipGroupIDs))
		if err != nil {
			return nil, err
		}
		if manifest.Hash() == job.ManifestHash {
			s.log.DebugContext(ctx, "start repeated with unchanged selection, returning current state",
				slog.String("job_id", job.ID),
			)
			return job, nil
		}
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "start"}
	}

	if job.Status != domain.JobStatusInputResolved {
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "start"}
	}

	for _, id := range skipGroupIDs {
		if !containsGroup(groups, id) {
			return nil, domain.ErrNotFound
		}
	}

	activeIDs := selectedGroupIDs(groups, skipGroupIDs)
	if len(activeIDs) == 0 {
		return nil, domain.NewValidationError("groups", "no active groups to process")
	}

	units := len(activeIDs)
	if _, err := s.ledger.Reserve(ctx, job.UserID, job.ID, units, credits.ReserveKey(job.ID)); err != nil {
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}

	// Skip marks land only after the reservation holds; a declined
	// reservation leaves the groups exactly as they were.
	for _, g := range groups {
		switch {
		case slices.Contains(skipGroupIDs, g.ID):
			if g.Status != domain.GroupStatusSkipped {
				if err := s.groups.UpdateGroupStatus(ctx, g.ID, domain.GroupStatusSkipped, "", ""); err != nil {
					return nil, err
				}
			}
		case g.Status == domain.GroupStatusSkipped:
			if err := s.groups.UpdateGroupStatus(ctx, g.ID, domain.GroupStatusQueued, "", ""); err != nil {
				return nil, err
			}
		}
	}

	job.ReservedUnits = units
	job.Status = domain.JobStatusReserved
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, domain.EventCreditsReserved, map[string]any{
		"units": units,
	})

	return s.dispatchActive(ctx, job, activeIDs)
}

// RetryMissing requeues failed groups still under the attempt budget and
// re-dispatches them. Additional credits are reserved only when no
// reservation is currently held.
func (s *Service) RetryMissing(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case domain.JobStatusPartial, domain.JobStatusFailed:
	default:
		return nil, &domain.InvalidTransitionError{From: job.Status, Action: "retry_missing"}
	}

	retriedIDs, err := s.groups.ResetFailedGroups(ctx, job.ID, s.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if len(retriedIDs) == 0 {
		return nil, domain.NewValidationError("groups", "no retryable groups")
	}

	if job.ReservedUnits == 0 {
		units := len(retriedIDs)
		attempt := s.retryAttempt(ctx, job.ID, retriedIDs)
		if _, err := s.ledger.Reserve(ctx, job.UserID, job.ID, units, credits.RetryReserveKey(job.ID, attempt)); err != nil {
			return nil, fmt.Errorf("failed to reserve retry credits: %w", err)
		}

		job.ReservedUnits = units
		s.appendEvent(ctx, job.ID, domain.EventCreditsReserved, map[string]any{
			"units": units,
			"retry": true,
		})
	}

	job.Status = domain.JobStatusReserved
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return s.dispatchActive(ctx, job, retriedIDs)
}

// dispatchActive builds the manifest for the given groups, dispatches it and
// moves the job into hdr_processing. Dispatch failure releases the
// reservation and reverts the job.
func (s *Service) dispatchActive(ctx context.Context, job *domain.Job, groupIDs []string) (*domain.Job, error) {
	manifest, _, err := s.buildManifest(ctx, job, groupIDs)
	if err != nil {
		return nil, err
	}

	// The manifest must be on record before the provider is called, so a
	// crash between the two leaves a resumable trail. A handle from a
	// different manifest must not survive into the new dispatch.
	if hash := manifest.Hash(); hash != job.ManifestHash {
		job.ManifestHash = hash
		job.ExecutionHandle = ""
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	handle, reused, err := s.dispatcher.Dispatch(ctx, job, manifest)
	if err != nil {
		return nil, s.revertDispatch(ctx, job, err)
	}

	job.ExecutionHandle = handle
	job.Status = domain.JobStatusHDRProcessing
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	if !reused {
		if err := s.groups.SetStatuses(ctx, job.ID, []domain.GroupStatus{domain.GroupStatusQueued}, domain.GroupStatusProcessing); err != nil {
			return nil, err
		}

		s.appendEvent(ctx, job.ID, domain.EventDispatched, map[string]any{
			"manifest_hash":    job.ManifestHash,
			"execution_handle": handle,
			"groups":           len(groupIDs),
		})
	}

	return job, nil
}

func (s *Service) revertDispatch(ctx context.Context, job *domain.Job, dispatchErr error) error {
	if job.ReservedUnits > 0 {
		releaseErr := s.ledger.Release(ctx, job.UserID, job.ID, job.ReservedUnits, credits.DispatchReleaseKey(job.ID))
		if releaseErr != nil {
			s.log.ErrorContext(ctx, "failed to release reservation after dispatch failure",
				slog.String("job_id", job.ID),
				slog.String("err", releaseErr.Error()),
			)
		} else {
			s.appendEvent(ctx, job.ID, domain.EventCreditsReleased, map[string]any{
				"units":  job.ReservedUnits,
				"reason": "dispatch_failed",
			})
			job.ReservedUnits = 0
		}
	}

	job.Status = domain.JobStatusInputResolved
	job.ExecutionHandle = ""
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.log.ErrorContext(ctx, "failed to revert job after dispatch failure",
			slog.String("job_id", job.ID),
			slog.String("err", err.Error()),
		)
	}

	return fmt.Errorf("dispatch failed, job reverted: %w", dispatchErr)
}

// buildManifest collects the storage keys of every file belonging to the
// given groups into a deterministic manifest.
func (s *Service) buildManifest(ctx context.Context, job *domain.Job, groupIDs []string) (dispatch.Manifest, []*domain.UploadedFile, error) {
	files, err := s.files.FilesByJob(ctx, job.ID)
	if err != nil {
		return dispatch.Manifest{}, nil, err
	}

	var keys []string
	var members []*domain.UploadedFile
	for _, f := range files {
		if f.GroupID != nil && slices.Contains(groupIDs, *f.GroupID) {
			keys = append(keys, f.StorageKey)
			members = append(members, f)
		}
	}

	return dispatch.BuildManifest(keys, s.cfg.DispatchMode), members, nil
}

// retryAttempt derives a stable attempt number for the retry reservation key
// from the requeued groups, so retrying the same logical action reuses the
// same idempotency key.
func (s *Service) retryAttempt(ctx context.Context, jobID string, groupIDs []string) int {
	groups, err := s.groups.GroupsByJob(ctx, jobID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load groups for retry attempt",
			slog.String("job_id", jobID),
			slog.String("err", err.Error()),
		)
		return 1
	}

	attempt := 1
	for _, g := range groups {
		if slices.Contains(groupIDs, g.ID) && g.Attempts > attempt {
			attempt = g.Attempts
		}
	}
	return attempt
}

// selectedGroupIDs is the start selection: every group not named in the skip
// list, including previously skipped ones being resumed.
func selectedGroupIDs(groups []*domain.CaptureGroup, skipGroupIDs []string) []string {
	var ids []string
	for _, g := range groups {
		if slices.Contains(skipGroupIDs, g.ID) {
			continue
		}
		ids = append(ids, g.ID)
	}
	return ids
}

func activeGroupIDs(groups []*domain.CaptureGroup, skipGroupIDs []string) []string {
	var ids []string
	for _, g := range groups {
		if g.Status == domain.GroupStatusSkipped || slices.Contains(skipGroupIDs, g.ID) {
			continue
		}
		ids = append(ids, g.ID)
	}
	return ids
}

func containsGroup(groups []*domain.CaptureGroup, id string) bool {
	for _, g := range groups {
		if g.ID == id {
			return true
		}
	}
	return false
}
