package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/credits"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Cancel aborts a job from any non-terminal state: the outstanding
// reservation is released exactly once, every non-completed group is marked
// failed and the job becomes canceled. Canceling an already-terminal job is a
// no-op. An in-flight provider call is not aborted; its late callback will
// carry a stale manifest hash and be discarded.
func (s *Service) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		s.log.DebugContext(ctx, "cancel on terminal job is a no-op",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return job, nil
	}

	if job.ReservedUnits > 0 {
		units := job.ReservedUnits
		if err := s.ledger.Release(ctx, job.UserID, job.ID, units, credits.CancelReleaseKey(job.ID)); err != nil {
			return nil, fmt.Errorf("failed to release reservation on cancel: %w", err)
		}
		job.ReservedUnits = 0

		s.appendEvent(ctx, job.ID, domain.EventCreditsReleased, map[string]any{
			"units":  units,
			"reason": "cancel",
		})
	}

	err = s.groups.SetStatuses(ctx, job.ID,
		[]domain.GroupStatus{domain.GroupStatusQueued, domain.GroupStatusProcessing, domain.GroupStatusSkipped},
		domain.GroupStatusFailed,
	)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusCanceled
	job.CanceledAt = &now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, domain.EventJobStatus, map[string]any{
		"status": job.Status,
	})

	// Uploaded inputs are purged best-effort; a leftover prefix is not worth
	// failing an already-canceled job over.
	if err := s.store.RemovePrefix(ctx, uploadPrefix(job.UserID, job.ID)); err != nil {
		s.log.WarnContext(ctx, "failed to remove uploads of canceled job",
			slog.String("job_id", job.ID),
			slog.String("err", err.Error()),
		)
	}

	s.log.InfoContext(ctx, "job canceled", slog.String("job_id", job.ID))

	return job, nil
}
