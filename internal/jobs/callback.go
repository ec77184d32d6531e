package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/credits"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// GroupResult is one per-group outcome reported by the compute provider.
type GroupResult struct {
	GroupID   string
	ResultKey string
	Error     string
}

// Callback is the asynchronous outcome report for a dispatched manifest.
type Callback struct {
	JobID           string
	ManifestHash    string
	ExecutionHandle string
	Groups          []GroupResult
	Duration        time.Duration
}

// HandleCallback applies per-group outcomes from the compute provider. A
// callback whose manifest hash and execution handle both fail to match the
// job's current ones is stale - recognized, logged and discarded without
// touching any state. Once every active group is terminal the job settles
// into completed, partial or failed and leftover reserved units are released.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	job, err := s.jobs.JobByID(ctx, cb.JobID)
	if err != nil {
		return err
	}

	if s.isStale(job, cb) {
		s.log.WarnContext(ctx, "discarding stale dispatch callback",
			slog.String("job_id", cb.JobID),
			slog.String("callback_manifest", cb.ManifestHash),
			slog.String("current_manifest", job.ManifestHash),
			slog.String("callback_handle", cb.ExecutionHandle),
			slog.String("current_handle", job.ExecutionHandle),
		)
		return domain.ErrStaleCallback
	}

	for _, result := range cb.Groups {
		if result.Error == "" {
			if err := s.groups.UpdateGroupStatus(ctx, result.GroupID, domain.GroupStatusCompleted, result.ResultKey, ""); err != nil {
				return err
			}
			s.appendEvent(ctx, job.ID, domain.EventGroupCompleted, map[string]any{
				"group_id":   result.GroupID,
				"result_key": result.ResultKey,
			})
		} else {
			if err := s.groups.UpdateGroupStatus(ctx, result.GroupID, domain.GroupStatusFailed, "", result.Error); err != nil {
				return err
			}
			s.appendEvent(ctx, job.ID, domain.EventGroupFailed, map[string]any{
				"group_id": result.GroupID,
				"error":    result.Error,
			})
		}
	}

	if cb.Duration > 0 {
		s.dispatcher.RecordCompletion(cb.Duration)
	}

	return s.settle(ctx, job)
}

func (s *Service) isStale(job *domain.Job, cb Callback) bool {
	if job.Status.IsTerminal() {
		return true
	}

	// The manifest hash content-addresses the exact inputs and mode, so a
	// callback from a superseded execution of an identical re-dispatched
	// manifest carries the same results and is still accepted.
	manifestMatches := cb.ManifestHash != "" && cb.ManifestHash == job.ManifestHash
	handleMatches := cb.ExecutionHandle != "" && cb.ExecutionHandle == job.ExecutionHandle

	return !manifestMatches && !handleMatches
}

// settle checks whether all active groups are terminal and, if so, moves the
// job to its terminal status: completed when all succeeded, failed when all
// failed, partial otherwise. Only completions new to the current round consume
// the held reservation; the leftover is released once per round under a
// round-scoped idempotency key.
func (s *Service) settle(ctx context.Context, job *domain.Job) error {
	groups, err := s.groups.GroupsByJob(ctx, job.ID)
	if err != nil {
		return err
	}

	var active, completed, failed int
	for _, g := range groups {
		if g.Status == domain.GroupStatusSkipped {
			continue
		}
		active++
		switch g.Status {
		case domain.GroupStatusCompleted:
			completed++
		case domain.GroupStatusFailed:
			failed++
		}
	}

	if active == 0 || completed+failed < active {
		return nil
	}

	switch {
	case failed == 0:
		job.Status = domain.JobStatusCompleted
	case completed == 0:
		job.Status = domain.JobStatusFailed
	default:
		job.Status = domain.JobStatusPartial
	}

	// Completions settled in earlier retry rounds were already charged
	// against their own reservations.
	newlyCompleted := completed - job.SettledUnits
	if newlyCompleted < 0 {
		newlyCompleted = 0
	}

	if leftover := job.ReservedUnits - newlyCompleted; leftover > 0 {
		if err := s.ledger.Release(ctx, job.UserID, job.ID, leftover, credits.SettleReleaseKey(job.ID, settleRound(groups))); err != nil {
			return err
		}
		s.appendEvent(ctx, job.ID, domain.EventCreditsReleased, map[string]any{
			"units":  leftover,
			"reason": "settlement",
		})
	}

	job.SettledUnits += newlyCompleted
	job.ReservedUnits = 0

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.appendEvent(ctx, job.ID, domain.EventJobStatus, map[string]any{
		"status":    job.Status,
		"completed": completed,
		"failed":    failed,
	})

	s.log.InfoContext(ctx, "job settled",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("completed", completed),
		slog.Int("failed", failed),
	)

	return nil
}

// settleRound is the highest attempt counter across the job's groups. A
// redelivered callback of the same round reuses the same release key while
// each retry round gets its own.
func settleRound(groups []*domain.CaptureGroup) int {
	round := 0
	for _, g := range groups {
		if g.Attempts > round {
			round = g.Attempts
		}
	}
	return round
}
